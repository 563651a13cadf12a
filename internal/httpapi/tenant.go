package httpapi

import (
	"net/http"
	"time"

	"modelgate/internal/tenant"
	"modelgate/pkg/types"
)

// TenantResolver maps a request onto the tenant it acts for.
type TenantResolver interface {
	ResolveRequest(r *http.Request) (types.TenantInfo, error)
}

// TenantMiddleware resolves the caller's tenant and stores it in the
// request context. Resolution failures end the request with 403.
func TenantMiddleware(res TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := res.ResolveRequest(r)
			if err != nil {
				status := writeError(w, err)
				logEnd(r, "tenant_denied", status, time.Now(), err)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), info)))
		})
	}
}
