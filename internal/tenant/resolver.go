// Package tenant resolves the calling tenant and caches lookups against the
// tenant system of record.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

const (
	defaultHeader    = "X-Tenant-ID"
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 1024
)

// Config tunes a Resolver.
type Config struct {
	IsolationEnabled bool
	DefaultTenant    string
	Header           string
	CacheTTL         time.Duration
	CacheSize        int
}

// Resolver maps inbound calls to an active tenant.
type Resolver struct {
	cfg   Config
	src   Source
	cache *expirable.LRU[string, types.TenantInfo]
	group singleflight.Group
	log   zerolog.Logger
}

// NewResolver returns a Resolver backed by src.
func NewResolver(cfg Config, src Source, log zerolog.Logger) *Resolver {
	if cfg.Header == "" {
		cfg.Header = defaultHeader
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	return &Resolver{
		cfg:   cfg,
		src:   src,
		cache: expirable.NewLRU[string, types.TenantInfo](cfg.CacheSize, nil, cfg.CacheTTL),
		log:   log,
	}
}

// Header is the request header carrying the tenant id.
func (r *Resolver) Header() string { return r.cfg.Header }

// IdentifierFrom extracts the tenant id from a request. A missing header
// yields the default tenant, as does any request when isolation is off.
func (r *Resolver) IdentifierFrom(req *http.Request) string {
	if !r.cfg.IsolationEnabled {
		return r.cfg.DefaultTenant
	}
	if id := strings.TrimSpace(req.Header.Get(r.cfg.Header)); id != "" {
		return id
	}
	return r.cfg.DefaultTenant
}

// ResolveRequest extracts and resolves the tenant of req.
func (r *Resolver) ResolveRequest(req *http.Request) (types.TenantInfo, error) {
	return r.Resolve(req.Context(), r.IdentifierFrom(req))
}

// Resolve returns the active tenant for id. Results are cached for the
// configured TTL and concurrent misses share one lookup.
func (r *Resolver) Resolve(ctx context.Context, id string) (types.TenantInfo, error) {
	if !r.cfg.IsolationEnabled {
		id = r.cfg.DefaultTenant
	}
	if id == "" {
		return types.TenantInfo{}, apperr.New(apperr.CodeTenantAccessDenied, "tenant id required")
	}
	if t, ok := r.cache.Get(id); ok {
		return t, nil
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.fetch(ctx, id)
	})
	if err != nil {
		return types.TenantInfo{}, err
	}
	return v.(types.TenantInfo), nil
}

func (r *Resolver) fetch(ctx context.Context, id string) (types.TenantInfo, error) {
	t, err := r.src.Lookup(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return types.TenantInfo{}, apperr.New(apperr.CodeTenantAccessDenied, "unknown tenant %q", id)
	case id == r.cfg.DefaultTenant:
		r.log.Warn().Str("event", "tenant_source_unreachable").Str("tenant_id", id).Err(err).Msg("using synthesized default tenant")
		t = types.TenantInfo{ID: id, Slug: id, Name: "Default", Active: true}
	default:
		r.log.Warn().Str("event", "tenant_source_unreachable").Str("tenant_id", id).Err(err).Msg("tenant lookup failed")
		return types.TenantInfo{}, &apperr.Error{
			Code:    apperr.CodeTenantAccessDenied,
			Message: fmt.Sprintf("tenant %q could not be verified", id),
			Err:     err,
		}
	}
	if !t.Active {
		return types.TenantInfo{}, apperr.New(apperr.CodeTenantAccessDenied, "tenant %q is inactive", id)
	}
	r.cache.Add(id, t)
	return t, nil
}

// Invalidate drops id from the cache.
func (r *Resolver) Invalidate(id string) { r.cache.Remove(id) }

type ctxKey struct{}

// WithTenant stores t in ctx.
func WithTenant(ctx context.Context, t types.TenantInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tenant stored by WithTenant.
func FromContext(ctx context.Context) (types.TenantInfo, bool) {
	t, ok := ctx.Value(ctxKey{}).(types.TenantInfo)
	return t, ok
}

// IDFromContext returns the tenant id in ctx, or types.NoTenant.
func IDFromContext(ctx context.Context) string {
	if t, ok := FromContext(ctx); ok {
		return t.ID
	}
	return types.NoTenant
}
