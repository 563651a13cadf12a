package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"modelgate/pkg/types"
)

// ErrNotFound is returned by a Source when the tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Source is the system of record for tenants. Any error other than
// ErrNotFound is treated as the source being unreachable.
type Source interface {
	Lookup(ctx context.Context, id string) (types.TenantInfo, error)
}

// StaticSource serves tenants from configuration.
type StaticSource struct {
	mu      sync.RWMutex
	tenants map[string]types.TenantInfo
}

func NewStaticSource(tenants ...types.TenantInfo) *StaticSource {
	s := &StaticSource{tenants: make(map[string]types.TenantInfo, len(tenants))}
	for _, t := range tenants {
		s.tenants[t.ID] = t
	}
	return s
}

// Put adds or replaces a tenant.
func (s *StaticSource) Put(t types.TenantInfo) {
	s.mu.Lock()
	s.tenants[t.ID] = t
	s.mu.Unlock()
}

func (s *StaticSource) Lookup(_ context.Context, id string) (types.TenantInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return types.TenantInfo{}, ErrNotFound
	}
	return t, nil
}

// HTTPSource fetches tenants from the CRUD application's tenant API:
// GET {base}/tenants/{id} returning a TenantInfo JSON object.
type HTTPSource struct {
	client *resty.Client
}

// NewHTTPSource builds a source for baseURL. transport may be nil; callers
// pass the privacy guard so lookups stay on the local network.
func NewHTTPSource(baseURL string, timeout time.Duration, transport http.RoundTripper) *HTTPSource {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "modelgate/tenant-resolver").
		SetTimeout(timeout)
	if transport != nil {
		c.SetTransport(transport)
	}
	return &HTTPSource{client: c}
}

func (s *HTTPSource) Lookup(ctx context.Context, id string) (types.TenantInfo, error) {
	var out types.TenantInfo
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/tenants/" + url.PathEscape(id))
	if err != nil {
		return types.TenantInfo{}, fmt.Errorf("tenant lookup request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.TenantInfo{}, ErrNotFound
	}
	if resp.IsError() {
		return types.TenantInfo{}, fmt.Errorf("tenant lookup error (%d)", resp.StatusCode())
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}
