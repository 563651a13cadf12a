package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

type countingSource struct {
	calls atomic.Int32
	inner Source
	delay time.Duration
}

func (c *countingSource) Lookup(ctx context.Context, id string) (types.TenantInfo, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Lookup(ctx, id)
}

type downSource struct{}

func (downSource) Lookup(context.Context, string) (types.TenantInfo, error) {
	return types.TenantInfo{}, errors.New("connection refused")
}

func newResolver(src Source, ttl time.Duration) *Resolver {
	return NewResolver(Config{IsolationEnabled: true, DefaultTenant: "default", CacheTTL: ttl}, src, zerolog.Nop())
}

func TestResolveActiveTenantIsCached(t *testing.T) {
	src := &countingSource{inner: NewStaticSource(types.TenantInfo{ID: "acme", Active: true})}
	r := newResolver(src, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.ID)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolveCacheExpires(t *testing.T) {
	src := &countingSource{inner: NewStaticSource(types.TenantInfo{ID: "acme", Active: true})}
	r := newResolver(src, 20*time.Millisecond)

	_, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolveConcurrentMissesShareLookup(t *testing.T) {
	src := &countingSource{inner: NewStaticSource(types.TenantInfo{ID: "acme", Active: true}), delay: 30 * time.Millisecond}
	r := newResolver(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "acme")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolveRejectsInactiveAndUnknown(t *testing.T) {
	r := newResolver(NewStaticSource(types.TenantInfo{ID: "old", Active: false}), time.Minute)

	_, err := r.Resolve(context.Background(), "old")
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))

	_, err = r.Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))
}

func TestResolveUnreachableSource(t *testing.T) {
	r := newResolver(downSource{}, time.Minute)

	got, err := r.Resolve(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "default", got.ID)

	_, err = r.Resolve(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, apperr.IsTenantAccessDenied(err))
	assert.NotContains(t, err.Error(), "connection refused", "source failure must stay out of the caller-facing message")
	assert.ErrorContains(t, errors.Unwrap(err), "connection refused")
}

func TestIsolationDisabledUsesDefault(t *testing.T) {
	r := NewResolver(Config{IsolationEnabled: false, DefaultTenant: "default"}, downSource{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	got, err := r.ResolveRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "default", got.ID)
}

func TestIdentifierFrom(t *testing.T) {
	r := newResolver(NewStaticSource(), time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "default", r.IdentifierFrom(req))
	req.Header.Set("X-Tenant-ID", " acme ")
	assert.Equal(t, "acme", r.IdentifierFrom(req))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tenants/acme":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"acme","slug":"acme-corp","name":"Acme","active":true}`))
		case "/api/tenants/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/api", time.Second, nil)
	got, err := src.Lookup(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", got.Slug)
	assert.True(t, got.Active)

	_, err = src.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Lookup(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, types.NoTenant, IDFromContext(ctx))
	ctx = WithTenant(ctx, types.TenantInfo{ID: "acme", Active: true})
	assert.Equal(t, "acme", IDFromContext(ctx))
}
