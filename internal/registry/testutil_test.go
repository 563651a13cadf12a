package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelgate/internal/apperr"
	"modelgate/internal/backend"
	"modelgate/internal/store"
	"modelgate/pkg/types"
)

const fakeBackend types.BackendType = "fake"

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// fakeAdapter is a controllable backend.Adapter.
type fakeAdapter struct {
	mu        sync.Mutex
	status    types.ModelStatus
	caps      []types.InferenceType
	initErr   error
	healthy   atomic.Bool
	shutdowns atomic.Int32
	cfg       map[string]any
	// entered and gate, when set, hold Initialize until the test releases it.
	entered chan<- struct{}
	gate    <-chan struct{}
}

func (f *fakeAdapter) Initialize(context.Context) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		f.status = types.StatusError
		return f.initErr
	}
	f.status = types.StatusAvailable
	return nil
}

func (f *fakeAdapter) HealthCheck(context.Context) bool {
	ok := f.healthy.Load()
	f.mu.Lock()
	if ok {
		f.status = types.StatusAvailable
	} else {
		f.status = types.StatusError
	}
	f.mu.Unlock()
	return ok
}

func (f *fakeAdapter) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.mu.Lock()
	f.status = types.StatusMaintenance
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Capabilities() []types.InferenceType { return f.caps }

func (f *fakeAdapter) Status() types.ModelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeAdapter) Complete(context.Context, backend.CompletionRequest) (*backend.CompletionResult, error) {
	return &backend.CompletionResult{Text: "ok", FinishReason: "stop"}, nil
}

func (f *fakeAdapter) Chat(context.Context, backend.ChatRequest) (*backend.ChatResult, error) {
	return nil, apperr.New(apperr.CodeNotSupported, "chat")
}

func (f *fakeAdapter) Embed(context.Context, backend.EmbeddingRequest) (*backend.EmbeddingResult, error) {
	return nil, apperr.New(apperr.CodeNotSupported, "embed")
}

func (f *fakeAdapter) Classify(context.Context, backend.ClassificationRequest) (*backend.ClassificationResult, error) {
	return nil, apperr.New(apperr.CodeNotSupported, "classify")
}

// fakeFactory records every adapter it builds. Models whose config has
// "fail_init": true fail to initialize.
type fakeFactory struct {
	mu      sync.Mutex
	built   []*fakeAdapter
	entered chan struct{}
	gate    chan struct{}
}

func (ff *fakeFactory) factory() backend.Factory {
	return backend.Factory{
		Type:                fakeBackend,
		DefaultCapabilities: []types.InferenceType{types.InferenceCompletion},
		Create: func(cfg map[string]any, _ backend.Deps) (backend.Adapter, error) {
			s, err := backend.DecodeSettings(cfg)
			if err != nil {
				return nil, err
			}
			a := &fakeAdapter{status: types.StatusLoading, caps: s.Capabilities, cfg: cfg}
			if len(a.caps) == 0 {
				a.caps = []types.InferenceType{types.InferenceCompletion}
			}
			if v, _ := cfg["fail_init"].(bool); v {
				a.initErr = errors.New("connection refused by http://10.0.0.5:9999")
			}
			a.healthy.Store(true)
			ff.mu.Lock()
			if ff.gate != nil {
				a.entered, a.gate = ff.entered, ff.gate
			}
			ff.built = append(ff.built, a)
			ff.mu.Unlock()
			return a, nil
		},
		ValidateConfig: func(cfg map[string]any) error {
			if _, ok := cfg["model_name"]; !ok {
				return errors.New("model_name is required")
			}
			return nil
		},
	}
}

func (ff *fakeFactory) last() *fakeAdapter {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.built) == 0 {
		return nil
	}
	return ff.built[len(ff.built)-1]
}

type harness struct {
	reg   *Registry
	store store.ConfigStore
	fake  *fakeFactory
	pub   *MemoryPublisher
}

func newHarness(t *testing.T, st store.ConfigStore) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	cat := backend.NewCatalog(backend.Deps{Logger: zerolog.Nop()})
	ff := &fakeFactory{}
	cat.Register(ff.factory())
	pub := NewMemoryPublisher()
	reg := New(Config{
		Catalog:   cat,
		Store:     st,
		Publisher: pub,
		Logger:    zerolog.Nop(),
		Defaults: map[types.BackendType]map[string]any{
			fakeBackend: {"base_url": "http://localhost:1", "timeout": "5s"},
		},
	})
	return &harness{reg: reg, store: st, fake: ff, pub: pub}
}

func fakeSpec(name string) types.ModelSpec {
	return types.ModelSpec{Name: name, BackendType: fakeBackend, Config: map[string]any{"model_name": "llama2"}}
}
