package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"modelgate/internal/apperr"
	"modelgate/internal/protocol"
	"modelgate/internal/tenant"
	"modelgate/pkg/types"
)

// fakeResolver accepts any tenant except "blocked"; a missing header maps
// to "default".
type fakeResolver struct{}

func (fakeResolver) ResolveRequest(r *http.Request) (types.TenantInfo, error) {
	id := r.Header.Get("X-Tenant-ID")
	switch id {
	case "":
		id = "default"
	case "blocked":
		return types.TenantInfo{}, apperr.New(apperr.CodeTenantAccessDenied, "tenant %s is inactive", id)
	}
	return types.TenantInfo{ID: id, Active: true}, nil
}

// mockService records the tenant of each call and returns canned values.
type mockService struct {
	mu      sync.Mutex
	ready   bool
	err     error
	tenants []string
	models  []types.ModelInfo
	spec    types.ModelSpec
}

func (m *mockService) seen(ctx context.Context) {
	m.mu.Lock()
	m.tenants = append(m.tenants, tenant.IDFromContext(ctx))
	m.mu.Unlock()
}

func (m *mockService) lastTenant() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tenants) == 0 {
		return ""
	}
	return m.tenants[len(m.tenants)-1]
}

func (m *mockService) RegisterModel(ctx context.Context, spec types.ModelSpec) (*types.RegisterResponse, error) {
	m.seen(ctx)
	if m.err != nil {
		return nil, m.err
	}
	m.spec = spec
	return &types.RegisterResponse{ModelID: tenant.IDFromContext(ctx) + "_" + string(spec.BackendType) + "_" + spec.Name}, nil
}

func (m *mockService) UnregisterModel(ctx context.Context, id string) error {
	m.seen(ctx)
	return m.err
}

func (m *mockService) GetModel(ctx context.Context, id string) (types.ModelInfo, error) {
	m.seen(ctx)
	for _, mi := range m.models {
		if mi.ID == id {
			return mi, nil
		}
	}
	return types.ModelInfo{}, apperr.New(apperr.CodeModelNotAvailable, "model %s not found", id)
}

func (m *mockService) ListModels(ctx context.Context, status string) (*types.ModelsResponse, error) {
	m.seen(ctx)
	if status == "bogus" {
		return nil, apperr.New(apperr.CodeInvalidParams, "unknown status %q", status)
	}
	return &types.ModelsResponse{Models: m.models}, nil
}

func (m *mockService) Health(ctx context.Context) types.HealthReport {
	m.seen(ctx)
	return types.HealthReport{Status: types.HealthHealthy, Models: map[string]bool{}}
}

func (m *mockService) ModelHealth(ctx context.Context, id string) (*types.ModelHealthResponse, error) {
	m.seen(ctx)
	return &types.ModelHealthResponse{ModelID: id, Healthy: true, Status: types.StatusAvailable}, nil
}

func (m *mockService) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error) {
	m.seen(ctx)
	if m.err != nil {
		return nil, m.err
	}
	return &types.CompletionResponse{RequestID: "r1", ModelID: req.ModelID, Text: "echo: " + req.Prompt}, nil
}

func (m *mockService) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	m.seen(ctx)
	return &types.ChatResponse{ModelID: req.ModelID, Message: types.ChatMessage{Role: "assistant", Content: "hi"}}, m.err
}

func (m *mockService) Embed(ctx context.Context, req types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	m.seen(ctx)
	return &types.EmbeddingResponse{ModelID: req.ModelID, Embeddings: [][]float32{{1, 2}}}, m.err
}

func (m *mockService) Classify(ctx context.Context, req types.ClassificationRequest) (*types.ClassificationResponse, error) {
	m.seen(ctx)
	return &types.ClassificationResponse{ModelID: req.ModelID, Label: req.Labels[0]}, m.err
}

func (m *mockService) Stats(ctx context.Context) types.Stats {
	m.seen(ctx)
	return types.Stats{TotalModels: len(m.models)}
}

func (m *mockService) Ready() bool { return m.ready }

func (m *mockService) BindRPC(methods *protocol.Methods) {
	methods.Handle("inference.complete", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req types.CompletionRequest
		if err := protocol.DecodeParams(raw, &req); err != nil {
			return nil, err
		}
		return m.Complete(ctx, req)
	})
	methods.Handle("boom", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("backend at http://10.1.2.3:8080 exploded")
	})
	methods.HandleNotification("ping", func(context.Context, json.RawMessage) {})
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) types.Envelope {
	t.Helper()
	var env struct {
		types.Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("envelope json: %v body=%s", err, w.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("data json: %v", err)
		}
	}
	return env.Envelope
}
