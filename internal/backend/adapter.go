package backend

import (
	"context"
	"sync"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

// Adapter is the uniform contract over a model runtime.
type Adapter interface {
	// Initialize prepares the runtime. Calling it again after success is a
	// no-op. On return Status is available or error.
	Initialize(ctx context.Context) error
	// HealthCheck probes the runtime. It never returns an error; failures
	// report false and move the adapter to the error status.
	HealthCheck(ctx context.Context) bool
	// Shutdown releases resources. Safe to call more than once.
	Shutdown(ctx context.Context) error
	Capabilities() []types.InferenceType
	Status() types.ModelStatus

	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error)
	Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error)
}

type CompletionRequest struct {
	Prompt string
	types.GenerationParams
}

type CompletionResult struct {
	Text         string
	FinishReason string
}

type ChatRequest struct {
	Messages []types.ChatMessage
	types.GenerationParams
}

type ChatResult struct {
	Message      types.ChatMessage
	FinishReason string
}

type EmbeddingRequest struct {
	Input []string
}

type EmbeddingResult struct {
	Embeddings [][]float32
}

type ClassificationRequest struct {
	Text   string
	Labels []string
}

type ClassificationResult struct {
	Label  string
	Scores map[string]float64
}

// base carries the status and capability bookkeeping shared by adapters.
type base struct {
	mu     sync.RWMutex
	status types.ModelStatus
	caps   []types.InferenceType
}

func newBase(caps []types.InferenceType) base {
	return base{status: types.StatusLoading, caps: append([]types.InferenceType(nil), caps...)}
}

func (b *base) Status() types.ModelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *base) setStatus(s types.ModelStatus) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *base) Capabilities() []types.InferenceType {
	return append([]types.InferenceType(nil), b.caps...)
}

func (b *base) supports(t types.InferenceType) bool {
	for _, c := range b.caps {
		if c == t {
			return true
		}
	}
	return false
}

// require returns NotSupported unless the adapter serves t.
func (b *base) require(t types.InferenceType) error {
	if b.supports(t) {
		return nil
	}
	return apperr.New(apperr.CodeNotSupported, "%s is not supported by this backend", t)
}

func errNotInitialized(kind types.BackendType) error {
	return apperr.New(apperr.CodeModelNotAvailable, "%s backend is not initialized", kind)
}
