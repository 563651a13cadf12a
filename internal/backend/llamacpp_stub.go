//go:build !llama

package backend

// Without the 'llama' build tag the in-process runtime is unavailable and
// Initialize fails, which rolls back any registration that selects it.

import (
	"context"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

const llamaBuilt = false

func errLlamaNotBuilt() error {
	return apperr.New(apperr.CodeModelNotAvailable, "llama support not built (missing 'llama' build tag)")
}

// LlamaCppAdapter is a stub that refuses to load models.
type LlamaCppAdapter struct {
	base
	settings Settings
}

func NewLlamaCpp(cfg map[string]any, _ Deps) (*LlamaCppAdapter, error) {
	s, err := DecodeSettings(cfg)
	if err != nil {
		return nil, err
	}
	return &LlamaCppAdapter{base: newBase(s.capabilitiesOr(llamaCppCapabilities)), settings: s}, nil
}

func (a *LlamaCppAdapter) Initialize(context.Context) error {
	a.setStatus(types.StatusError)
	return errLlamaNotBuilt()
}

func (a *LlamaCppAdapter) HealthCheck(context.Context) bool {
	a.setStatus(types.StatusError)
	return false
}

func (a *LlamaCppAdapter) Shutdown(context.Context) error {
	a.setStatus(types.StatusMaintenance)
	return nil
}

func (a *LlamaCppAdapter) Complete(context.Context, CompletionRequest) (*CompletionResult, error) {
	if err := a.require(types.InferenceCompletion); err != nil {
		return nil, err
	}
	return nil, errLlamaNotBuilt()
}

func (a *LlamaCppAdapter) Chat(context.Context, ChatRequest) (*ChatResult, error) {
	if err := a.require(types.InferenceChat); err != nil {
		return nil, err
	}
	return nil, errLlamaNotBuilt()
}

func (a *LlamaCppAdapter) Embed(context.Context, EmbeddingRequest) (*EmbeddingResult, error) {
	if err := a.require(types.InferenceEmbedding); err != nil {
		return nil, err
	}
	return nil, errLlamaNotBuilt()
}

func (a *LlamaCppAdapter) Classify(context.Context, ClassificationRequest) (*ClassificationResult, error) {
	if err := a.require(types.InferenceClassification); err != nil {
		return nil, err
	}
	return nil, errLlamaNotBuilt()
}

var _ Adapter = (*LlamaCppAdapter)(nil)
