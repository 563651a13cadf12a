//go:build llama

package backend

import (
	"context"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"modelgate/pkg/types"
)

// llamaBuilt reports whether this binary links llama.cpp.
const llamaBuilt = true

// LlamaCppAdapter owns an in-process llama.cpp model. The model is not safe
// for concurrent use, so calls are serialized.
type LlamaCppAdapter struct {
	base
	settings Settings
	deps     Deps

	mu    sync.Mutex
	model *llama.LLama
}

func NewLlamaCpp(cfg map[string]any, deps Deps) (*LlamaCppAdapter, error) {
	s, err := DecodeSettings(cfg)
	if err != nil {
		return nil, err
	}
	return &LlamaCppAdapter{base: newBase(s.capabilitiesOr(llamaCppCapabilities)), settings: s, deps: deps}, nil
}

func (a *LlamaCppAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		return nil
	}
	path, err := resolveModelPath(a.settings)
	if err != nil {
		a.setStatus(types.StatusError)
		return err
	}
	opts := []llama.ModelOption{llama.EnableEmbeddings}
	if a.settings.ContextLength > 0 {
		opts = append(opts, llama.SetContext(a.settings.ContextLength))
	}
	m, err := llama.New(path, opts...)
	if err != nil {
		a.setStatus(types.StatusError)
		return err
	}
	a.model = m
	a.setStatus(types.StatusAvailable)
	a.deps.Logger.Info().Str("event", "backend_ready").Str("backend", string(types.BackendLlamaCpp)).Str("path", path).Msg("llama.cpp model loaded")
	return nil
}

func (a *LlamaCppAdapter) HealthCheck(context.Context) bool {
	a.mu.Lock()
	ok := a.model != nil
	a.mu.Unlock()
	if !ok {
		a.setStatus(types.StatusError)
	}
	return ok
}

func (a *LlamaCppAdapter) Shutdown(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		a.model.Free()
		a.model = nil
	}
	a.setStatus(types.StatusMaintenance)
	return nil
}

func (a *LlamaCppAdapter) predict(ctx context.Context, prompt string, p types.GenerationParams) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		return "", errNotInitialized(types.BackendLlamaCpp)
	}
	a.model.SetTokenCallback(func(string) bool { return ctx.Err() == nil })
	text, err := a.model.Predict(prompt, predictOptions(p, a.settings.Threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (a *LlamaCppAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.require(types.InferenceCompletion); err != nil {
		return nil, err
	}
	text, err := a.predict(ctx, req.Prompt, req.GenerationParams)
	if err != nil {
		return nil, err
	}
	return &CompletionResult{Text: text, FinishReason: "stop"}, nil
}

func (a *LlamaCppAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := a.require(types.InferenceChat); err != nil {
		return nil, err
	}
	params := req.GenerationParams
	params.Stop = append(append([]string(nil), params.Stop...), "\nuser:")
	text, err := a.predict(ctx, chatPrompt(req.Messages), params)
	if err != nil {
		return nil, err
	}
	return &ChatResult{Message: types.ChatMessage{Role: "assistant", Content: strings.TrimSpace(text)}, FinishReason: "stop"}, nil
}

func (a *LlamaCppAdapter) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	if err := a.require(types.InferenceEmbedding); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		return nil, errNotInitialized(types.BackendLlamaCpp)
	}
	out := make([][]float32, 0, len(req.Input))
	for _, in := range req.Input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := a.model.Embeddings(in, llama.SetThreads(max(1, a.settings.Threads)))
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return &EmbeddingResult{Embeddings: out}, nil
}

func (a *LlamaCppAdapter) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	if err := a.require(types.InferenceClassification); err != nil {
		return nil, err
	}
	return classifyWithCompletion(ctx, func(ctx context.Context, r CompletionRequest) (*CompletionResult, error) {
		text, err := a.predict(ctx, r.Prompt, r.GenerationParams)
		if err != nil {
			return nil, err
		}
		return &CompletionResult{Text: text}, nil
	}, req)
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions maps generation params onto go-llama.cpp options.
func predictOptions(p types.GenerationParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(float32(p.TopP), llama.DefaultOptions.TopP)),
		llama.SetTemperature(zf(float32(p.Temperature), llama.DefaultOptions.Temperature)),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(int(p.Seed)))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

var _ Adapter = (*LlamaCppAdapter)(nil)
