package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"modelgate/pkg/types"
)

var ollamaCapabilities = []types.InferenceType{
	types.InferenceCompletion,
	types.InferenceChat,
	types.InferenceEmbedding,
}

func ollamaFactory() Factory {
	return Factory{
		Type:                types.BackendOllama,
		Description:         "Local Ollama server (HTTP)",
		DefaultCapabilities: ollamaCapabilities,
		Create: func(cfg map[string]any, deps Deps) (Adapter, error) {
			return NewOllama(cfg, deps)
		},
		ValidateConfig: func(cfg map[string]any) error {
			s, err := DecodeSettings(cfg)
			if err != nil {
				return err
			}
			if s.BaseURL == "" || s.ModelName == "" {
				return fmt.Errorf("ollama backend requires base_url and model_name")
			}
			return nil
		},
	}
}

// OllamaAdapter talks to a local Ollama server.
type OllamaAdapter struct {
	base
	settings Settings
	deps     Deps
	client   *resty.Client
	retry    retryPolicy

	initMu      sync.Mutex
	initialized bool
	closed      bool
}

// NewOllama builds an uninitialized adapter.
func NewOllama(cfg map[string]any, deps Deps) (*OllamaAdapter, error) {
	s, err := DecodeSettings(cfg)
	if err != nil {
		return nil, err
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(s.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "modelgate/ollama").
		SetTimeout(s.Timeout).
		SetTransport(deps.transport())
	return &OllamaAdapter{
		base:     newBase(s.capabilitiesOr(ollamaCapabilities)),
		settings: s,
		deps:     deps,
		client:   c,
		retry:    retryPolicy{maxAttempts: s.MaxRetries, delay: s.RetryDelay, sanitize: deps.Sanitize},
	}, nil
}

type ollamaTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int64    `json:"seed,omitempty"`
}

func optionsFrom(p types.GenerationParams) *ollamaOptions {
	o := &ollamaOptions{NumPredict: p.MaxTokens, TopP: p.TopP, Stop: p.Stop, Seed: p.Seed}
	if p.Temperature > 0 {
		t := p.Temperature
		o.Temperature = &t
	}
	return o
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message    types.ChatMessage `json:"message"`
	DoneReason string            `json:"done_reason"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Initialize checks the server is reachable and has the model pulled.
func (a *OllamaAdapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}
	if err := a.deps.validateURL(a.settings.BaseURL); err != nil {
		a.setStatus(types.StatusError)
		return err
	}
	if err := a.checkModel(ctx); err != nil {
		a.setStatus(types.StatusError)
		return err
	}
	a.initialized = true
	a.closed = false
	a.setStatus(types.StatusAvailable)
	a.deps.Logger.Debug().Str("event", "backend_ready").Str("backend", string(types.BackendOllama)).Str("model", a.settings.ModelName).Msg("ollama model available")
	return nil
}

func (a *OllamaAdapter) checkModel(ctx context.Context) error {
	var tags ollamaTags
	if err := a.call(ctx, "GET", "/api/tags", nil, &tags); err != nil {
		return err
	}
	want := a.settings.ModelName
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return nil
		}
	}
	return fmt.Errorf("model %q is not available on the ollama server", want)
}

// HealthCheck re-lists tags and confirms the model is still present. An
// adapter whose initialization failed is retried here so it can recover.
func (a *OllamaAdapter) HealthCheck(ctx context.Context) bool {
	a.initMu.Lock()
	closed, initialized := a.closed, a.initialized
	a.initMu.Unlock()
	if closed {
		return false
	}
	if !initialized {
		return a.Initialize(ctx) == nil
	}
	if err := a.checkModel(ctx); err != nil {
		a.setStatus(types.StatusError)
		return false
	}
	a.setStatus(types.StatusAvailable)
	return true
}

// Shutdown drops idle connections. Ollama manages model memory itself.
func (a *OllamaAdapter) Shutdown(context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.initialized = false
	a.client.GetClient().CloseIdleConnections()
	a.setStatus(types.StatusMaintenance)
	return nil
}

func (a *OllamaAdapter) ready() error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if !a.initialized {
		return errNotInitialized(types.BackendOllama)
	}
	return nil
}

func (a *OllamaAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.require(types.InferenceCompletion); err != nil {
		return nil, err
	}
	return a.completeRaw(ctx, req)
}

func (a *OllamaAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := a.require(types.InferenceChat); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	var out ollamaChatResponse
	body := ollamaChatRequest{Model: a.settings.ModelName, Messages: req.Messages, Options: optionsFrom(req.GenerationParams)}
	if err := a.call(ctx, "POST", "/api/chat", body, &out); err != nil {
		return nil, err
	}
	if out.Message.Role == "" {
		out.Message.Role = "assistant"
	}
	return &ChatResult{Message: out.Message, FinishReason: finishReason(out.DoneReason)}, nil
}

func (a *OllamaAdapter) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	if err := a.require(types.InferenceEmbedding); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	var out ollamaEmbedResponse
	if err := a.call(ctx, "POST", "/api/embed", ollamaEmbedRequest{Model: a.settings.ModelName, Input: req.Input}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(req.Input) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(req.Input))
	}
	return &EmbeddingResult{Embeddings: out.Embeddings}, nil
}

func (a *OllamaAdapter) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	if err := a.require(types.InferenceClassification); err != nil {
		return nil, err
	}
	return classifyWithCompletion(ctx, a.completeRaw, req)
}

// completeRaw skips the capability check so classification can reuse the
// generate endpoint on models that do not advertise completion.
func (a *OllamaAdapter) completeRaw(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var out ollamaGenerateResponse
	body := ollamaGenerateRequest{Model: a.settings.ModelName, Prompt: req.Prompt, Options: optionsFrom(req.GenerationParams)}
	if err := a.call(ctx, "POST", "/api/generate", body, &out); err != nil {
		return nil, err
	}
	return &CompletionResult{Text: out.Response, FinishReason: finishReason(out.DoneReason)}, nil
}

// call performs one JSON request with retries.
func (a *OllamaAdapter) call(ctx context.Context, method, path string, body, out any) error {
	return a.retry.do(ctx, func(ctx context.Context) error {
		r := a.client.R().SetContext(ctx).SetResult(out)
		if body != nil {
			r.SetBody(body)
		}
		resp, err := r.Execute(method, path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &statusError{code: resp.StatusCode(), body: truncate(a.deps.sanitize(resp.String()), 256)}
		}
		return nil
	})
}

func finishReason(s string) string {
	if s == "" {
		return "stop"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Adapter = (*OllamaAdapter)(nil)

