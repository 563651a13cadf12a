package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"modelgate/pkg/types"
)

var openAICapabilities = []types.InferenceType{
	types.InferenceCompletion,
	types.InferenceChat,
	types.InferenceEmbedding,
}

func openAIFactory() Factory {
	return Factory{
		Type:                types.BackendOpenAI,
		Description:         "Local OpenAI-compatible server (vLLM, llama-server, LM Studio)",
		DefaultCapabilities: openAICapabilities,
		Create: func(cfg map[string]any, deps Deps) (Adapter, error) {
			return NewOpenAI(cfg, deps)
		},
		ValidateConfig: func(cfg map[string]any) error {
			s, err := DecodeSettings(cfg)
			if err != nil {
				return err
			}
			if s.BaseURL == "" || s.ModelName == "" {
				return fmt.Errorf("openai backend requires base_url and model_name")
			}
			return nil
		},
	}
}

// OpenAIAdapter talks to a local server exposing the OpenAI API.
type OpenAIAdapter struct {
	base
	settings Settings
	deps     Deps
	client   *openai.Client
	httpc    *http.Client
	retry    retryPolicy

	initMu      sync.Mutex
	initialized bool
	closed      bool
}

// NewOpenAI builds an uninitialized adapter. base_url must include the API
// version prefix, e.g. http://localhost:8000/v1.
func NewOpenAI(cfg map[string]any, deps Deps) (*OpenAIAdapter, error) {
	s, err := DecodeSettings(cfg)
	if err != nil {
		return nil, err
	}
	httpc := &http.Client{Transport: deps.transport(), Timeout: s.Timeout}
	oc := openai.DefaultConfig(s.APIKey)
	oc.BaseURL = strings.TrimRight(s.BaseURL, "/")
	oc.HTTPClient = httpc
	return &OpenAIAdapter{
		base:     newBase(s.capabilitiesOr(openAICapabilities)),
		settings: s,
		deps:     deps,
		client:   openai.NewClientWithConfig(oc),
		httpc:    httpc,
		retry:    retryPolicy{maxAttempts: s.MaxRetries, delay: s.RetryDelay, sanitize: deps.Sanitize},
	}, nil
}

func (a *OpenAIAdapter) Initialize(ctx context.Context) error {
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
	a.deps.Logger.Debug().Str("event", "backend_ready").Str("backend", string(types.BackendOpenAI)).Str("model", a.settings.ModelName).Msg("openai-compatible model available")
	return nil
}

// checkModel lists models. Servers hosting a single model often report it
// under their own id, so any lone model is accepted.
func (a *OpenAIAdapter) checkModel(ctx context.Context) error {
	var list openai.ModelsList
	err := a.retry.do(ctx, func(ctx context.Context) error {
		var err error
		list, err = a.client.ListModels(ctx)
		return classifyOpenAIError(err)
	})
	if err != nil {
		return err
	}
	for _, m := range list.Models {
		if m.ID == a.settings.ModelName {
			return nil
		}
	}
	if len(list.Models) == 1 {
		return nil
	}
	return fmt.Errorf("model %q is not served by %s", a.settings.ModelName, a.settings.BaseURL)
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) bool {
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

func (a *OpenAIAdapter) Shutdown(context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.initialized = false
	a.httpc.CloseIdleConnections()
	a.setStatus(types.StatusMaintenance)
	return nil
}

func (a *OpenAIAdapter) ready() error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if !a.initialized {
		return errNotInitialized(types.BackendOpenAI)
	}
	return nil
}

func seedPtr(v int64) *int {
	if v == 0 {
		return nil
	}
	s := int(v)
	return &s
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.require(types.InferenceCompletion); err != nil {
		return nil, err
	}
	return a.completeRaw(ctx, req)
}

func (a *OpenAIAdapter) completeRaw(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var resp openai.CompletionResponse
	err := a.retry.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = a.client.CreateCompletion(ctx, openai.CompletionRequest{
			Model:       a.settings.ModelName,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
			TopP:        float32(req.TopP),
			Stop:        req.Stop,
		})
		return classifyOpenAIError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai-compatible server returned no choices")
	}
	return &CompletionResult{Text: resp.Choices[0].Text, FinishReason: finishReason(resp.Choices[0].FinishReason)}, nil
}

func (a *OpenAIAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := a.require(types.InferenceChat); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	var resp openai.ChatCompletionResponse
	err := a.retry.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.settings.ModelName,
			Messages:    msgs,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
			TopP:        float32(req.TopP),
			Stop:        req.Stop,
			Seed:        seedPtr(req.Seed),
		})
		return classifyOpenAIError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai-compatible server returned no choices")
	}
	c := resp.Choices[0]
	role := c.Message.Role
	if role == "" {
		role = openai.ChatMessageRoleAssistant
	}
	return &ChatResult{
		Message:      types.ChatMessage{Role: role, Content: c.Message.Content},
		FinishReason: finishReason(string(c.FinishReason)),
	}, nil
}

func (a *OpenAIAdapter) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	if err := a.require(types.InferenceEmbedding); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	var resp openai.EmbeddingResponse
	err := a.retry.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: req.Input,
			Model: openai.EmbeddingModel(a.settings.ModelName),
		})
		return classifyOpenAIError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(req.Input) {
		return nil, fmt.Errorf("openai-compatible server returned %d embeddings for %d inputs", len(resp.Data), len(req.Input))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return &EmbeddingResult{Embeddings: out}, nil
}

func (a *OpenAIAdapter) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	if err := a.require(types.InferenceClassification); err != nil {
		return nil, err
	}
	return classifyWithCompletion(ctx, a.completeRaw, req)
}

// classifyOpenAIError maps client errors onto statusError so the retry
// policy can tell 5xx/429 from permanent failures.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &statusError{code: apiErr.HTTPStatusCode, body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &statusError{code: reqErr.HTTPStatusCode, body: truncate(reqErr.Error(), 256)}
	}
	return err
}

var _ Adapter = (*OpenAIAdapter)(nil)
