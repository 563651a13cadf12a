package router

import (
	"context"

	"modelgate/internal/apperr"
	"modelgate/internal/backend"
	"modelgate/pkg/types"
)

func validateParams(p types.GenerationParams) error {
	switch {
	case p.MaxTokens < 0:
		return apperr.New(apperr.CodeInvalidParams, "max_tokens must not be negative")
	case p.Temperature < 0 || p.Temperature > 2:
		return apperr.New(apperr.CodeInvalidParams, "temperature must be within [0, 2]")
	case p.TopP < 0 || p.TopP > 1:
		return apperr.New(apperr.CodeInvalidParams, "top_p must be within [0, 1]")
	}
	return nil
}

// Complete runs a text completion for tenantID.
func (r *Router) Complete(ctx context.Context, tenantID string, req types.CompletionRequest) (*types.CompletionResponse, error) {
	if req.Prompt == "" {
		return nil, apperr.New(apperr.CodeInvalidParams, "prompt is required")
	}
	if err := validateParams(req.GenerationParams); err != nil {
		return nil, err
	}
	var res *backend.CompletionResult
	ad, err := r.dispatch(ctx, tenantID, req.ModelID, types.InferenceCompletion, []string{req.Prompt},
		func(ctx context.Context, a backend.Adapter) error {
			var err error
			res, err = a.Complete(ctx, backend.CompletionRequest{Prompt: req.Prompt, GenerationParams: req.GenerationParams})
			return err
		})
	if err != nil {
		return nil, err
	}
	return &types.CompletionResponse{
		RequestID:    ad.requestID,
		ModelID:      req.ModelID,
		Text:         res.Text,
		FinishReason: res.FinishReason,
		Usage:        usage(ad.promptTokens, countWords(res.Text)),
		CreatedAt:    r.now().UTC(),
	}, nil
}

// Chat runs a chat turn for tenantID.
func (r *Router) Chat(ctx context.Context, tenantID string, req types.ChatRequest) (*types.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "messages are required")
	}
	if err := validateParams(req.GenerationParams); err != nil {
		return nil, err
	}
	texts := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		texts[i] = m.Content
	}
	var res *backend.ChatResult
	ad, err := r.dispatch(ctx, tenantID, req.ModelID, types.InferenceChat, texts,
		func(ctx context.Context, a backend.Adapter) error {
			var err error
			res, err = a.Chat(ctx, backend.ChatRequest{Messages: req.Messages, GenerationParams: req.GenerationParams})
			return err
		})
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		RequestID:    ad.requestID,
		ModelID:      req.ModelID,
		Message:      res.Message,
		FinishReason: res.FinishReason,
		Usage:        usage(ad.promptTokens, countWords(res.Message.Content)),
		CreatedAt:    r.now().UTC(),
	}, nil
}

// Embed computes one embedding per input for tenantID.
func (r *Router) Embed(ctx context.Context, tenantID string, req types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "input is required")
	}
	var res *backend.EmbeddingResult
	ad, err := r.dispatch(ctx, tenantID, req.ModelID, types.InferenceEmbedding, req.Input,
		func(ctx context.Context, a backend.Adapter) error {
			var err error
			res, err = a.Embed(ctx, backend.EmbeddingRequest{Input: req.Input})
			return err
		})
	if err != nil {
		return nil, err
	}
	return &types.EmbeddingResponse{
		RequestID:  ad.requestID,
		ModelID:    req.ModelID,
		Embeddings: res.Embeddings,
		Usage:      usage(ad.promptTokens, 0),
		CreatedAt:  r.now().UTC(),
	}, nil
}

// Classify assigns one of req.Labels to req.Text for tenantID.
func (r *Router) Classify(ctx context.Context, tenantID string, req types.ClassificationRequest) (*types.ClassificationResponse, error) {
	if req.Text == "" {
		return nil, apperr.New(apperr.CodeInvalidParams, "text is required")
	}
	if len(req.Labels) == 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "labels are required")
	}
	var res *backend.ClassificationResult
	ad, err := r.dispatch(ctx, tenantID, req.ModelID, types.InferenceClassification, []string{req.Text},
		func(ctx context.Context, a backend.Adapter) error {
			var err error
			res, err = a.Classify(ctx, backend.ClassificationRequest{Text: req.Text, Labels: req.Labels})
			return err
		})
	if err != nil {
		return nil, err
	}
	return &types.ClassificationResponse{
		RequestID: ad.requestID,
		ModelID:   req.ModelID,
		Label:     res.Label,
		Scores:    res.Scores,
		Usage:     usage(ad.promptTokens, 0),
		CreatedAt: r.now().UTC(),
	}, nil
}
