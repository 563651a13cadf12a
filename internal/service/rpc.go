package service

import (
	"context"
	"encoding/json"

	"modelgate/internal/apperr"
	"modelgate/internal/protocol"
	"modelgate/pkg/types"
)

// Protocol method names.
const (
	MethodRegister   = "models.register"
	MethodUnregister = "models.unregister"
	MethodGet        = "models.get"
	MethodList       = "models.list"
	MethodHealth     = "models.health"
	MethodComplete   = "inference.complete"
	MethodChat       = "inference.chat"
	MethodEmbed      = "inference.embed"
	MethodClassify   = "inference.classify"
	MethodStats      = "stats"
	NotifyPing       = "ping"
)

type modelParams struct {
	ModelID string `json:"model_id"`
}

type listParams struct {
	Status string `json:"status"`
}

func (p modelParams) require() error {
	if p.ModelID == "" {
		return apperr.New(apperr.CodeInvalidParams, "model_id is required")
	}
	return nil
}

// decoded adapts a typed operation to a protocol handler.
func decoded[P any](fn func(context.Context, P) (any, error)) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

// BindRPC registers the service operations on methods.
func (s *Service) BindRPC(methods *protocol.Methods) {
	methods.Handle(MethodRegister, decoded(func(ctx context.Context, spec types.ModelSpec) (any, error) {
		return s.RegisterModel(ctx, spec)
	}))
	methods.Handle(MethodUnregister, decoded(func(ctx context.Context, p modelParams) (any, error) {
		if err := p.require(); err != nil {
			return nil, err
		}
		if err := s.UnregisterModel(ctx, p.ModelID); err != nil {
			return nil, err
		}
		return map[string]bool{"unregistered": true}, nil
	}))
	methods.Handle(MethodGet, decoded(func(ctx context.Context, p modelParams) (any, error) {
		if err := p.require(); err != nil {
			return nil, err
		}
		return s.GetModel(ctx, p.ModelID)
	}))
	methods.Handle(MethodList, decoded(func(ctx context.Context, p listParams) (any, error) {
		return s.ListModels(ctx, p.Status)
	}))
	methods.Handle(MethodHealth, decoded(func(ctx context.Context, p modelParams) (any, error) {
		if p.ModelID == "" {
			return s.Health(ctx), nil
		}
		return s.ModelHealth(ctx, p.ModelID)
	}))
	methods.Handle(MethodComplete, decoded(func(ctx context.Context, req types.CompletionRequest) (any, error) {
		return s.Complete(ctx, req)
	}))
	methods.Handle(MethodChat, decoded(func(ctx context.Context, req types.ChatRequest) (any, error) {
		return s.Chat(ctx, req)
	}))
	methods.Handle(MethodEmbed, decoded(func(ctx context.Context, req types.EmbeddingRequest) (any, error) {
		return s.Embed(ctx, req)
	}))
	methods.Handle(MethodClassify, decoded(func(ctx context.Context, req types.ClassificationRequest) (any, error) {
		return s.Classify(ctx, req)
	}))
	methods.Handle(MethodStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Stats(ctx), nil
	})
	methods.HandleNotification(NotifyPing, func(ctx context.Context, _ json.RawMessage) {
		s.log.Debug().Str("event", "rpc_ping").Msg("")
	})
}
