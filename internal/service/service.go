// Package service exposes the gateway operations to transports. The
// caller's tenant is read from the request context, which the HTTP layer
// fills through the tenant resolver.
package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"modelgate/internal/apperr"
	"modelgate/internal/registry"
	"modelgate/internal/router"
	"modelgate/internal/tenant"
	"modelgate/pkg/types"
)

// Options are optional collaborators.
type Options struct {
	Sanitize func(string) string
	Logger   zerolog.Logger
}

// Service is safe for concurrent use.
type Service struct {
	reg      *registry.Registry
	router   *router.Router
	sanitize func(string) string
	log      zerolog.Logger
	ready    atomic.Bool
}

func New(reg *registry.Registry, rt *router.Router, opts Options) *Service {
	if opts.Sanitize == nil {
		opts.Sanitize = func(s string) string { return s }
	}
	return &Service{reg: reg, router: rt, sanitize: opts.Sanitize, log: opts.Logger}
}

// Start reloads persisted models and marks the service ready.
func (s *Service) Start(ctx context.Context) error {
	if err := s.reg.Start(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	s.log.Info().Str("event", "service_ready").Int("models", len(s.reg.List(types.NoTenant, nil))).Msg("")
	return nil
}

// Stop shuts every model down. The service reports not ready afterwards.
func (s *Service) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return s.reg.Stop(ctx)
}

func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) boundary(err error) error { return apperr.Boundary(err, s.sanitize) }

// RegisterModel registers spec under the caller's tenant.
func (s *Service) RegisterModel(ctx context.Context, spec types.ModelSpec) (*types.RegisterResponse, error) {
	id, err := s.reg.Register(ctx, spec, tenant.IDFromContext(ctx))
	if err != nil {
		return nil, s.boundary(err)
	}
	return &types.RegisterResponse{ModelID: id}, nil
}

func (s *Service) UnregisterModel(ctx context.Context, id string) error {
	return s.boundary(s.reg.Unregister(ctx, id, tenant.IDFromContext(ctx)))
}

// GetModel returns a model visible to the caller.
func (s *Service) GetModel(ctx context.Context, id string) (types.ModelInfo, error) {
	info, ok := s.reg.Get(id, tenant.IDFromContext(ctx))
	if !ok {
		return types.ModelInfo{}, apperr.New(apperr.CodeModelNotAvailable, "model %s not found", id)
	}
	return info, nil
}

// ListModels lists the caller's models, optionally filtered by status.
func (s *Service) ListModels(ctx context.Context, status string) (*types.ModelsResponse, error) {
	var filter *types.ModelStatus
	if status != "" {
		st := types.ModelStatus(status)
		if !st.Valid() {
			return nil, apperr.New(apperr.CodeInvalidParams, "unknown status %q", status)
		}
		filter = &st
	}
	return &types.ModelsResponse{Models: s.reg.List(tenant.IDFromContext(ctx), filter)}, nil
}

// Health probes every model visible to the caller.
func (s *Service) Health(ctx context.Context) types.HealthReport {
	return s.reg.HealthCheckAll(ctx, tenant.IDFromContext(ctx))
}

// ModelHealth probes one model visible to the caller.
func (s *Service) ModelHealth(ctx context.Context, id string) (*types.ModelHealthResponse, error) {
	if _, err := s.GetModel(ctx, id); err != nil {
		return nil, err
	}
	healthy, err := s.reg.HealthCheckModel(ctx, id)
	if err != nil {
		return nil, s.boundary(err)
	}
	out := &types.ModelHealthResponse{ModelID: id, Healthy: healthy}
	if info, ok := s.reg.Get(id, tenant.IDFromContext(ctx)); ok {
		out.Status = info.Status
	}
	return out, nil
}

func (s *Service) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error) {
	res, err := s.router.Complete(ctx, tenant.IDFromContext(ctx), req)
	return res, s.boundary(err)
}

func (s *Service) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	res, err := s.router.Chat(ctx, tenant.IDFromContext(ctx), req)
	return res, s.boundary(err)
}

func (s *Service) Embed(ctx context.Context, req types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	res, err := s.router.Embed(ctx, tenant.IDFromContext(ctx), req)
	return res, s.boundary(err)
}

func (s *Service) Classify(ctx context.Context, req types.ClassificationRequest) (*types.ClassificationResponse, error) {
	res, err := s.router.Classify(ctx, tenant.IDFromContext(ctx), req)
	return res, s.boundary(err)
}

// Stats summarises the caller's models. The admin view counts every
// in-flight call, a tenant view only its own.
func (s *Service) Stats(ctx context.Context) types.Stats {
	id := tenant.IDFromContext(ctx)
	inFlight := s.router.InFlightFor(id)
	if id == types.NoTenant {
		inFlight = s.router.InFlight()
	}
	return s.reg.Stats(id, inFlight)
}

// IsClientError reports whether err is the caller's fault.
func IsClientError(err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode() < 500
}
