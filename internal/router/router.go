// Package router admits and dispatches inference calls to registered
// models.
//
// Every call is checked in a fixed order: input privacy, tenant-scoped model
// lookup, capability, input size, then the per-tenant concurrency cap. An
// admitted call holds an in-flight slot until it returns, whatever the
// outcome.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/apperr"
	"modelgate/internal/backend"
	"modelgate/pkg/types"
)

const (
	defaultMaxConcurrent  = 10
	defaultRequestTimeout = 120 * time.Second
	defaultContextLength  = 4096
	retryAfter            = time.Second
)

// Config controls admission.
type Config struct {
	MaxConcurrentPerTenant int
	RequestTimeout         time.Duration
	// DefaultContextLength applies to models that do not declare one.
	DefaultContextLength int
}

// Models is the registry view the router needs.
type Models interface {
	Backend(id, tenantID string) (types.ModelInfo, backend.Adapter, bool)
}

// InputValidator checks inference inputs before they reach a backend.
type InputValidator interface {
	ValidateInferenceRequest(texts ...string) error
}

// Deps are optional collaborators.
type Deps struct {
	Validator InputValidator
	Sanitize  func(string) string
	Logger    zerolog.Logger
	Tracer    trace.Tracer
}

type call struct {
	tenant  string
	modelID string
	kind    types.InferenceType
	started time.Time
}

// Router is safe for concurrent use.
type Router struct {
	cfg      Config
	models   Models
	validate InputValidator
	sanitize func(string) string
	log      zerolog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	inflight map[string]map[string]call
	total    int

	newID func() string
	now   func() time.Time
}

// New returns a Router over models.
func New(cfg Config, models Models, deps Deps) *Router {
	if cfg.MaxConcurrentPerTenant <= 0 {
		cfg.MaxConcurrentPerTenant = defaultMaxConcurrent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DefaultContextLength <= 0 {
		cfg.DefaultContextLength = defaultContextLength
	}
	if deps.Sanitize == nil {
		deps.Sanitize = func(s string) string { return s }
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("modelgate/router")
	}
	return &Router{
		cfg:      cfg,
		models:   models,
		validate: deps.Validator,
		sanitize: deps.Sanitize,
		log:      deps.Logger,
		tracer:   deps.Tracer,
		inflight: make(map[string]map[string]call),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// InFlight returns the number of admitted calls still running.
func (r *Router) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// InFlightFor returns the tenant's admitted calls still running.
func (r *Router) InFlightFor(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight[tenantID])
}

// acquire checks the tenant's cap and records the call in one step.
func (r *Router) acquire(reqID string, c call) (func(), error) {
	r.mu.Lock()
	calls := r.inflight[c.tenant]
	if n := len(calls); n >= r.cfg.MaxConcurrentPerTenant {
		r.mu.Unlock()
		rejectionsTotal.WithLabelValues("rate_limit").Inc()
		return nil, apperr.New(apperr.CodeRateLimitExceeded, "tenant %s has %d requests in flight (limit %d)", c.tenant, n, r.cfg.MaxConcurrentPerTenant).
			WithData(map[string]any{
				"tenant_id":      c.tenant,
				"limit":          r.cfg.MaxConcurrentPerTenant,
				"in_flight":      n,
				"retry_after_ms": retryAfter.Milliseconds(),
			})
	}
	if calls == nil {
		calls = make(map[string]call)
		r.inflight[c.tenant] = calls
	}
	calls[reqID] = c
	r.total++
	r.mu.Unlock()
	inferenceInflight.WithLabelValues(c.tenant).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.inflight[c.tenant], reqID)
			if len(r.inflight[c.tenant]) == 0 {
				delete(r.inflight, c.tenant)
			}
			r.total--
			r.mu.Unlock()
			inferenceInflight.WithLabelValues(c.tenant).Dec()
		})
	}, nil
}

// admitted is what dispatch hands back to the typed entry points.
type admitted struct {
	requestID    string
	info         types.ModelInfo
	promptTokens int
}

// dispatch runs the admission checks and then fn under the request timeout.
func (r *Router) dispatch(ctx context.Context, tenantID, modelID string, kind types.InferenceType, inputs []string, fn func(context.Context, backend.Adapter) error) (ad admitted, err error) {
	defer apperr.Recover(&err)
	defer func() { err = apperr.Boundary(err, r.sanitize) }()

	if r.validate != nil {
		if err := r.validate.ValidateInferenceRequest(inputs...); err != nil {
			rejectionsTotal.WithLabelValues("privacy").Inc()
			return ad, err
		}
	}
	info, adapter, ok := r.models.Backend(modelID, tenantID)
	if !ok {
		rejectionsTotal.WithLabelValues("not_found").Inc()
		return ad, apperr.New(apperr.CodeModelNotAvailable, "model %s not available", modelID)
	}
	if info.Status != types.StatusAvailable {
		rejectionsTotal.WithLabelValues("not_available").Inc()
		return ad, apperr.New(apperr.CodeModelNotAvailable, "model %s is %s", modelID, info.Status).
			WithData(map[string]any{"status": string(info.Status)})
	}
	if !info.Supports(kind) {
		rejectionsTotal.WithLabelValues("capability").Inc()
		return ad, apperr.New(apperr.CodeInvalidParams, "model %s does not support %s", modelID, kind)
	}
	tokens := countWords(inputs...)
	limit := info.ContextLength
	if limit <= 0 {
		limit = r.cfg.DefaultContextLength
	}
	if tokens > limit {
		rejectionsTotal.WithLabelValues("context").Inc()
		return ad, apperr.New(apperr.CodeContextTooLong, "input has %d tokens, model %s accepts %d", tokens, modelID, limit).
			WithData(map[string]any{"tokens": tokens, "max": limit})
	}

	reqID := r.newID()
	release, err := r.acquire(reqID, call{tenant: tenantID, modelID: modelID, kind: kind, started: r.now()})
	if err != nil {
		return ad, err
	}
	defer release()

	ctx, span := r.tracer.Start(ctx, "router."+string(kind), trace.WithAttributes(
		attribute.String("modelgate.request_id", reqID),
		attribute.String("modelgate.model_id", modelID),
		attribute.String("modelgate.backend", string(info.BackendType)),
		attribute.String("modelgate.tenant_id", tenantID),
		attribute.Int("modelgate.prompt_tokens", tokens),
	))
	defer span.End()

	start := r.now()
	err = r.run(ctx, fn, adapter)
	elapsed := r.now().Sub(start)
	inferenceDuration.WithLabelValues(string(kind), string(info.BackendType)).Observe(elapsed.Seconds())

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(apperr.Boundary(err, r.sanitize)))
		span.RecordError(errors.New(r.sanitize(err.Error())))
		span.SetStatus(codes.Error, outcome)
		r.log.Warn().Str("event", "inference_failed").Str("request_id", reqID).Str("model_id", modelID).
			Str("type", string(kind)).Str("code", outcome).Dur("elapsed", elapsed).Msg(r.sanitize(err.Error()))
	} else {
		r.log.Debug().Str("event", "inference_done").Str("request_id", reqID).Str("model_id", modelID).
			Str("type", string(kind)).Dur("elapsed", elapsed).Msg("")
	}
	inferenceTotal.WithLabelValues(string(kind), string(info.BackendType), strings.ToLower(outcome)).Inc()
	if err != nil {
		return ad, err
	}
	return admitted{requestID: reqID, info: info, promptTokens: tokens}, nil
}

// run calls fn in its own goroutine so a runtime that ignores ctx still
// cannot hold the caller past the request timeout.
func (r *Router) run(ctx context.Context, fn func(context.Context, backend.Adapter) error, a backend.Adapter) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("backend panic: %v", p)
			}
		}()
		done <- fn(ctx, a)
	}()
	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.timeout()
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.timeout()
		}
		return ctx.Err()
	}
}

func (r *Router) timeout() error {
	return apperr.New(apperr.CodeTimeout, "backend did not respond within %s", r.cfg.RequestTimeout).
		WithData(map[string]any{"timeout_ms": r.cfg.RequestTimeout.Milliseconds()})
}

// countWords is the token-equivalent used for limits and usage.
func countWords(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(strings.Fields(t))
	}
	return n
}

func usage(prompt, response int) types.Usage {
	return types.Usage{PromptTokens: prompt, ResponseTokens: response, TotalTokens: prompt + response}
}
