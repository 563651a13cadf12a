package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"modelgate/internal/apperr"
	"modelgate/internal/backend"
	"modelgate/internal/store"
	"modelgate/pkg/types"
)

// HealthCheckModel probes one model and records the result. The adapter
// call happens without holding the registry lock.
func (r *Registry) HealthCheckModel(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	e, ok := r.models[id]
	r.mu.RUnlock()
	if !ok {
		return false, apperr.New(apperr.CodeModelNotAvailable, "model %s not found", id)
	}
	return r.probe(ctx, e), nil
}

func (r *Registry) probe(ctx context.Context, e *entry) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("event", "health_check_panic").Str("model_id", e.info.ID).Interface("panic", rec).Msg("")
			healthy = false
		}
	}()
	if e.adapter != nil {
		healthy = e.adapter.HealthCheck(ctx)
	}
	status := types.StatusError
	if healthy {
		status = types.StatusAvailable
	}

	r.mu.Lock()
	cur, ok := r.models[e.info.ID]
	if !ok || cur != e {
		// unregistered while the probe was running
		r.mu.Unlock()
		return healthy
	}
	prev := cur.info.Status
	cur.info.Status = status
	cur.info.LastHealthCheck = r.now().UTC()
	r.mu.Unlock()

	if prev != status {
		r.pub.Publish(Event{Name: EventHealthChanged, ModelID: e.info.ID, Fields: map[string]any{"from": string(prev), "to": string(status)}})
		r.log.Info().Str("event", EventHealthChanged).Str("model_id", e.info.ID).Str("from", string(prev)).Str("to", string(status)).Msg("model health changed")
	}
	return healthy
}

// HealthCheckAll probes every model visible to tenantID concurrently. The
// report is healthy iff every model passed.
func (r *Registry) HealthCheckAll(ctx context.Context, tenantID string) types.HealthReport {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.models))
	for _, e := range r.models {
		if visible(e, tenantID) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]bool, len(entries))
		g       errgroup.Group
	)
	g.SetLimit(r.healthConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			ok := r.probe(ctx, e)
			mu.Lock()
			results[e.info.ID] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := types.HealthReport{Status: types.HealthHealthy, Models: results, CheckedAt: r.now().UTC()}
	for _, ok := range results {
		if !ok {
			report.Status = types.HealthDegraded
			break
		}
	}
	return report
}

// Start reloads every persisted registration and starts the periodic health
// loop. A model whose adapter fails to come up is kept with status error so
// later health checks can recover it.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()
	recs, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		r.reload(ctx, rec)
	}
	r.log.Info().Str("event", "registry_started").Int("models", len(recs)).Dur("health_interval", r.healthInterval).Msg("")

	if r.healthInterval <= 0 {
		return nil
	}
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopCancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.loopCancel = cancel
	r.loopDone = make(chan struct{})
	go r.healthLoop(loopCtx, r.loopDone)
	return nil
}

func (r *Registry) reload(ctx context.Context, rec store.ModelRecord) {
	key := nameKey(rec.TenantID, Slugify(rec.Name))
	r.mu.Lock()
	if _, taken := r.names[key]; taken || r.models[rec.ID] != nil {
		r.mu.Unlock()
		r.log.Warn().Str("event", EventReloadFailed).Str("model_id", rec.ID).Msg("duplicate persisted registration skipped")
		return
	}
	r.names[key] = rec.ID
	r.pending[rec.ID] = struct{}{}
	r.mu.Unlock()

	var adapter backend.Adapter
	var err error
	merged := r.mergedConfig(rec)
	if r.validator != nil {
		err = r.validator.ValidateModelConfig(merged)
	}
	if err == nil {
		adapter, err = r.catalog.Build(rec.BackendType, merged)
	}
	if err == nil {
		err = adapter.Initialize(ctx)
	}
	if err != nil {
		msg := r.sanitize(err.Error())
		r.pub.Publish(Event{Name: EventReloadFailed, ModelID: rec.ID, Fields: map[string]any{"error": msg}})
		r.log.Warn().Str("event", EventReloadFailed).Str("model_id", rec.ID).Str("error", msg).Msg("persisted model kept in error state")
	}

	info := r.infoFrom(rec, adapter)
	if err != nil {
		info.Status = types.StatusError
	}
	r.mu.Lock()
	delete(r.pending, rec.ID)
	r.models[rec.ID] = &entry{info: info, adapter: adapter, nameKey: key}
	r.mu.Unlock()
}

func (r *Registry) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep := r.HealthCheckAll(ctx, types.NoTenant)
			r.log.Debug().Str("event", "health_sweep").Str("status", rep.Status).Int("models", len(rep.Models)).Msg("")
		}
	}
}

// Stop ends the health loop, moves every model to maintenance and shuts its
// adapter down. Persisted records are kept for the next Start.
func (r *Registry) Stop(ctx context.Context) error {
	r.loopMu.Lock()
	cancel, done := r.loopCancel, r.loopDone
	r.loopCancel, r.loopDone = nil, nil
	r.loopMu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.stopped = true
	entries := make([]*entry, 0, len(r.models))
	for _, e := range r.models {
		e.info.Status = types.StatusMaintenance
		entries = append(entries, e)
	}
	r.models = make(map[string]*entry)
	r.names = make(map[string]string)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if e.adapter == nil {
			continue
		}
		if err := e.adapter.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info().Str("event", "registry_stopped").Int("models", len(entries)).Msg("")
	return errors.Join(errs...)
}
