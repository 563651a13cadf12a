// Package registry owns the set of registered models, their tenant
// ownership and status, and the live backend adapter behind each one.
//
// The registry is the only writer of its model map. Adapter calls
// (initialize, health checks, shutdown) always run outside the registry
// lock so a slow backend never blocks lookups on the inference path.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelgate/internal/apperr"
	"modelgate/internal/backend"
	"modelgate/internal/store"
	"modelgate/pkg/types"
)

// ConfigValidator checks a merged model config before it is persisted.
type ConfigValidator interface {
	ValidateModelConfig(cfg map[string]any) error
}

// Config wires a Registry. Zero values get defaults in New.
type Config struct {
	Catalog *backend.Catalog
	Store   store.ConfigStore
	// Validator rejects configs that point outside the deployment.
	Validator ConfigValidator
	// Defaults are merged under each model's own config, per backend type.
	Defaults map[types.BackendType]map[string]any
	// Sanitize scrubs adapter error text before it reaches callers.
	Sanitize  func(string) string
	Publisher EventPublisher
	Logger    zerolog.Logger

	HealthInterval    time.Duration
	HealthConcurrency int
}

type entry struct {
	info    types.ModelInfo
	adapter backend.Adapter
	nameKey string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*entry
	// names maps (tenant, slug) to the id holding it, including pending
	// registrations that have not finished initializing.
	names   map[string]string
	pending map[string]struct{}
	// stopped is set by Stop; registrations finishing afterwards roll back.
	stopped bool

	catalog   *backend.Catalog
	store     store.ConfigStore
	validator ConfigValidator
	defaults  map[types.BackendType]map[string]any
	sanitize  func(string) string
	pub       EventPublisher
	log       zerolog.Logger
	now       func() time.Time

	healthInterval    time.Duration
	healthConcurrency int

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New builds a Registry. A nil Catalog gets the built-in backends; a nil
// Store keeps records in memory.
func New(cfg Config) *Registry {
	if cfg.Catalog == nil {
		cfg.Catalog = backend.NewCatalog(backend.Deps{Logger: cfg.Logger})
		backend.RegisterBuiltins(cfg.Catalog)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Sanitize == nil {
		cfg.Sanitize = func(s string) string { return s }
	}
	if cfg.HealthConcurrency <= 0 {
		cfg.HealthConcurrency = 8
	}
	return &Registry{
		models:            make(map[string]*entry),
		names:             make(map[string]string),
		pending:           make(map[string]struct{}),
		catalog:           cfg.Catalog,
		store:             cfg.Store,
		validator:         cfg.Validator,
		defaults:          cfg.Defaults,
		sanitize:          cfg.Sanitize,
		pub:               cfg.Publisher,
		log:               cfg.Logger,
		now:               time.Now,
		healthInterval:    cfg.HealthInterval,
		healthConcurrency: cfg.HealthConcurrency,
	}
}

// Catalog returns the backend catalog the registry builds adapters from.
func (r *Registry) Catalog() *backend.Catalog { return r.catalog }

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single '-'.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(strings.TrimSpace(s)) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

const globalOwner = "global"

// ownerSegment renders tenantID for use in a model id. Slug-clean ids are
// used as they are; any other id becomes "<slug>.<hash>" so that tenants
// differing only in case or punctuation never share a segment. Slugs
// never contain '.', and "global" is reserved for models owned by no tenant.
func ownerSegment(tenantID string) string {
	if tenantID == types.NoTenant {
		return globalOwner
	}
	slug := Slugify(tenantID)
	if slug == tenantID && slug != globalOwner {
		return slug
	}
	if slug == "" {
		slug = "tenant"
	}
	sum := sha256.Sum256([]byte(tenantID))
	return slug + "." + hex.EncodeToString(sum[:6])
}

// ModelID derives the id for a registration: "<tenant>_<backend>_<name>",
// with "global" standing in for models owned by no tenant.
func ModelID(tenantID string, bt types.BackendType, name string) string {
	return ownerSegment(tenantID) + "_" + string(bt) + "_" + Slugify(name)
}

func nameKey(tenantID, slug string) string {
	return tenantID + "\x00" + slug
}

// Register creates a model for tenantID. The (tenant, name) pair is
// reserved atomically, the record is persisted before the adapter is built,
// and any failure afterwards rolls the registration back completely.
func (r *Registry) Register(ctx context.Context, spec types.ModelSpec, tenantID string) (id string, err error) {
	defer apperr.Recover(&err)
	slug := Slugify(spec.Name)
	if slug == "" {
		return "", apperr.New(apperr.CodeInvalidParams, "model name is required")
	}
	if spec.BackendType == "" {
		return "", apperr.New(apperr.CodeInvalidParams, "backend_type is required")
	}
	for _, c := range spec.Capabilities {
		if !c.Valid() {
			return "", apperr.New(apperr.CodeInvalidParams, "unknown capability %q", c)
		}
	}
	if spec.ContextLength < 0 {
		return "", apperr.New(apperr.CodeInvalidParams, "context_length must not be negative")
	}
	id = ModelID(tenantID, spec.BackendType, spec.Name)
	key := nameKey(tenantID, slug)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", apperr.New(apperr.CodeModelNotAvailable, "registry is stopped")
	}
	_, dupName := r.names[key]
	_, dupPending := r.pending[id]
	if dupName || dupPending || r.models[id] != nil {
		r.mu.Unlock()
		return "", apperr.New(apperr.CodeDuplicateModel, "model %q is already registered", spec.Name).
			WithData(map[string]any{"model_id": id})
	}
	factory, ok := r.catalog.Lookup(spec.BackendType)
	if !ok {
		r.mu.Unlock()
		return "", apperr.New(apperr.CodeUnsupportedBackend, "unsupported backend type %q", spec.BackendType).
			WithData(map[string]any{"supported": r.catalog.Types()})
	}
	r.names[key] = id
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	r.pub.Publish(Event{Name: EventRegisterStart, ModelID: id, Fields: map[string]any{"tenant_id": tenantID, "backend": string(spec.BackendType)}})
	fail := func(a backend.Adapter, persisted bool, err error) (string, error) {
		r.rollback(ctx, id, key, a, persisted)
		r.pub.Publish(Event{Name: EventRegisterFailed, ModelID: id, Fields: map[string]any{"error": r.sanitize(err.Error())}})
		r.log.Warn().Str("event", EventRegisterFailed).Str("model_id", id).Str("error", r.sanitize(err.Error())).Msg("model registration rolled back")
		return "", err
	}

	caps := spec.Capabilities
	if len(caps) == 0 {
		caps = factory.DefaultCapabilities
	}
	now := r.now().UTC()
	rec := store.ModelRecord{
		ID:            id,
		Name:          spec.Name,
		Description:   spec.Description,
		BackendType:   spec.BackendType,
		Capabilities:  append([]types.InferenceType(nil), caps...),
		ContextLength: spec.ContextLength,
		TenantID:      tenantID,
		Config:        copyMap(spec.Config),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	merged := r.mergedConfig(rec)
	if r.validator != nil {
		if err := r.validator.ValidateModelConfig(merged); err != nil {
			return fail(nil, false, err)
		}
	}
	if factory.ValidateConfig != nil {
		if err := factory.ValidateConfig(merged); err != nil {
			return fail(nil, false, apperr.New(apperr.CodeInvalidParams, "invalid %s config: %s", spec.BackendType, r.sanitize(err.Error())))
		}
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return fail(nil, false, r.internal("persist model config", err))
	}
	adapter, err := r.catalog.Build(spec.BackendType, merged)
	if err != nil {
		return fail(nil, true, apperr.New(apperr.CodeInvalidParams, "invalid %s config: %s", spec.BackendType, r.sanitize(err.Error())))
	}
	if err := adapter.Initialize(ctx); err != nil {
		return fail(adapter, true, r.initFailed(spec.BackendType, err))
	}

	info := r.infoFrom(rec, adapter)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fail(adapter, true, apperr.New(apperr.CodeModelNotAvailable, "registry stopped before %q finished initializing", spec.Name))
	}
	delete(r.pending, id)
	r.models[id] = &entry{info: info, adapter: adapter, nameKey: key}
	r.mu.Unlock()

	r.pub.Publish(Event{Name: EventRegisterReady, ModelID: id, Fields: map[string]any{"status": string(info.Status)}})
	r.log.Info().Str("event", EventRegisterReady).Str("model_id", id).Str("backend", string(spec.BackendType)).Str("tenant_id", tenantID).Msg("model registered")
	return id, nil
}

func (r *Registry) rollback(ctx context.Context, id, key string, a backend.Adapter, persisted bool) {
	ctx = context.WithoutCancel(ctx)
	if a != nil {
		if err := a.Shutdown(ctx); err != nil {
			r.log.Debug().Str("event", "rollback_shutdown_error").Str("model_id", id).Err(err).Msg("")
		}
	}
	if persisted {
		if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Error().Str("event", "rollback_store_error").Str("model_id", id).Str("error", r.sanitize(err.Error())).Msg("could not remove persisted config")
		}
	}
	r.mu.Lock()
	delete(r.pending, id)
	if r.names[key] == id {
		delete(r.names, key)
	}
	r.mu.Unlock()
}

// initFailed keeps egress denials as they are and wraps everything else.
func (r *Registry) initFailed(bt types.BackendType, err error) error {
	if apperr.IsTenantAccessDenied(err) {
		return err
	}
	return &apperr.Error{
		Code:    apperr.CodeAdapterInitFailed,
		Message: "failed to initialize " + string(bt) + " backend: " + r.sanitize(err.Error()),
		Err:     err,
	}
}

func (r *Registry) internal(op string, err error) error {
	return &apperr.Error{Code: apperr.CodeInternal, Message: op + ": " + r.sanitize(err.Error()), Err: err}
}

// mergedConfig layers the record's config and capabilities over the
// backend defaults.
func (r *Registry) mergedConfig(rec store.ModelRecord) map[string]any {
	out := copyMap(r.defaults[rec.BackendType])
	if out == nil {
		out = make(map[string]any, len(rec.Config)+2)
	}
	for k, v := range rec.Config {
		out[k] = v
	}
	if len(rec.Capabilities) > 0 {
		caps := make([]string, len(rec.Capabilities))
		for i, c := range rec.Capabilities {
			caps[i] = string(c)
		}
		out["capabilities"] = caps
	}
	if rec.ContextLength > 0 {
		out["context_length"] = rec.ContextLength
	}
	return out
}

func (r *Registry) infoFrom(rec store.ModelRecord, a backend.Adapter) types.ModelInfo {
	info := types.ModelInfo{
		ID:            rec.ID,
		Name:          rec.Name,
		Description:   rec.Description,
		BackendType:   rec.BackendType,
		Status:        types.StatusError,
		Capabilities:  append([]types.InferenceType(nil), rec.Capabilities...),
		ContextLength: rec.ContextLength,
		TenantID:      rec.TenantID,
		Config:        redact(rec.Config),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if a != nil {
		info.Status = a.Status()
		info.Capabilities = a.Capabilities()
	}
	if info.ContextLength == 0 {
		if s, err := backend.DecodeSettings(r.mergedConfig(rec)); err == nil {
			info.ContextLength = s.ContextLength
		}
	}
	return info
}

// Unregister shuts the model down and forgets it. Only the owning tenant
// (or types.NoTenant) may unregister.
func (r *Registry) Unregister(ctx context.Context, id, tenantID string) (err error) {
	defer apperr.Recover(&err)
	r.mu.Lock()
	e, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return apperr.New(apperr.CodeModelNotAvailable, "model %s not found", id)
	}
	if tenantID != types.NoTenant && e.info.TenantID != tenantID {
		r.mu.Unlock()
		return apperr.New(apperr.CodeAccessDenied, "model %s is owned by another tenant", id)
	}
	delete(r.models, id)
	if r.names[e.nameKey] == id {
		delete(r.names, e.nameKey)
	}
	r.mu.Unlock()

	if e.adapter != nil {
		if err := e.adapter.Shutdown(ctx); err != nil {
			r.log.Warn().Str("event", "shutdown_error").Str("model_id", id).Str("error", r.sanitize(err.Error())).Msg("adapter shutdown failed")
		}
	}
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return r.internal("remove model config", err)
	}
	r.pub.Publish(Event{Name: EventUnregisterDone, ModelID: id, Fields: map[string]any{"status": string(types.StatusMaintenance)}})
	r.log.Info().Str("event", EventUnregisterDone).Str("model_id", id).Msg("model unregistered")
	return nil
}

// visible reports whether tenantID may see e.
func visible(e *entry, tenantID string) bool {
	return tenantID == types.NoTenant || e.info.TenantID == tenantID
}

// Get returns a copy of the model's info. Models owned by another tenant
// are reported as absent.
func (r *Registry) Get(id, tenantID string) (types.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[id]
	if !ok || !visible(e, tenantID) {
		return types.ModelInfo{}, false
	}
	return cloneInfo(e.info), true
}

// Backend returns the model's info together with its adapter, scoped like
// Get.
func (r *Registry) Backend(id, tenantID string) (types.ModelInfo, backend.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[id]
	if !ok || !visible(e, tenantID) || e.adapter == nil {
		return types.ModelInfo{}, nil, false
	}
	return cloneInfo(e.info), e.adapter, true
}

// List returns the tenant's models sorted by id, optionally filtered by
// status.
func (r *Registry) List(tenantID string, status *types.ModelStatus) []types.ModelInfo {
	r.mu.RLock()
	out := make([]types.ModelInfo, 0, len(r.models))
	for _, e := range r.models {
		if !visible(e, tenantID) {
			continue
		}
		if status != nil && e.info.Status != *status {
			continue
		}
		out = append(out, cloneInfo(e.info))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarizes the tenant's models.
func (r *Registry) Stats(tenantID string, inFlight int) types.Stats {
	st := types.Stats{
		ByBackend:    map[types.BackendType]int{},
		ByCapability: map[types.InferenceType]int{},
		ByStatus:     map[types.ModelStatus]int{},
		InFlight:     inFlight,
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.models {
		if !visible(e, tenantID) {
			continue
		}
		st.TotalModels++
		st.ByBackend[e.info.BackendType]++
		st.ByStatus[e.info.Status]++
		for _, c := range e.info.Capabilities {
			st.ByCapability[c]++
		}
	}
	return st
}

func cloneInfo(in types.ModelInfo) types.ModelInfo {
	in.Capabilities = append([]types.InferenceType(nil), in.Capabilities...)
	in.Config = copyMap(in.Config)
	return in
}

// redact hides credentials from the config copy handed to callers.
func redact(m map[string]any) map[string]any {
	out := copyMap(m)
	for k := range out {
		switch strings.ToLower(k) {
		case "api_key", "apikey", "token", "password":
			out[k] = "***"
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
