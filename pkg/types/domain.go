package types

import "time"

// ModelInfo describes a registered model.
type ModelInfo struct {
	// Registry-unique identifier derived from tenant, backend and name.
	// example: acme_ollama_llama2
	ID string `json:"id" example:"acme_ollama_llama2"`
	// Human-readable name supplied at registration.
	// example: llama2
	Name string `json:"name" example:"llama2"`
	// Optional free-form description.
	Description string `json:"description,omitempty"`
	// Adapter kind serving this model.
	// example: ollama
	BackendType BackendType `json:"backend_type" example:"ollama"`
	// Current lifecycle status.
	// example: available
	Status ModelStatus `json:"status" example:"available"`
	// Inference types this model accepts.
	Capabilities []InferenceType `json:"capabilities"`
	// Maximum prompt size in whitespace-delimited words.
	// example: 4096
	ContextLength int `json:"context_length" example:"4096"`
	// Owning tenant; empty for global models.
	// example: acme
	TenantID string `json:"tenant_id,omitempty" example:"acme"`
	// Backend config after defaults were merged. Secrets are not echoed.
	Config map[string]any `json:"config,omitempty"`
	// Registration time.
	CreatedAt time.Time `json:"created_at"`
	// Last status change.
	UpdatedAt time.Time `json:"updated_at"`
	// Time of the last completed health probe.
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
}

// Supports reports whether the model lists t among its capabilities.
func (m ModelInfo) Supports(t InferenceType) bool {
	for _, c := range m.Capabilities {
		if c == t {
			return true
		}
	}
	return false
}

// ModelSpec is the registration input for a model.
type ModelSpec struct {
	// Display name, unique per tenant.
	// example: llama2
	Name string `json:"name" example:"llama2"`
	// Optional description.
	Description string `json:"description,omitempty"`
	// Adapter kind.
	// example: ollama
	BackendType BackendType `json:"backend_type" example:"ollama"`
	// Optional capability override; adapter defaults apply when empty.
	Capabilities []InferenceType `json:"capabilities,omitempty"`
	// Optional context length in words; router default applies when zero.
	// example: 4096
	ContextLength int `json:"context_length,omitempty" example:"4096"`
	// Backend-specific settings merged over the backend defaults.
	Config map[string]any `json:"config,omitempty"`
}

// TenantInfo is the resolved identity of a caller.
type TenantInfo struct {
	// example: acme
	ID string `json:"id" example:"acme"`
	// example: acme-corp
	Slug string `json:"slug,omitempty" example:"acme-corp"`
	// example: Acme Corp
	Name string `json:"name,omitempty" example:"Acme Corp"`
	// Inactive tenants are rejected.
	// example: true
	Active bool `json:"active" example:"true"`
}

// HealthReport aggregates per-model health probes.
type HealthReport struct {
	// "healthy" when every probe passed, otherwise "degraded".
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Probe outcome per model id.
	Models map[string]bool `json:"models"`
	// When the probes finished.
	CheckedAt time.Time `json:"checked_at"`
}

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Stats summarises registry contents.
type Stats struct {
	// example: 3
	TotalModels  int                   `json:"total_models" example:"3"`
	ByBackend    map[BackendType]int   `json:"by_backend"`
	ByCapability map[InferenceType]int `json:"by_capability"`
	ByStatus     map[ModelStatus]int   `json:"by_status"`
	// Inference calls currently dispatched.
	// example: 1
	InFlight int `json:"in_flight" example:"1"`
}
