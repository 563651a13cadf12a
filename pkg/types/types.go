package types

// InferenceType names a kind of inference call a model can serve.
type InferenceType string

const (
	InferenceCompletion     InferenceType = "completion"
	InferenceChat           InferenceType = "chat"
	InferenceEmbedding      InferenceType = "embedding"
	InferenceClassification InferenceType = "classification"
)

// AllInferenceTypes lists every inference type in a stable order.
var AllInferenceTypes = []InferenceType{
	InferenceCompletion,
	InferenceChat,
	InferenceEmbedding,
	InferenceClassification,
}

// Valid reports whether t is a known inference type.
func (t InferenceType) Valid() bool {
	for _, k := range AllInferenceTypes {
		if k == t {
			return true
		}
	}
	return false
}

// BackendType selects the adapter kind that serves a model.
type BackendType string

const (
	// BackendOllama is a local HTTP model runtime speaking the Ollama API.
	BackendOllama BackendType = "ollama"
	// BackendLlamaCpp runs GGUF models in process through llama.cpp bindings.
	BackendLlamaCpp BackendType = "llamacpp"
	// BackendOpenAI is any local server exposing the OpenAI-compatible API.
	BackendOpenAI BackendType = "openai"
)

// ModelStatus is the lifecycle state of a registered model.
type ModelStatus string

const (
	StatusLoading     ModelStatus = "loading"
	StatusAvailable   ModelStatus = "available"
	StatusError       ModelStatus = "error"
	StatusMaintenance ModelStatus = "maintenance"
)

// Valid reports whether s is a known status.
func (s ModelStatus) Valid() bool {
	switch s {
	case StatusLoading, StatusAvailable, StatusError, StatusMaintenance:
		return true
	}
	return false
}

// NoTenant marks a global (admin-owned) model, and as a query scope it
// bypasses tenant filtering.
const NoTenant = ""
