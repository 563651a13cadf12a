package types

import "time"

// GenerationParams are sampling options shared by completion and chat.
type GenerationParams struct {
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Random seed; 0 lets the backend choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
}

// CompletionRequest is a prompt completion call.
type CompletionRequest struct {
	// example: acme_ollama_llama2
	ModelID string `json:"model_id" example:"acme_ollama_llama2"`
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	GenerationParams
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Hello!
	Content string `json:"content" example:"Hello!"`
}

// ChatRequest is a chat completion call.
type ChatRequest struct {
	// example: acme_ollama_llama2
	ModelID  string        `json:"model_id" example:"acme_ollama_llama2"`
	Messages []ChatMessage `json:"messages"`
	GenerationParams
}

// EmbeddingRequest embeds one or more inputs.
type EmbeddingRequest struct {
	// example: acme_ollama_nomic-embed-text
	ModelID string   `json:"model_id" example:"acme_ollama_nomic-embed-text"`
	Input   []string `json:"input"`
}

// ClassificationRequest assigns one of Labels to Text.
type ClassificationRequest struct {
	// example: acme_ollama_llama2
	ModelID string `json:"model_id" example:"acme_ollama_llama2"`
	// example: The invoice is overdue.
	Text   string   `json:"text" example:"The invoice is overdue."`
	Labels []string `json:"labels"`
}

// Usage counts whitespace-delimited words as token equivalents.
type Usage struct {
	// example: 7
	PromptTokens int `json:"prompt_tokens" example:"7"`
	// example: 17
	ResponseTokens int `json:"response_tokens" example:"17"`
	// example: 24
	TotalTokens int `json:"total_tokens" example:"24"`
}

// CompletionResponse is returned by completion calls.
type CompletionResponse struct {
	// example: 4f1c7d9e-6a57-4c1b-9a64-1f0a3c7b2d11
	RequestID string `json:"request_id" example:"4f1c7d9e-6a57-4c1b-9a64-1f0a3c7b2d11"`
	ModelID   string `json:"model_id"`
	Text      string `json:"text"`
	// example: stop
	FinishReason string    `json:"finish_reason,omitempty" example:"stop"`
	Usage        Usage     `json:"usage"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatResponse is returned by chat calls.
type ChatResponse struct {
	RequestID    string      `json:"request_id"`
	ModelID      string      `json:"model_id"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        Usage       `json:"usage"`
	CreatedAt    time.Time   `json:"created_at"`
}

// EmbeddingResponse holds one vector per input, in input order.
type EmbeddingResponse struct {
	RequestID  string      `json:"request_id"`
	ModelID    string      `json:"model_id"`
	Embeddings [][]float32 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ClassificationResponse carries the chosen label.
type ClassificationResponse struct {
	RequestID string             `json:"request_id"`
	ModelID   string             `json:"model_id"`
	Label     string             `json:"label"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Usage     Usage              `json:"usage"`
	CreatedAt time.Time          `json:"created_at"`
}

// RegisterResponse is returned by model registration.
type RegisterResponse struct {
	// example: acme_ollama_llama2
	ModelID string `json:"model_id" example:"acme_ollama_llama2"`
}

// ModelHealthResponse is the outcome of probing one model.
type ModelHealthResponse struct {
	// example: acme_ollama_llama2
	ModelID string `json:"model_id" example:"acme_ollama_llama2"`
	// example: true
	Healthy bool        `json:"healthy" example:"true"`
	Status  ModelStatus `json:"status" example:"available"`
}

// ModelsResponse wraps a model listing.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// Envelope wraps every JSON response of the HTTP API.
type Envelope struct {
	// example: true
	Success   bool         `json:"success" example:"true"`
	Data      any          `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrorDetail is the error half of an Envelope.
type ErrorDetail struct {
	// Symbolic error code.
	// example: MODEL_NOT_AVAILABLE
	Code string `json:"code" example:"MODEL_NOT_AVAILABLE"`
	// Numeric protocol code.
	// example: -32001
	RPCCode int `json:"rpc_code" example:"-32001"`
	// example: model acme_ollama_llama2 is not available
	Message string         `json:"message" example:"model acme_ollama_llama2 is not available"`
	Data    map[string]any `json:"data,omitempty"`
}
