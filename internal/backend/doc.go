// Package backend adapts model runtimes to one interface.
//
// Three runtimes are built in:
//   - ollama: a local Ollama server over HTTP.
//   - openai: any local server speaking the OpenAI-compatible API.
//   - llamacpp: GGUF models loaded in process (requires the 'llama' build tag).
//
// Adapters are created through a Catalog keyed by types.BackendType so the
// registry never depends on a concrete runtime. Network adapters route every
// request through the privacy guard and retry transient failures with a
// fixed delay.
package backend
