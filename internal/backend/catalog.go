package backend

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"modelgate/pkg/types"
)

// Deps are the collaborators handed to every factory.
type Deps struct {
	// Guard wraps outbound transports with the egress policy. Nil leaves
	// transports unwrapped.
	Guard func(http.RoundTripper) http.RoundTripper
	// ValidateURL checks a base URL before the first request is sent.
	ValidateURL func(string) error
	// Sanitize scrubs messages before they are wrapped into errors.
	Sanitize func(string) string
	Logger   zerolog.Logger
}

func (d Deps) transport() http.RoundTripper {
	if d.Guard == nil {
		return http.DefaultTransport
	}
	return d.Guard(http.DefaultTransport)
}

func (d Deps) validateURL(u string) error {
	if d.ValidateURL == nil {
		return nil
	}
	return d.ValidateURL(u)
}

func (d Deps) sanitize(s string) string {
	if d.Sanitize == nil {
		return s
	}
	return d.Sanitize(s)
}

// Factory describes how to build adapters of one backend type.
type Factory struct {
	Type        types.BackendType
	Description string
	// DefaultCapabilities apply when a model does not list its own.
	DefaultCapabilities []types.InferenceType
	// Create builds an uninitialized adapter from a merged config map.
	Create func(cfg map[string]any, deps Deps) (Adapter, error)
	// ValidateConfig rejects a config before anything is persisted.
	// Optional.
	ValidateConfig func(cfg map[string]any) error
}

// Catalog maps backend types to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[types.BackendType]Factory
	deps      Deps
}

// NewCatalog returns an empty catalog whose factories receive deps.
func NewCatalog(deps Deps) *Catalog {
	return &Catalog{factories: make(map[types.BackendType]Factory), deps: deps}
}

// Register adds f. It panics on an empty type, a nil Create or a duplicate.
func (c *Catalog) Register(f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Type == "" {
		panic("backend factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("backend factory %q must have a Create function", f.Type))
	}
	if _, exists := c.factories[f.Type]; exists {
		panic(fmt.Sprintf("backend factory %q already registered", f.Type))
	}
	c.factories[f.Type] = f
}

// Lookup returns the factory for t.
func (c *Catalog) Lookup(t types.BackendType) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[t]
	return f, ok
}

// Types lists registered backend types, sorted.
func (c *Catalog) Types() []types.BackendType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.BackendType, 0, len(c.factories))
	for t := range c.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// List returns every factory, sorted by type.
func (c *Catalog) List() []Factory {
	ts := c.Types()
	out := make([]Factory, 0, len(ts))
	for _, t := range ts {
		f, _ := c.Lookup(t)
		out = append(out, f)
	}
	return out
}

// Build validates cfg and creates an adapter of type t.
func (c *Catalog) Build(t types.BackendType, cfg map[string]any) (Adapter, error) {
	f, ok := c.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", t)
	}
	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, err
		}
	}
	return f.Create(cfg, c.deps)
}

// RegisterBuiltins installs the ollama, openai and llamacpp factories.
func RegisterBuiltins(c *Catalog) {
	c.Register(ollamaFactory())
	c.Register(openAIFactory())
	c.Register(llamaCppFactory())
}
