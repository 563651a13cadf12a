// Package config holds runtime parameters for the gateway. Values come from
// Default(), then an optional yaml/json/toml file, then the environment.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime parameters for the service.
type Config struct {
	Server    Server    `json:"server" yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Log       Log       `json:"log" yaml:"log" toml:"log" envPrefix:"LOG_"`
	Tenancy   Tenancy   `json:"tenancy" yaml:"tenancy" toml:"tenancy" envPrefix:"TENANCY_"`
	Privacy   Privacy   `json:"privacy" yaml:"privacy" toml:"privacy" envPrefix:"PRIVACY_"`
	Router    Router    `json:"router" yaml:"router" toml:"router" envPrefix:"ROUTER_"`
	Registry  Registry  `json:"registry" yaml:"registry" toml:"registry" envPrefix:"REGISTRY_"`
	Storage   Storage   `json:"storage" yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Backends  Backends  `json:"backends" yaml:"backends" toml:"backends"`
	Telemetry Telemetry `json:"telemetry" yaml:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
}

type Server struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CORSEnabled     bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	RPCTimeout      Duration `json:"rpc_timeout" yaml:"rpc_timeout" toml:"rpc_timeout" env:"RPC_TIMEOUT"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" toml:"format" env:"FORMAT"`
}

type StaticTenant struct {
	ID     string `json:"id" yaml:"id" toml:"id"`
	Slug   string `json:"slug" yaml:"slug" toml:"slug"`
	Name   string `json:"name" yaml:"name" toml:"name"`
	Active bool   `json:"active" yaml:"active" toml:"active"`
}

type Tenancy struct {
	IsolationEnabled bool     `json:"isolation_enabled" yaml:"isolation_enabled" toml:"isolation_enabled" env:"ISOLATION_ENABLED"`
	DefaultTenant    string   `json:"default_tenant" yaml:"default_tenant" toml:"default_tenant" env:"DEFAULT_TENANT"`
	Header           string   `json:"header" yaml:"header" toml:"header" env:"HEADER"`
	CacheTTL         Duration `json:"cache_ttl" yaml:"cache_ttl" toml:"cache_ttl" env:"CACHE_TTL"`
	CacheSize        int      `json:"cache_size" yaml:"cache_size" toml:"cache_size" env:"CACHE_SIZE"`
	// SourceURL points at the CRUD app's tenant API. Empty uses Tenants.
	SourceURL string         `json:"source_url" yaml:"source_url" toml:"source_url" env:"SOURCE_URL"`
	Tenants   []StaticTenant `json:"tenants" yaml:"tenants" toml:"tenants"`
}

type Privacy struct {
	BlockExternalRequests bool     `json:"block_external_requests" yaml:"block_external_requests" toml:"block_external_requests" env:"BLOCK_EXTERNAL_REQUESTS"`
	LocalOnly             bool     `json:"local_only" yaml:"local_only" toml:"local_only" env:"LOCAL_ONLY"`
	AnonymizeLogs         bool     `json:"anonymize_logs" yaml:"anonymize_logs" toml:"anonymize_logs" env:"ANONYMIZE_LOGS"`
	AllowedHosts          []string `json:"allowed_hosts" yaml:"allowed_hosts" toml:"allowed_hosts" env:"ALLOWED_HOSTS" envSeparator:","`
}

type Router struct {
	MaxConcurrentPerTenant int      `json:"max_concurrent_per_tenant" yaml:"max_concurrent_per_tenant" toml:"max_concurrent_per_tenant" env:"MAX_CONCURRENT_PER_TENANT"`
	RequestTimeout         Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	DefaultContextLength   int      `json:"default_context_length" yaml:"default_context_length" toml:"default_context_length" env:"DEFAULT_CONTEXT_LENGTH"`
}

type Registry struct {
	HealthInterval    Duration `json:"health_interval" yaml:"health_interval" toml:"health_interval" env:"HEALTH_INTERVAL"`
	HealthConcurrency int      `json:"health_concurrency" yaml:"health_concurrency" toml:"health_concurrency" env:"HEALTH_CONCURRENCY"`
}

type Storage struct {
	// Type is one of file, sqlite, memory.
	Type       string `json:"type" yaml:"type" toml:"type" env:"TYPE"`
	Dir        string `json:"dir" yaml:"dir" toml:"dir" env:"DIR"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" toml:"sqlite_path" env:"SQLITE_PATH"`
}

// BackendDefaults are merged under every model's own config.
type BackendDefaults struct {
	BaseURL    string   `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty" env:"BASE_URL"`
	APIKey     string   `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty" env:"API_KEY"`
	ModelsDir  string   `json:"models_dir,omitempty" yaml:"models_dir,omitempty" toml:"models_dir,omitempty" env:"MODELS_DIR"`
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty" env:"TIMEOUT"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty" env:"MAX_RETRIES"`
	RetryDelay Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" env:"RETRY_DELAY"`
	Threads    int      `json:"threads,omitempty" yaml:"threads,omitempty" toml:"threads,omitempty" env:"THREADS"`
}

// Map renders the non-zero defaults as a backend config map.
func (d BackendDefaults) Map() map[string]any {
	m := map[string]any{}
	if d.BaseURL != "" {
		m["base_url"] = d.BaseURL
	}
	if d.APIKey != "" {
		m["api_key"] = d.APIKey
	}
	if d.ModelsDir != "" {
		m["models_dir"] = d.ModelsDir
	}
	if d.Timeout > 0 {
		m["timeout"] = d.Timeout.String()
	}
	if d.MaxRetries > 0 {
		m["max_retries"] = d.MaxRetries
	}
	if d.RetryDelay > 0 {
		m["retry_delay"] = d.RetryDelay.String()
	}
	if d.Threads > 0 {
		m["threads"] = d.Threads
	}
	return m
}

type Backends struct {
	Ollama   BackendDefaults `json:"ollama" yaml:"ollama" toml:"ollama" envPrefix:"OLLAMA_"`
	OpenAI   BackendDefaults `json:"openai" yaml:"openai" toml:"openai" envPrefix:"OPENAI_"`
	LlamaCpp BackendDefaults `json:"llamacpp" yaml:"llamacpp" toml:"llamacpp" envPrefix:"LLAMACPP_"`
}

type Telemetry struct {
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled" toml:"tracing_enabled" env:"TRACING_ENABLED"`
	ServiceName    string `json:"service_name" yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: Duration(10 * time.Second),
			RPCTimeout:      Duration(30 * time.Second),
		},
		Log: Log{Level: "info", Format: "json"},
		Tenancy: Tenancy{
			IsolationEnabled: true,
			DefaultTenant:    "default",
			Header:           "X-Tenant-ID",
			CacheTTL:         Duration(5 * time.Minute),
			CacheSize:        1024,
		},
		Privacy: Privacy{
			BlockExternalRequests: true,
			AnonymizeLogs:         true,
		},
		Router: Router{
			MaxConcurrentPerTenant: 10,
			RequestTimeout:         Duration(120 * time.Second),
			DefaultContextLength:   4096,
		},
		Registry: Registry{
			HealthInterval:    Duration(30 * time.Second),
			HealthConcurrency: 8,
		},
		Storage: Storage{
			Type: "file",
			Dir:  "~/.modelgate/models",
		},
		Backends: Backends{
			Ollama: BackendDefaults{
				BaseURL:    "http://localhost:11434",
				Timeout:    Duration(60 * time.Second),
				MaxRetries: 3,
				RetryDelay: Duration(time.Second),
			},
			OpenAI: BackendDefaults{
				BaseURL:    "http://localhost:8000/v1",
				Timeout:    Duration(60 * time.Second),
				MaxRetries: 3,
				RetryDelay: Duration(time.Second),
			},
			LlamaCpp: BackendDefaults{
				ModelsDir: "~/models/llm",
				Threads:   4,
			},
		},
		Telemetry: Telemetry{ServiceName: "modelgate"},
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Type {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %q", c.Storage.Type)
	}
	if c.Router.MaxConcurrentPerTenant <= 0 {
		return fmt.Errorf("router.max_concurrent_per_tenant must be positive")
	}
	if c.Tenancy.DefaultTenant == "" {
		return fmt.Errorf("tenancy.default_tenant must be set")
	}
	return nil
}
