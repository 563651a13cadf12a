package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MODELGATE_"

// ApplyEnv overlays MODELGATE_* variables onto cfg. Unset variables leave
// the loaded values alone. OLLAMA_HOST is honoured for compatibility with
// the ollama CLI when MODELGATE_OLLAMA_BASE_URL is not set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	if _, set := os.LookupEnv(EnvPrefix + "OLLAMA_BASE_URL"); !set {
		if h := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); h != "" {
			if !strings.Contains(h, "://") {
				h = "http://" + h
			}
			cfg.Backends.Ollama.BaseURL = h
		}
	}
	return nil
}

// Duration is a time.Duration that decodes from "30s"-style strings in
// yaml, json, toml and the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
