package backend

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"modelgate/pkg/types"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Settings is the decoded form of a model's merged config map.
type Settings struct {
	BaseURL       string                `mapstructure:"base_url"`
	ModelName     string                `mapstructure:"model_name"`
	APIKey        string                `mapstructure:"api_key"`
	ModelPath     string                `mapstructure:"model_path"`
	ModelsDir     string                `mapstructure:"models_dir"`
	Timeout       time.Duration         `mapstructure:"timeout"`
	MaxRetries    int                   `mapstructure:"max_retries"`
	RetryDelay    time.Duration         `mapstructure:"retry_delay"`
	ContextLength int                   `mapstructure:"context_length"`
	Threads       int                   `mapstructure:"threads"`
	Capabilities  []types.InferenceType `mapstructure:"capabilities"`
	// Extra keeps keys the adapter does not interpret.
	Extra map[string]any `mapstructure:",remain"`
}

// DecodeSettings decodes cfg and applies defaults.
func DecodeSettings(cfg map[string]any) (Settings, error) {
	var s Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return s, err
	}
	if err := dec.Decode(cfg); err != nil {
		return s, fmt.Errorf("decode backend config: %w", err)
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = defaultMaxRetries
	}
	if _, set := cfg["retry_delay"]; !set || s.RetryDelay < 0 {
		s.RetryDelay = defaultRetryDelay
	}
	for _, c := range s.Capabilities {
		if !c.Valid() {
			return s, fmt.Errorf("unknown capability %q", c)
		}
	}
	return s, nil
}

// capabilitiesOr returns s.Capabilities when set, otherwise def.
func (s Settings) capabilitiesOr(def []types.InferenceType) []types.InferenceType {
	if len(s.Capabilities) > 0 {
		return s.Capabilities
	}
	return def
}
