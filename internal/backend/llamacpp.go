package backend

import (
	"fmt"
	"path/filepath"
	"strings"

	"modelgate/internal/common/fsutil"
	"modelgate/pkg/types"
)

var llamaCppCapabilities = []types.InferenceType{
	types.InferenceCompletion,
	types.InferenceChat,
	types.InferenceEmbedding,
	types.InferenceClassification,
}

func llamaCppFactory() Factory {
	return Factory{
		Type:                types.BackendLlamaCpp,
		Description:         "GGUF model loaded in process via llama.cpp (build tag 'llama')",
		DefaultCapabilities: llamaCppCapabilities,
		Create: func(cfg map[string]any, deps Deps) (Adapter, error) {
			return NewLlamaCpp(cfg, deps)
		},
		ValidateConfig: func(cfg map[string]any) error {
			s, err := DecodeSettings(cfg)
			if err != nil {
				return err
			}
			if s.ModelPath == "" && s.ModelName == "" {
				return fmt.Errorf("llamacpp backend requires model_path or model_name")
			}
			return nil
		},
	}
}

// resolveModelPath returns model_path, or models_dir/model_name(.gguf).
func resolveModelPath(s Settings) (string, error) {
	p := s.ModelPath
	if p == "" {
		name := s.ModelName
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			name += ".gguf"
		}
		p = filepath.Join(s.ModelsDir, name)
	}
	p, err := fsutil.ExpandHome(p)
	if err != nil {
		return "", err
	}
	if !fsutil.PathExists(p) {
		return "", fmt.Errorf("model file not found: %s", p)
	}
	return p, nil
}

// chatPrompt flattens messages into a plain role-tagged transcript.
func chatPrompt(msgs []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = "user"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant:")
	return b.String()
}

// LlamaBuilt reports whether the in-process runtime is compiled in.
func LlamaBuilt() bool { return llamaBuilt }
