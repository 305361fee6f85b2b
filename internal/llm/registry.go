package llm

import (
	"fmt"

	"github.com/ariacorp/ariarun/internal/registry"
)

// Registry manages named Provider instances, generalized from the teacher's
// LLMRegistry over the shared generic registry.BaseRegistry.
type Registry struct {
	*registry.BaseRegistry[Provider]
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// CreateFromConfig builds, registers, and returns a provider from cfg.
func (r *Registry) CreateFromConfig(name string, cfg Config, isDefault bool) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("llm: provider name cannot be empty")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llm: invalid config for %s: %w", name, err)
	}

	var provider Provider
	var err error
	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIProvider(cfg)
	case "anthropic":
		provider, err = NewAnthropicProvider(cfg)
	case "ollama":
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: create provider %s: %w", name, err)
	}

	r.Put(name, provider)
	if isDefault || r.defaultName == "" {
		r.defaultName = name
	}
	return provider, nil
}

// Default returns the provider marked default, or an error if none exists.
func (r *Registry) Default() (Provider, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("llm: no default provider configured")
	}
	p, ok := r.Get(r.defaultName)
	if !ok {
		return nil, fmt.Errorf("llm: default provider %q not registered", r.defaultName)
	}
	return p, nil
}
