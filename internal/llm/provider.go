package llm

import "context"

// Provider generates completions from a language model, with or without
// native function calling (§4.3).
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error)
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)
	ModelName() string
	MaxTokens() int
	Temperature() float64
	Close() error
}

// Config is the resolved, validated configuration for one provider instance.
type Config struct {
	Type        string // openai | anthropic | ollama
	APIKey      string
	Host        string
	Model       string
	Temperature float64
	MaxTokens   int
	TimeoutSec  int
	MaxRetries  int
}

// SetDefaults fills in provider-appropriate defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	switch c.Type {
	case "openai":
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
	case "anthropic":
		if c.Host == "" {
			c.Host = "https://api.anthropic.com"
		}
		if c.TimeoutSec == 60 {
			c.TimeoutSec = 120
		}
	case "ollama":
		if c.Host == "" {
			c.Host = "http://localhost:11434"
		}
	}
}

// Validate reports whether the config is usable.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errConfigField("model")
	}
	if c.Type != "ollama" && c.APIKey == "" {
		return errConfigField("api_key")
	}
	return nil
}

type configFieldError struct{ field string }

func (e *configFieldError) Error() string { return "llm: config missing required field " + e.field }

func errConfigField(field string) error { return &configFieldError{field: field} }
