package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPattern = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars resolves ${VAR}, ${VAR:-default} and $VAR references in s
// against the process environment.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPattern.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.withDefault.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	s = envVarPattern.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.braced.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})

	s = envVarPattern.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.simple.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})

	return s
}

func parseScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ExpandEnvVarsInData walks a decoded YAML/JSON tree (maps, slices, scalars)
// and expands environment references in every string leaf, re-typing scalars
// that resolved to bool/int/float.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return parseScalar(expanded)
		}
		return expanded
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = ExpandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvVarsInData(item)
		}
		return out
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// without overriding variables already set.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ProviderAPIKey returns the conventional environment variable for an LLM
// provider's credential, or "" if the provider is unrecognized.
func ProviderAPIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "ollama":
		return os.Getenv("OLLAMA_API_KEY")
	default:
		return ""
	}
}
