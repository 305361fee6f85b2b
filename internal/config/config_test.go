package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
version: "1"
name: test-runtime
providers:
  default:
    type: openai
    api_key: ${TEST_API_KEY}
    model: gpt-4o
    default: true
agents:
  assistant:
    tools: [echo]
    max_iterations: 5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Providers["default"].APIKey; got != "secret-123" {
		t.Fatalf("expected expanded api key, got %q", got)
	}
	if cfg.Server.ICCAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default icc addr, got %q", cfg.Server.ICCAddr)
	}
	if cfg.Container.NetworkCIDRStart != "172.16.0.10" {
		t.Fatalf("expected default cidr start, got %q", cfg.Container.NetworkCIDRStart)
	}
}

func TestValidateRequiresDefaultProvider(t *testing.T) {
	cfg := &Config{Providers: map[string]Provider{"p": {Type: "openai"}}}
	cfg.SetDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no provider is marked default")
	}
}

func TestExpandEnvVarsInDataTypesScalars(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_INT", "42")

	in := map[string]any{
		"flag":  "${TEST_BOOL}",
		"count": "${TEST_INT}",
		"plain": "hello",
	}
	out := ExpandEnvVarsInData(in).(map[string]any)
	if out["flag"] != true {
		t.Fatalf("expected bool true, got %#v", out["flag"])
	}
	if out["count"] != 42 {
		t.Fatalf("expected int 42, got %#v", out["count"])
	}
	if out["plain"] != "hello" {
		t.Fatalf("expected unchanged string, got %#v", out["plain"])
	}
}
