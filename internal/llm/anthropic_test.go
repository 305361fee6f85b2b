package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicGenerateMergesTextAndToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "Let me check that."},
				{Type: "tool_use", ID: "tu_1", Name: "get_weather", Input: map[string]any{"city": "paris"}},
			},
			Usage: anthropicUsage{InputTokens: 20, OutputTokens: 8},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := Config{Type: "anthropic", APIKey: "test", Host: srv.URL, Model: "claude-3-5-sonnet"}
	cfg.SetDefaults()
	p, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "weather in paris?"}}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "Let me check that." {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("expected one get_weather tool call, got %+v", out.ToolCalls)
	}
	if out.TotalTokens != 28 {
		t.Fatalf("expected 28 total tokens, got %d", out.TotalTokens)
	}
}

func TestAnthropicBuildRequestSeparatesSystemPrompt(t *testing.T) {
	cfg := Config{Type: "anthropic", APIKey: "test", Model: "claude-3-5-sonnet"}
	cfg.SetDefaults()
	p, _ := NewAnthropicProvider(cfg)

	req := p.buildRequest([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	}, nil, false)

	if req.System != "be terse" {
		t.Fatalf("expected system prompt extracted, got %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("expected one user message remaining, got %+v", req.Messages)
	}
}
