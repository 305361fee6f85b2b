package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGenerateParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIResponse{
			Choices: []openAIChoice{{
				Message: openAIMessage{
					Role: "assistant",
					ToolCalls: []openAIToolCall{{
						ID: "call_1", Type: "function",
						Function: openAIFunctionCall{Name: "get_weather", Arguments: `{"city":"paris"}`},
					}},
				},
				FinishReason: "tool_calls",
			}},
			Usage: openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := Config{Type: "openai", APIKey: "test", Host: srv.URL, Model: "gpt-4o"}
	cfg.SetDefaults()
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "weather in paris?"}}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("expected one get_weather tool call, got %+v", out.ToolCalls)
	}
	if out.TotalTokens != 15 {
		t.Fatalf("expected 15 total tokens, got %d", out.TotalTokens)
	}
}

func TestOpenAIGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIResponse{Error: &openAIAPIError{Message: "invalid api key"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := Config{Type: "openai", APIKey: "bad", Host: srv.URL, Model: "gpt-4o"}
	cfg.SetDefaults()
	p, _ := NewOpenAIProvider(cfg)

	if _, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error from openai API error payload")
	}
}
