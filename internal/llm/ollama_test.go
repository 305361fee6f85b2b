package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGenerateReturnsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaChatResponse{
			Message:       ollamaMessage{Role: "assistant", Content: "hello there"},
			Done:          true,
			PromptEvalCnt: 4,
			EvalCount:     3,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := Config{Type: "ollama", Host: srv.URL, Model: "llama3"}
	cfg.SetDefaults()
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "hello there" {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if out.TotalTokens != 7 {
		t.Fatalf("expected 7 total tokens, got %d", out.TotalTokens)
	}
}

func TestOllamaGenerateSurfacesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not found"))
	}))
	defer srv.Close()

	cfg := Config{Type: "ollama", Host: srv.URL, Model: "llama3", MaxRetries: 0}
	cfg.SetDefaults()
	p, _ := NewOllamaProvider(cfg)

	if _, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for non-200 ollama response")
	}
}
