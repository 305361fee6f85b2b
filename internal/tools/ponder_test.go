package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) ModelName() string    { return "fake" }
func (f *fakeProvider) MaxTokens() int       { return 1000 }
func (f *fakeProvider) Temperature() float64 { return 0 }
func (f *fakeProvider) Close() error         { return nil }

func TestPonderParsesReflection(t *testing.T) {
	tool := &PonderTool{Provider: &fakeProvider{text: `{"assessment":{"performance":0.9},"suggested_action":"continue","rationale":"fine","confidence":0.8}`}}
	result, err := tool.Execute(context.Background(), map[string]any{"step_id": "s1", "history": "ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reflection, ok := result.Output.(domain.Reflection)
	if !ok {
		t.Fatalf("expected domain.Reflection output, got %T", result.Output)
	}
	if reflection.SuggestedAction != domain.ActionContinue {
		t.Fatalf("expected continue, got %v", reflection.SuggestedAction)
	}
}

func TestPonderFallsBackToAbortOnMalformedJSON(t *testing.T) {
	tool := &PonderTool{Provider: &fakeProvider{text: "not json"}}
	result, err := tool.Execute(context.Background(), map[string]any{"step_id": "s1", "history": "ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reflection := result.Output.(domain.Reflection)
	if reflection.SuggestedAction != domain.ActionAbort {
		t.Fatalf("expected abort fallback, got %v", reflection.SuggestedAction)
	}
}

func TestPonderFallsBackToAbortOnProviderError(t *testing.T) {
	tool := &PonderTool{Provider: &fakeProvider{err: errors.New("boom")}}
	result, err := tool.Execute(context.Background(), map[string]any{"step_id": "s1", "history": "ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reflection := result.Output.(domain.Reflection)
	if reflection.SuggestedAction != domain.ActionAbort {
		t.Fatalf("expected abort fallback, got %v", reflection.SuggestedAction)
	}
}
