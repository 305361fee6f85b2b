package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
)

type fakeProvider struct{ text string }

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
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

func TestInitiateAddsUserAndAckTurns(t *testing.T) {
	engine := NewEngine(&fakeProvider{text: "Sure, working on it."})
	conv, err := engine.Initiate(context.Background(), "s1", "What is 2 + 2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(conv.Turns))
	}
	if conv.State != domain.ConvWorking {
		t.Fatalf("expected working state, got %v", conv.State)
	}
}

func TestUpdateMarksErrorStateOnFailure(t *testing.T) {
	engine := NewEngine(&fakeProvider{})
	conv := &domain.Conversation{State: domain.ConvWorking}
	engine.Update(conv, domain.ExecutionStep{Success: false, Error: "boom", Summary: "tried X"})
	if conv.State != domain.ConvError {
		t.Fatalf("expected error state, got %v", conv.State)
	}
	last := conv.Turns[len(conv.Turns)-1]
	if last.Content != "✗ Failed: tried X (Error: boom)" {
		t.Fatalf("unexpected turn content: %q", last.Content)
	}
}

func TestConcludeSetsFinalResponseAndCompletes(t *testing.T) {
	engine := NewEngine(&fakeProvider{text: "All done."})
	conv := &domain.Conversation{State: domain.ConvWorking, Turns: []domain.Turn{
		{Role: domain.RoleUser, Content: "hi", Timestamp: time.Now()},
	}}
	if err := engine.Conclude(context.Background(), conv, Stats{TotalSteps: 1, SuccessSteps: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.State != domain.ConvCompleted {
		t.Fatalf("expected completed state, got %v", conv.State)
	}
	if conv.FinalResponse != "All done." {
		t.Fatalf("unexpected final response: %q", conv.FinalResponse)
	}
}

func TestFinalizeComputesDuration(t *testing.T) {
	start := time.Now()
	conv := &domain.Conversation{
		State: domain.ConvCompleted,
		Turns: []domain.Turn{
			{Timestamp: start},
			{Timestamp: start.Add(2 * time.Second)},
		},
	}
	dur := Finalize(conv)
	if dur != 2*time.Second {
		t.Fatalf("expected 2s duration, got %v", dur)
	}
}
