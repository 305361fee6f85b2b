package llm

import "testing"

func TestTokenCounterCountIncreasesWithLength(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	short := tc.Count("hi")
	long := tc.Count("hi there, this is a much longer sentence to encode")
	if long <= short {
		t.Fatalf("expected longer text to have more tokens: short=%d long=%d", short, long)
	}
}

func TestFitWithinLimitKeepsMostRecent(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	messages := []Message{
		{Role: "user", Content: "first message"},
		{Role: "assistant", Content: "second message"},
		{Role: "user", Content: "third message"},
	}
	fitted := tc.FitWithinLimit(messages, 1)
	if len(fitted) != 0 {
		t.Fatalf("expected no messages to fit an impossibly small budget, got %d", len(fitted))
	}

	fitted = tc.FitWithinLimit(messages, 1000)
	if len(fitted) != len(messages) {
		t.Fatalf("expected all messages to fit a generous budget, got %d", len(fitted))
	}
	if fitted[len(fitted)-1].Content != "third message" {
		t.Fatalf("expected most recent message retained, got %q", fitted[len(fitted)-1].Content)
	}
}
