package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

type fakePatternStore struct {
	patterns []domain.ContainerPattern
	feedback []string
}

func (f *fakePatternStore) ListPatterns(ctx context.Context) ([]domain.ContainerPattern, error) {
	return f.patterns, nil
}

func (f *fakePatternStore) UpsertPattern(ctx context.Context, p domain.ContainerPattern) error {
	for i, existing := range f.patterns {
		if existing.ID == p.ID {
			f.patterns[i] = p
			return nil
		}
	}
	f.patterns = append(f.patterns, p)
	return nil
}

func (f *fakePatternStore) RecordLearningFeedback(ctx context.Context, patternID, outcome string, delta float64) error {
	f.feedback = append(f.feedback, outcome)
	return nil
}

func TestMatchFindsSimilarTrigger(t *testing.T) {
	store := &fakePatternStore{patterns: []domain.ContainerPattern{{
		ID: "p1", Trigger: "run python script", Confidence: 0.8,
		Template: domain.ContainerSpec{Image: "python:3.12"},
	}}}
	proc := NewPatternProcessor(store, LearningConfig{})

	match, err := proc.Match(context.Background(), "run python script")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match.Kind != MatchPattern {
		t.Fatalf("expected pattern match, got %v (warning=%q)", match.Kind, match.Warning)
	}
	if match.Template.Image != "python:3.12" {
		t.Fatalf("expected template overlay to preserve image, got %q", match.Template.Image)
	}
}

func TestMatchCreateNewWhenNoSimilarTrigger(t *testing.T) {
	store := &fakePatternStore{patterns: []domain.ContainerPattern{{
		ID: "p1", Trigger: "run python script", Confidence: 0.8,
	}}}
	proc := NewPatternProcessor(store, LearningConfig{})

	match, err := proc.Match(context.Background(), "compile rust binary in isolated sandbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match.Kind != MatchCreate {
		t.Fatalf("expected create_new, got %v", match.Kind)
	}
	if match.Confidence != 0.5 {
		t.Fatalf("expected neutral confidence 0.5, got %v", match.Confidence)
	}
}

func TestRecordOutcomeAdjustsConfidence(t *testing.T) {
	store := &fakePatternStore{patterns: []domain.ContainerPattern{{
		ID: "p1", Trigger: "run python script", Confidence: 0.5,
	}}}
	proc := NewPatternProcessor(store, LearningConfig{LearningRate: 0.1, MaxConfidence: 1.0})

	if err := proc.RecordOutcome(context.Background(), store.patterns[0], true, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.patterns[0].Confidence; got <= 0.5 {
		t.Fatalf("expected confidence to increase after success, got %v", got)
	}
	if store.patterns[0].Usage.SuccessCount != 1 {
		t.Fatalf("expected success count incremented, got %d", store.patterns[0].Usage.SuccessCount)
	}
	if len(store.feedback) != 1 || store.feedback[0] != "success" {
		t.Fatalf("expected one success feedback record, got %+v", store.feedback)
	}
}

func TestPruneFindsStaleLowConfidencePatterns(t *testing.T) {
	store := &fakePatternStore{patterns: []domain.ContainerPattern{{
		ID: "stale", Confidence: 0.1, UpdatedAt: time.Now().AddDate(0, 0, -60),
	}, {
		ID: "fresh", Confidence: 0.1, UpdatedAt: time.Now(),
	}}}
	proc := NewPatternProcessor(store, LearningConfig{})

	stale, err := proc.Prune(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale" {
		t.Fatalf("expected only the stale pattern pruned, got %+v", stale)
	}
}
