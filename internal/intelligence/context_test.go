package intelligence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

type fakeSnapshotSource struct {
	calls int
}

func (f *fakeSnapshotSource) WorkflowState(ctx context.Context, sessionID string) (map[string]any, error) {
	f.calls++
	return map[string]any{"plan_id": "plan-1"}, nil
}

func (f *fakeSnapshotSource) ActiveContainers(ctx context.Context, sessionID string) ([]domain.ContainerRecord, error) {
	return []domain.ContainerRecord{{ID: "c1", Image: "alpine", State: domain.ContainerRunning}}, nil
}

func (f *fakeSnapshotSource) RecentTools(ctx context.Context, sessionID string) ([]string, error) {
	return []string{"write_code"}, nil
}

func (f *fakeSnapshotSource) SubAgents(ctx context.Context, sessionID string) ([]string, error) {
	return nil, nil
}

func (f *fakeSnapshotSource) Environment(ctx context.Context, sessionID string) (map[string]any, error) {
	return map[string]any{"os": "linux"}, nil
}

func TestContextTreeCachesAcrossCalls(t *testing.T) {
	src := &fakeSnapshotSource{}
	builder := NewContextTreeBuilder(src, 10, time.Minute)

	if _, err := builder.Tree(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := builder.Tree(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.calls != 1 {
		t.Fatalf("expected workflow state fetched once (cached second call), got %d calls", src.calls)
	}
	stats := builder.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestRenderForPromptRespectsMaxNodes(t *testing.T) {
	src := &fakeSnapshotSource{}
	builder := NewContextTreeBuilder(src, 10, time.Minute)

	rendered, err := builder.RenderForPrompt(context.Background(), "s1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered == "" {
		t.Fatal("expected non-empty rendering")
	}
	if lines := strings.Split(rendered, "\n"); len(lines) > 2 {
		t.Fatalf("expected at most 2 rendered lines, got %d: %q", len(lines), rendered)
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	src := &fakeSnapshotSource{}
	builder := NewContextTreeBuilder(src, 10, time.Minute)

	if _, err := builder.Tree(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	builder.Invalidate("s1")
	if _, err := builder.Tree(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d calls", src.calls)
	}
}
