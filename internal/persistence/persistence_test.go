package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool := NewDBPool()
	t.Cleanup(func() { pool.Close() })

	db, err := pool.Get(DBConfig{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := ApplyMigrations(context.Background(), db, UserMigrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewStore(db)
}

func TestMigrationsApplyIdempotently(t *testing.T) {
	s := newTestStore(t)
	if err := ApplyMigrations(context.Background(), s.db, UserMigrations()); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
}

func TestMigrationChecksumMismatchRejected(t *testing.T) {
	s := newTestStore(t)
	tampered := UserMigrations()
	tampered[0].SQL = tampered[0].SQL + "\n-- tampered"
	if err := ApplyMigrations(context.Background(), s.db, tampered); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := domain.Session{ID: "s1", UserID: "u1", Status: domain.SessionActive, AgentConfig: domain.AgentConfig{Name: "default"}}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "u1" || got.Status != domain.SessionActive {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := s.IncrementSessionUsage(ctx, "s1", 2, 150); err != nil {
		t.Fatalf("increment usage: %v", err)
	}
	got, err = s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session after increment: %v", err)
	}
	if got.ToolCalls != 2 || got.TokensUsed != 150 {
		t.Fatalf("usage not incremented: %+v", got)
	}
}

func TestConversationAppendAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1", UserID: "u1", AgentConfig: domain.AgentConfig{Name: "default"}}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.InitConversation(ctx, "s1"); err != nil {
		t.Fatalf("init conversation: %v", err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.Turn{Role: domain.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("append message: %v", err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.Turn{Role: domain.RoleAssistant, Content: "hi"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	conv, err := s.GetConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[0].Content != "hello" || conv.Turns[1].Content != "hi" {
		t.Fatalf("unexpected turns: %+v", conv.Turns)
	}
}

func TestTaskDependenciesSatisfied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	dep, err := s.CreateAsyncTask(ctx, AsyncTask{SessionID: "s1", Description: "fetch"})
	if err != nil {
		t.Fatalf("create dep task: %v", err)
	}
	main, err := s.CreateAsyncTask(ctx, AsyncTask{SessionID: "s1", Description: "process"})
	if err != nil {
		t.Fatalf("create main task: %v", err)
	}
	if err := s.AddTaskDependency(ctx, main, dep); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	ok, err := s.DependenciesSatisfied(ctx, main)
	if err != nil {
		t.Fatalf("check deps: %v", err)
	}
	if ok {
		t.Fatal("expected dependency not yet satisfied")
	}

	if err := s.UpdateTaskStatus(ctx, dep, TaskCompleted); err != nil {
		t.Fatalf("update dep status: %v", err)
	}
	ok, err = s.DependenciesSatisfied(ctx, main)
	if err != nil {
		t.Fatalf("check deps: %v", err)
	}
	if !ok {
		t.Fatal("expected dependency satisfied after completion")
	}
}

func TestContainerUpsertAndMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := domain.ContainerRecord{
		ID: "c1", UserID: "u1", Image: "alpine", Command: []string{"sh"},
		Env: map[string]string{"FOO": "bar"}, State: domain.ContainerCreated,
	}
	if err := s.UpsertContainer(ctx, c); err != nil {
		t.Fatalf("upsert container: %v", err)
	}
	got, err := s.GetContainer(ctx, "c1")
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	if got.Image != "alpine" || got.Env["FOO"] != "bar" {
		t.Fatalf("unexpected container: %+v", got)
	}

	if err := s.RecordContainerMetric(ctx, "c1", domain.ResourceUsage{CPUMillis: 500, MemoryPeakKB: 2048}); err != nil {
		t.Fatalf("record metric: %v", err)
	}
}

func TestPatternConfidenceUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.ContainerPattern{ID: "p1", Trigger: "run python script", Confidence: 0.5, CreatedAt: time.Now()}
	if err := s.UpsertPattern(ctx, p); err != nil {
		t.Fatalf("upsert pattern: %v", err)
	}
	p.Confidence = 0.65
	p.Usage.SuccessCount = 1
	p.Usage.Total = 1
	if err := s.UpsertPattern(ctx, p); err != nil {
		t.Fatalf("update pattern: %v", err)
	}

	got, err := s.GetPattern(ctx, "p1")
	if err != nil {
		t.Fatalf("get pattern: %v", err)
	}
	if got.Confidence != 0.65 || got.Usage.SuccessCount != 1 {
		t.Fatalf("unexpected pattern: %+v", got)
	}

	if err := s.RecordLearningFeedback(ctx, "p1", "success", 0.15); err != nil {
		t.Fatalf("record feedback: %v", err)
	}
}
