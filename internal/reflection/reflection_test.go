package reflection

import (
	"context"
	"errors"
	"testing"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/tools"
)

type fakeToolExecutor struct {
	output domain.Reflection
	err    error
}

func (f *fakeToolExecutor) Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (tools.Result, error) {
	if f.err != nil {
		return tools.Result{}, f.err
	}
	return tools.Result{Success: true, Output: f.output}, nil
}

func TestReflectReturnsToolOutput(t *testing.T) {
	exec := &fakeToolExecutor{output: domain.Reflection{StepID: "s1", SuggestedAction: domain.ActionContinue}}
	engine := NewEngine(exec)

	step := domain.ExecutionStep{ID: "e1", PlannedStepID: "s1", Success: true, ToolUsed: "echo"}
	reflection, err := engine.Reflect(context.Background(), "sess1", step, domain.AgentConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reflection.SuggestedAction != domain.ActionContinue {
		t.Fatalf("expected continue, got %v", reflection.SuggestedAction)
	}
}

func TestReflectFallsBackToAbortOnToolError(t *testing.T) {
	exec := &fakeToolExecutor{err: errors.New("boom")}
	engine := NewEngine(exec)

	step := domain.ExecutionStep{ID: "e1", PlannedStepID: "s1", Success: false, Error: "boom", ToolUsed: "echo"}
	reflection, err := engine.Reflect(context.Background(), "sess1", step, domain.AgentConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reflection.SuggestedAction != domain.ActionAbort {
		t.Fatalf("expected abort fallback, got %v", reflection.SuggestedAction)
	}
}

func TestNextActionDefaultsUnknownToAbort(t *testing.T) {
	if got := NextAction(domain.Reflection{SuggestedAction: "bogus"}); got != domain.ActionAbort {
		t.Fatalf("expected abort for unknown action, got %v", got)
	}
}
