package planning

import (
	"context"
	"testing"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/tools"
)

type fakeToolExecutor struct {
	rawText string
	err     error
}

func (f *fakeToolExecutor) Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (tools.Result, error) {
	if f.err != nil {
		return tools.Result{Success: false}, f.err
	}
	return tools.Result{Success: true, Metadata: map[string]any{"raw_text": f.rawText}}, nil
}

func TestSynthesizeTrivialPlanForSimpleTask(t *testing.T) {
	s := NewSynthesizer(&fakeToolExecutor{})
	plan, analysis, err := s.Synthesize(context.Background(), "What is 2 + 2?", domain.AgentConfig{}, "s1", Counters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Complexity != ComplexitySimple {
		t.Fatalf("expected simple complexity, got %v", analysis.Complexity)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected one trivial step, got %d", len(plan.Steps))
	}
}

func TestSynthesizeMultiStepParsesToolSteps(t *testing.T) {
	raw := `{"steps":[
		{"id":"step_1","description":"echo A","type":"tool_call","tool_name":"echo","params":{"text":"A"}},
		{"id":"step_2","description":"echo result","type":"tool_call","tool_name":"echo","params":{"text":"${step_1.result.text}"}}
	],"confidence":0.9}`
	s := NewSynthesizer(&fakeToolExecutor{rawText: raw})
	agent := domain.AgentConfig{Tools: []string{"echo"}}

	plan, analysis, err := s.Synthesize(context.Background(), "First echo 'A' with the echo tool, then echo '${step_1.result.text}'", agent, "s1", Counters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Complexity != ComplexityMultiStep {
		t.Fatalf("expected multi_step, got %v", analysis.Complexity)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
}

func TestSynthesizeDropsUnpermittedToolSteps(t *testing.T) {
	raw := `{"steps":[
		{"id":"step_1","description":"do a forbidden thing","type":"tool_call","tool_name":"nuke"},
		{"id":"step_2","description":"ponder it","type":"tool_call","tool_name":"ponder"}
	]}`
	s := NewSynthesizer(&fakeToolExecutor{rawText: raw})
	agent := domain.AgentConfig{Tools: []string{"echo"}}

	plan, _, err := s.Synthesize(context.Background(), "first do the forbidden thing then ponder it", agent, "s1", Counters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolName != "ponder" {
		t.Fatalf("expected only the ponder step to survive, got %+v", plan.Steps)
	}
}

func TestSynthesizeFailsWhenNoStepsSurvive(t *testing.T) {
	s := NewSynthesizer(&fakeToolExecutor{rawText: ""})
	agent := domain.AgentConfig{}

	_, _, err := s.Synthesize(context.Background(), "first do this then that and finally something else entirely long enough to trip the length threshold for sure", agent, "s1", Counters{})
	if err == nil {
		t.Fatal("expected an error when no steps survive parsing, got nil")
	}
}
