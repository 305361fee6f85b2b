package execution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
	"github.com/ariacorp/ariarun/internal/planning"
	"github.com/ariacorp/ariarun/internal/reflection"
	"github.com/ariacorp/ariarun/internal/tools"
)

type fakeToolExec struct {
	planRawText string
	echoResult  string
}

func (f *fakeToolExec) Execute(ctx context.Context, sessionID, name string, args map[string]any, caps []string) (tools.Result, error) {
	switch name {
	case "createPlan":
		return tools.Result{Success: true, Metadata: map[string]any{"raw_text": f.planRawText}}, nil
	default:
		return tools.Result{Success: true, Content: f.echoResult, Output: f.echoResult}, nil
	}
}

func (f *fakeToolExec) ListInfo() []tools.Info {
	return []tools.Info{{Name: "echo", Description: "echoes input", Parameters: []tools.Parameter{{Name: "text", Type: "string"}}}}
}

type fakeProvider struct {
	text      string
	toolCalls []llm.ToolCall
	calls     int
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (llm.Response, error) {
	f.calls++
	if f.calls == 1 && len(f.toolCalls) > 0 {
		return llm.Response{Text: "", ToolCalls: f.toolCalls, TotalTokens: 5}, nil
	}
	return llm.Response{Text: f.text, TotalTokens: 5}, nil
}
func (f *fakeProvider) GenerateStreaming(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) ModelName() string    { return "fake" }
func (f *fakeProvider) MaxTokens() int       { return 1000 }
func (f *fakeProvider) Temperature() float64 { return 0 }
func (f *fakeProvider) Close() error         { return nil }

type fakeProviderResolver struct{ provider llm.Provider }

func (f *fakeProviderResolver) Resolve(name string) (llm.Provider, error) { return f.provider, nil }

type fakeAgentResolver struct{}

func (fakeAgentResolver) ResolveAgent(name string) (domain.AgentConfig, bool) { return domain.AgentConfig{}, false }

func newTestEngine(toolExec *fakeToolExec, provider *fakeProvider) *Engine {
	planner := planning.NewSynthesizer(toolExec)
	reflector := reflection.NewEngine(toolExec)
	return NewEngine(toolExec, &fakeProviderResolver{provider: provider}, nil, fakeAgentResolver{}, planner, reflector)
}

func TestExecuteSingleShotCompletesWithoutToolCalls(t *testing.T) {
	toolExec := &fakeToolExec{}
	provider := &fakeProvider{text: "4"}
	engine := newTestEngine(toolExec, provider)

	agent := domain.AgentConfig{Name: "a", Tools: []string{"echo"}, MaxIterations: 3}
	result, err := engine.Execute(context.Background(), "What is 2 + 2?", agent, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuggestedAction != domain.ActionContinue {
		t.Fatalf("expected continue, got %v", result.SuggestedAction)
	}
	if len(result.RuntimeContext.History) != 1 {
		t.Fatalf("expected 1 recorded step, got %d", len(result.RuntimeContext.History))
	}
	if !result.RuntimeContext.History[0].Success {
		t.Fatalf("expected success step")
	}
}

func TestExecuteSingleShotDispatchesToolCallThenFinishes(t *testing.T) {
	toolExec := &fakeToolExec{echoResult: "echoed"}
	provider := &fakeProvider{
		text:      "done",
		toolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "hi"}}},
	}
	engine := newTestEngine(toolExec, provider)

	agent := domain.AgentConfig{Name: "a", Tools: []string{"echo"}, MaxIterations: 3}
	result, err := engine.Execute(context.Background(), "Please say hi", agent, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuggestedAction != domain.ActionContinue {
		t.Fatalf("expected continue, got %v", result.SuggestedAction)
	}
	if provider.calls < 2 {
		t.Fatalf("expected at least 2 completion calls (tool round + final), got %d", provider.calls)
	}
}

func TestExecutePlannedPathRunsToolSteps(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"steps": []map[string]any{
			{"id": "step_1", "type": "tool_call", "tool_name": "echo", "description": "say hi", "params": map[string]any{"text": "hi"}},
			{"id": "step_2", "type": "tool_call", "tool_name": "echo", "description": "say bye", "params": map[string]any{"text": "bye"}},
		},
	})
	toolExec := &fakeToolExec{planRawText: string(raw), echoResult: "ok"}
	provider := &fakeProvider{text: "summary"}
	engine := newTestEngine(toolExec, provider)

	task := "First say hi, then say bye, and finally create a plan for it"
	agent := domain.AgentConfig{Name: "a", Tools: []string{"echo"}, ReflectionOn: false}
	result, err := engine.Execute(context.Background(), task, agent, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuggestedAction != domain.ActionContinue {
		t.Fatalf("expected continue, got %v", result.SuggestedAction)
	}
	if len(result.RuntimeContext.History) != 2 {
		t.Fatalf("expected 2 executed steps, got %d", len(result.RuntimeContext.History))
	}
	for _, step := range result.RuntimeContext.History {
		if !step.Success {
			t.Fatalf("expected all steps to succeed, got failure: %s", step.Error)
		}
		if step.ToolUsed != "echo" {
			t.Fatalf("expected tool_used=echo, got %q", step.ToolUsed)
		}
	}
}

func TestExecuteStepResolvesPlaceholderFromHistory(t *testing.T) {
	toolExec := &fakeToolExec{echoResult: "ok"}
	provider := &fakeProvider{}
	engine := newTestEngine(toolExec, provider)

	rc := &domain.RuntimeContext{
		SessionID: "s1",
		History: []domain.ExecutionStep{
			{ID: "step_1", Result: map[string]any{"value": "hello"}},
		},
	}
	step := domain.PlannedStep{
		ID: "step_2", Type: domain.StepToolCall, ToolName: "echo",
		Params: map[string]any{"text": "${step_1.value}"},
	}
	agent := domain.AgentConfig{Tools: []string{"echo"}}
	execStep, err := engine.ExecuteStep(context.Background(), step, rc, agent, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if execStep.ResolvedParams["text"] != "hello" {
		t.Fatalf("expected resolved placeholder 'hello', got %v", execStep.ResolvedParams["text"])
	}
}

func TestExecuteStepFailsOnUnresolvablePlaceholder(t *testing.T) {
	toolExec := &fakeToolExec{}
	provider := &fakeProvider{}
	engine := newTestEngine(toolExec, provider)

	rc := &domain.RuntimeContext{SessionID: "s1"}
	step := domain.PlannedStep{
		ID: "step_1", Type: domain.StepToolCall, ToolName: "echo",
		Params: map[string]any{"text": "${step_1.value}"},
	}
	agent := domain.AgentConfig{Tools: []string{"echo"}}
	_, err := engine.ExecuteStep(context.Background(), step, rc, agent, "s1")
	if err == nil {
		t.Fatalf("expected placeholder resolution error")
	}
}
