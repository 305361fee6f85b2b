package domain

import "testing"

func TestPlannedStepValidate(t *testing.T) {
	cases := []struct {
		name    string
		step    PlannedStep
		wantErr bool
	}{
		{"tool_call missing name", PlannedStep{Type: StepToolCall}, true},
		{"tool_call ok", PlannedStep{Type: StepToolCall, ToolName: "echo"}, false},
		{"agent_invocation missing name", PlannedStep{Type: StepAgentInvocation}, true},
		{"container missing spec", PlannedStep{Type: StepContainerWorkload}, true},
		{"container ok", PlannedStep{Type: StepContainerWorkload, Container: &ContainerSpec{Image: "alpine"}}, false},
		{"reasoning always ok", PlannedStep{Type: StepReasoning}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.step.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestAgentConfigHasToolAndCapability(t *testing.T) {
	a := AgentConfig{Tools: []string{"echo", "search"}, Capabilities: []string{"network"}}
	if !a.HasTool("echo") || a.HasTool("missing") {
		t.Fatal("HasTool mismatch")
	}
	if !a.HasCapability("network") || a.HasCapability("elevated") {
		t.Fatal("HasCapability mismatch")
	}
}

func TestExecutionStepDuration(t *testing.T) {
	s := ExecutionStep{}
	if s.Duration() != 0 {
		t.Fatalf("expected zero duration for zero-value step, got %v", s.Duration())
	}
}
