package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
)

// CreatePlanTool is the §4.4 built-in `createPlan`: it issues one `complete`
// call with a fixed prompt and parses the model's JSON reply into a Plan.
// Grounded on the teacher's pattern of LLM-backed builtin tools (e.g.
// pkg/tools/todo.go) that wrap a single structured-output completion.
type CreatePlanTool struct {
	Provider llm.Provider
}

const createPlanSystemPrompt = `You are a planning assistant. Given an objective and context, produce a JSON execution plan.
Respond with ONLY a JSON object of this exact shape, no prose:
{
  "steps": [
    {
      "id": "step_1",
      "description": "...",
      "type": "tool_call" | "agent_invocation" | "container_workload" | "reasoning" | "pipeline",
      "tool_name": "...",
      "agent_name": "...",
      "params": {},
      "success_criteria": "...",
      "timeout_sec": 30,
      "retry_count": 1
    }
  ],
  "confidence": 0.0
}`

func (t *CreatePlanTool) Info() Info {
	return Info{
		Name:        "createPlan",
		Description: "Produce a JSON execution plan from an objective and context",
		Parameters: []Parameter{
			{Name: "objective", Type: "string", Description: "the task to plan for", Required: true},
			{Name: "context", Type: "string", Description: "relevant prior context", Required: false},
		},
	}
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON tolerates models that wrap their JSON reply in prose or code
// fences by taking the first/last brace span.
func extractJSON(text string) string {
	if m := jsonObjectPattern.FindString(text); m != "" {
		return m
	}
	return text
}

func (t *CreatePlanTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	objective, _ := args["objective"].(string)
	if objective == "" {
		return Result{Success: false, Error: "objective is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryPlanning, aerrors.SeverityMedium, "objective is required")
	}
	contextStr, _ := args["context"].(string)

	userPrompt := fmt.Sprintf("Objective: %s\n\nContext:\n%s", objective, contextStr)
	resp, err := t.Provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: createPlanSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodePlanningFailed, aerrors.CategoryPlanning, aerrors.SeverityHigh, "createPlan completion failed", err)
	}

	var parsed struct {
		Steps []struct {
			ID              string         `json:"id"`
			Description     string         `json:"description"`
			Type            string         `json:"type"`
			ToolName        string         `json:"tool_name"`
			AgentName       string         `json:"agent_name"`
			Params          map[string]any `json:"params"`
			SuccessCriteria string         `json:"success_criteria"`
			TimeoutSec      int            `json:"timeout_sec"`
			RetryCount      int            `json:"retry_count"`
		} `json:"steps"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		return Result{Success: false, Error: "invalid plan JSON: " + err.Error()}, aerrors.Wrap(
			aerrors.CodePlanningFailed, aerrors.CategoryPlanning, aerrors.SeverityHigh, "parse plan JSON", err)
	}

	plan := domain.Plan{Task: objective, Confidence: parsed.Confidence, CreatedAt: time.Now()}
	for _, s := range parsed.Steps {
		step := domain.PlannedStep{
			ID: s.ID, Description: s.Description, Type: domain.StepType(s.Type),
			ToolName: s.ToolName, AgentName: s.AgentName, Params: s.Params,
			SuccessCriteria: s.SuccessCriteria, Timeout: time.Duration(s.TimeoutSec) * time.Second,
			RetryCount: s.RetryCount,
		}
		if err := step.Validate(); err != nil {
			return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
				aerrors.CodePlanningFailed, aerrors.CategoryPlanning, aerrors.SeverityMedium, "invalid planned step", err)
		}
		plan.Steps = append(plan.Steps, step)
	}

	return Result{
		Success: true, Output: plan, ToolName: "createPlan",
		Metadata: map[string]any{"tokens": resp.TotalTokens, "raw_text": resp.Text},
	}, nil
}
