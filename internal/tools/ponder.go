package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
)

// PonderTool is the §4.4 built-in `ponder`: a single completion call that
// produces a structured Reflection over recent execution history. Per
// Open Question (a) in SPEC_FULL.md, how much history to include is a
// caller-supplied string, not something this tool trims itself.
type PonderTool struct {
	Provider llm.Provider
}

const ponderSystemPrompt = `You are a reflection assistant. Given a step's execution history, assess it and suggest a next action.
Respond with ONLY a JSON object of this exact shape, no prose:
{
  "assessment": {"performance": 0.0, "quality": 0.0, "efficiency": 0.0},
  "suggested_action": "continue" | "retry" | "modify_plan" | "use_different_tool" | "abort",
  "rationale": "...",
  "confidence": 0.0
}`

func (t *PonderTool) Info() Info {
	return Info{
		Name:        "ponder",
		Description: "Produce a structured reflection over recent execution history",
		Parameters: []Parameter{
			{Name: "step_id", Type: "string", Description: "the step being reflected on", Required: true},
			{Name: "history", Type: "string", Description: "rendered execution history", Required: true},
		},
	}
}

// fallbackReflection is returned when the completion fails or returns
// unparseable JSON. Per §4.8 this must never silently succeed: it
// surfaces suggested_action = abort with low efficiency/quality rather
// than defaulting to continue.
func fallbackReflection(stepID, reason string) domain.Reflection {
	return domain.Reflection{
		StepID: stepID,
		Assessment: map[domain.AssessmentDimension]float64{
			domain.AssessPerformance: 0.3, domain.AssessQuality: 0.2, domain.AssessEfficiency: 0.2,
		},
		SuggestedAction: domain.ActionAbort,
		Rationale:       "reflection unavailable: " + reason,
		Confidence:      0,
	}
}

func (t *PonderTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	stepID, _ := args["step_id"].(string)
	history, _ := args["history"].(string)
	if stepID == "" {
		return Result{Success: false, Error: "step_id is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryReflection, aerrors.SeverityMedium, "step_id is required")
	}

	resp, err := t.Provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: ponderSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Step: %s\n\nHistory:\n%s", stepID, history)},
	}, nil)
	if err != nil {
		fallback := fallbackReflection(stepID, err.Error())
		return Result{Success: true, Output: fallback, Metadata: map[string]any{"fallback": true}}, nil
	}

	var parsed struct {
		Assessment      map[string]float64 `json:"assessment"`
		SuggestedAction string              `json:"suggested_action"`
		Rationale       string              `json:"rationale"`
		Confidence      float64             `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		fallback := fallbackReflection(stepID, "malformed JSON response")
		return Result{Success: true, Output: fallback, Metadata: map[string]any{"fallback": true}}, nil
	}

	assessment := make(map[domain.AssessmentDimension]float64, len(parsed.Assessment))
	for k, v := range parsed.Assessment {
		assessment[domain.AssessmentDimension(k)] = v
	}

	reflection := domain.Reflection{
		StepID: stepID, Assessment: assessment,
		SuggestedAction: domain.SuggestedAction(parsed.SuggestedAction),
		Rationale:       parsed.Rationale, Confidence: parsed.Confidence,
	}
	return Result{Success: true, Output: reflection, Metadata: map[string]any{"tokens": resp.TotalTokens}}, nil
}
