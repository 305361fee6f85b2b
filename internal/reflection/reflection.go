// Package reflection implements the §4.8 reflection engine: per-step
// self-assessment via the built-in ponder tool, with suggested actions
// the execution engine honors. Grounded on the teacher's
// reasoning/chain_of_thought_strategy.go reflectOnProgress step,
// generalized into a standalone engine.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/tools"
)

// ToolExecutor is the subset of tools.Registry the reflection engine needs.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (tools.Result, error)
}

// Engine produces reflections over executed steps.
type Engine struct {
	Tools ToolExecutor
}

// NewEngine builds a reflection Engine.
func NewEngine(toolExec ToolExecutor) *Engine {
	return &Engine{Tools: toolExec}
}

// Reflect constructs the §4.8 query for step, invokes ponder, and returns
// the resulting Reflection. It never returns an error that the caller must
// special-case: on tool failure the ponder tool itself already surfaces a
// fallback reflection with suggested_action = abort.
func (e *Engine) Reflect(ctx context.Context, sessionID string, step domain.ExecutionStep, agent domain.AgentConfig, plan *domain.Plan, history []domain.ExecutionStep) (domain.Reflection, error) {
	query := buildQuery(step)
	renderedHistory := renderHistory(agent, plan, history)

	result, err := e.Tools.Execute(ctx, sessionID, "ponder", map[string]any{
		"step_id": step.ID,
		"history": query + "\n\n" + renderedHistory,
	}, agent.Capabilities)
	if err != nil {
		return domain.Reflection{
			StepID: step.ID, SuggestedAction: domain.ActionAbort,
			Rationale: "ponder tool invocation failed: " + err.Error(),
		}, nil
	}

	reflection, ok := result.Output.(domain.Reflection)
	if !ok {
		return domain.Reflection{
			StepID: step.ID, SuggestedAction: domain.ActionAbort,
			Rationale: "ponder tool returned an unexpected result shape",
		}, nil
	}
	return reflection, nil
}

// buildQuery implements §4.8's two query templates.
func buildQuery(step domain.ExecutionStep) string {
	label := step.ToolUsed
	if label == "" {
		label = step.AgentUsed
	}
	if label == "" {
		label = step.ContainerUsed
	}
	if step.Success {
		return fmt.Sprintf("My action %s succeeded; was it optimal? Suggest improvements.", label)
	}
	return fmt.Sprintf("My action %s failed with %s. Diagnose and recommend {retry, modify_plan, abort, use_different_tool}.", label, step.Error)
}

// renderHistory renders a bounded textual summary of recent execution
// history, the agent config, and the current plan — the policy of how
// much history to include is Open Question (a) of SPEC_FULL.md §9,
// resolved here as "render every completed step's one-line summary".
func renderHistory(agent domain.AgentConfig, plan *domain.Plan, history []domain.ExecutionStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent=%s tools=%v\n", agent.Name, agent.Tools)
	if plan != nil {
		fmt.Fprintf(&b, "plan_task=%q steps=%d\n", plan.Task, len(plan.Steps))
	}
	for _, h := range history {
		status := "ok"
		if !h.Success {
			status = "error: " + h.Error
		}
		fmt.Fprintf(&b, "- step %s (%s): %s\n", h.PlannedStepID, status, h.Summary)
	}
	return b.String()
}

// NextAction maps a reflection's suggested action to what the execution
// engine should do next, defaulting unknown/empty actions to abort so a
// malformed action string never silently continues.
func NextAction(r domain.Reflection) domain.SuggestedAction {
	switch r.SuggestedAction {
	case domain.ActionContinue, domain.ActionRetry, domain.ActionModifyPlan, domain.ActionUseDifferentTool, domain.ActionAbort:
		return r.SuggestedAction
	default:
		return domain.ActionAbort
	}
}
