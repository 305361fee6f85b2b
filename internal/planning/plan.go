package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/tools"
)

// ToolExecutor is the subset of tools.Registry the planning engine needs:
// enough to invoke the built-in createPlan tool without depending on the
// registry's full surface.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (tools.Result, error)
}

// Synthesizer produces plans from a task and agent configuration (§4.7
// "Plan synthesis").
type Synthesizer struct {
	Tools      ToolExecutor
	Classifier *ComplexityClassifier
}

// NewSynthesizer builds a Synthesizer with a default classifier.
func NewSynthesizer(toolExec ToolExecutor) *Synthesizer {
	return &Synthesizer{Tools: toolExec, Classifier: NewComplexityClassifier()}
}

// Counters mirrors the agent's running aggregate counters, passed into the
// createPlan tool's context per §4.7.
type Counters struct {
	ToolCalls  int
	TokensUsed int
}

// Synthesize classifies task, then either returns a trivial one-step plan
// or invokes createPlan and tolerantly parses its JSON output.
func (s *Synthesizer) Synthesize(ctx context.Context, task string, agent domain.AgentConfig, sessionID string, counters Counters) (domain.Plan, TaskAnalysis, error) {
	analysis := s.Classifier.Classify(task, agent.Tools)

	if !analysis.RequiresPlanning {
		plan := trivialPlan(task)
		score(&plan, analysis)
		return plan, analysis, nil
	}

	result, err := s.Tools.Execute(ctx, sessionID, "createPlan", map[string]any{
		"objective": task,
		"context": fmt.Sprintf("agent_name=%s available_tools=%v session_id=%s tool_calls=%d tokens_used=%d",
			agent.Name, agent.Tools, sessionID, counters.ToolCalls, counters.TokensUsed),
	}, agent.Capabilities)
	if err != nil {
		return domain.Plan{}, analysis, aerrors.Wrap(aerrors.CodePlanningFailed, aerrors.CategoryPlanning,
			aerrors.SeverityHigh, "createPlan invocation failed", err)
	}

	raw, _ := result.Metadata["raw_text"].(string)
	steps := parseTolerant(raw, agent.Tools)
	if len(steps) == 0 {
		steps = lineOrientedFallback(raw)
	}
	if len(steps) == 0 {
		return domain.Plan{}, analysis, aerrors.New(aerrors.CodePlanningFailed, aerrors.CategoryPlanning,
			aerrors.SeverityHigh, "no plan steps survived parsing")
	}

	plan := domain.Plan{Task: task, Steps: steps, CreatedAt: time.Now()}
	score(&plan, analysis)
	return plan, analysis, nil
}

func trivialPlan(task string) domain.Plan {
	return domain.Plan{
		Task: task,
		Steps: []domain.PlannedStep{{
			ID: "step_1", Description: task, Type: domain.StepReasoning,
			Timeout: 30 * time.Second,
		}},
		CreatedAt: time.Now(),
	}
}

// score implements §4.7 "Plan scoring": confidence as a simple function of
// (requires_planning, steps.len()); duration is 30s/step; resources sum
// container step limits.
func score(plan *domain.Plan, analysis TaskAnalysis) {
	switch {
	case len(plan.Steps) == 0:
		plan.Confidence = 0.2
	case analysis.RequiresPlanning:
		plan.Confidence = 0.85
	default:
		plan.Confidence = 0.5
	}
	plan.EstimatedDuration = 30 * time.Second * time.Duration(len(plan.Steps))

	var totals domain.ResourceLimits
	for _, step := range plan.Steps {
		if step.Container == nil {
			continue
		}
		totals.MemoryMB += step.Container.Limits.MemoryMB
		totals.CPUCores += step.Container.Limits.CPUCores
		totals.TimeoutSec += step.Container.Limits.TimeoutSec
	}
	plan.ResourceEstimate = totals
}

// rawStep is the tolerant-parse target for one plan step.
type rawStep struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	Type            string         `json:"type"`
	ToolName        string         `json:"tool_name"`
	AgentName       string         `json:"agent_name"`
	Params          map[string]any `json:"params"`
	SuccessCriteria string         `json:"success_criteria"`
	TimeoutSec      int            `json:"timeout_sec"`
	RetryCount      int            `json:"retry_count"`
}

// parseTolerant implements §4.7's tolerant plan parser: accepts a top-level
// "steps" array, a "plan.steps" nested array, the root itself being an
// array, or an array-valued property of the root object (which one is not
// defined when the root has several). Steps
// referencing tools outside permittedTools are silently dropped unless
// the tool is ponder or createPlan.
func parseTolerant(raw string, permittedTools []string) []domain.PlannedStep {
	raw = extractJSONBlob(raw)
	if raw == "" {
		return nil
	}

	var anyVal any
	if err := json.Unmarshal([]byte(raw), &anyVal); err != nil {
		return nil
	}

	rawSteps := findStepsArray(anyVal)
	if rawSteps == nil {
		return nil
	}

	stepBytes, err := json.Marshal(rawSteps)
	if err != nil {
		return nil
	}
	var parsed []rawStep
	if err := json.Unmarshal(stepBytes, &parsed); err != nil {
		return nil
	}

	permitted := make(map[string]bool, len(permittedTools))
	for _, t := range permittedTools {
		permitted[t] = true
	}

	var steps []domain.PlannedStep
	for i, rs := range parsed {
		if rs.Type == string(domain.StepToolCall) && rs.ToolName != "" &&
			!permitted[rs.ToolName] && rs.ToolName != "ponder" && rs.ToolName != "createPlan" {
			continue
		}
		id := rs.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", i+1)
		}
		step := domain.PlannedStep{
			ID: id, Description: rs.Description, Type: domain.StepType(rs.Type),
			ToolName: rs.ToolName, AgentName: rs.AgentName, Params: rs.Params,
			SuccessCriteria: rs.SuccessCriteria, RetryCount: rs.RetryCount,
		}
		if rs.TimeoutSec > 0 {
			step.Timeout = time.Duration(rs.TimeoutSec) * time.Second
		} else {
			step.Timeout = 30 * time.Second
		}
		if step.Type == "" {
			step.Type = domain.StepReasoning
		}
		if step.Validate() != nil {
			continue
		}
		steps = append(steps, step)
	}
	return steps
}

// findStepsArray locates the steps array per the tolerant-parse rule
// order: root["steps"], root["plan"]["steps"], root itself as an array,
// or an array-valued property of root, taken in map iteration order.
func findStepsArray(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if steps, ok := obj["steps"].([]any); ok {
		return steps
	}
	if plan, ok := obj["plan"].(map[string]any); ok {
		if steps, ok := plan["steps"].([]any); ok {
			return steps
		}
	}
	for _, val := range obj {
		if arr, ok := val.([]any); ok {
			return arr
		}
	}
	return nil
}

var jsonBlobPattern = regexp.MustCompile(`(?s)[\{\[].*[\}\]]`)

func extractJSONBlob(text string) string {
	return jsonBlobPattern.FindString(text)
}

var leadingOrdinal = regexp.MustCompile(`^\s*(\d+[.)]|[-*•]|step\s+\d+:?)\s*`)

// lineOrientedFallback strips leading ordinals/bullets and treats every
// remaining non-empty line as one reasoning step, per §4.7's last-resort
// parse path.
func lineOrientedFallback(raw string) []domain.PlannedStep {
	lines := strings.Split(raw, "\n")
	var steps []domain.PlannedStep
	for _, line := range lines {
		line = strings.TrimSpace(leadingOrdinal.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		steps = append(steps, domain.PlannedStep{
			ID: "step_" + strconv.Itoa(len(steps)+1), Description: line,
			Type: domain.StepReasoning, Timeout: 30 * time.Second,
		})
	}
	return steps
}
