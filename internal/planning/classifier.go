// Package planning implements the §4.7 planning engine: task complexity
// classification, plan synthesis via the createPlan tool with a tolerant
// JSON parser, and plan scoring. Grounded on the teacher's
// reasoning/factory.go strategy-selection idiom, generalized from
// selecting a ReasoningStrategy to selecting a Complexity.
package planning

import (
	"regexp"
	"strings"
)

// Complexity classifies a task's execution path (§4.7).
type Complexity string

const (
	ComplexitySimple    Complexity = "simple"
	ComplexityMultiStep Complexity = "multi_step"
)

// TaskAnalysis is the classifier's verdict.
type TaskAnalysis struct {
	Complexity        Complexity
	RequiresPlanning  bool
	RequiresContainers bool
	EstimatedSteps    int
	Reasoning         string
}

var (
	multiStepMarkers  = []string{"then", "first", "finally", "create a plan", "and then", "next,", "after that"}
	containerMarkers  = []string{"container", "sandbox", "docker", "image", "isolated environment"}
	enumerationMarker = regexp.MustCompile(`(?i)\b(first|then|finally|next)\b`)
)

// ComplexityClassifier is a stateless heuristic classifier over task text
// plus the agent's permitted tool list (§4.7, §4.9 "Multi-tool detection").
type ComplexityClassifier struct {
	// LengthThreshold is the character length above which a task is
	// considered complex on its own. Spec default 160.
	LengthThreshold int
}

// NewComplexityClassifier builds a classifier with the spec's default
// length threshold.
func NewComplexityClassifier() *ComplexityClassifier {
	return &ComplexityClassifier{LengthThreshold: 160}
}

// Classify analyzes task against the agent's permitted tools, implementing
// both the base heuristic and the "multi-tool detection" escalation rule
// of §4.9: a task naming multiple permitted tools, or containing
// enumeration markers, is treated as multi-step even if otherwise simple.
func (c *ComplexityClassifier) Classify(task string, permittedTools []string) TaskAnalysis {
	lower := strings.ToLower(task)
	var reasons []string

	hasMarker := false
	for _, m := range multiStepMarkers {
		if strings.Contains(lower, m) {
			hasMarker = true
			reasons = append(reasons, "contains multi-step marker %q")
			break
		}
	}

	requiresContainers := false
	for _, m := range containerMarkers {
		if strings.Contains(lower, m) {
			requiresContainers = true
			reasons = append(reasons, "mentions container-related term")
			break
		}
	}

	longTask := len(task) > c.LengthThreshold
	if longTask {
		reasons = append(reasons, "task text exceeds length threshold")
	}

	toolMentions := 0
	for _, name := range permittedTools {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			toolMentions++
		}
	}
	multiTool := toolMentions > 1 || enumerationMarker.MatchString(task)
	if multiTool {
		reasons = append(reasons, "mentions multiple permitted tools or enumeration markers")
	}

	complex := hasMarker || longTask || multiTool
	analysis := TaskAnalysis{
		RequiresContainers: requiresContainers,
		Reasoning:          strings.Join(reasons, "; "),
	}
	if complex {
		analysis.Complexity = ComplexityMultiStep
		analysis.RequiresPlanning = true
		analysis.EstimatedSteps = estimateSteps(task, toolMentions)
	} else {
		analysis.Complexity = ComplexitySimple
		analysis.RequiresPlanning = false
		analysis.EstimatedSteps = 1
	}
	if analysis.Reasoning == "" {
		analysis.Reasoning = "no multi-step signal found; treating as single-shot"
	}
	return analysis
}

func estimateSteps(task string, toolMentions int) int {
	steps := toolMentions
	steps += strings.Count(strings.ToLower(task), "then")
	if steps < 2 {
		steps = 2
	}
	if steps > 10 {
		steps = 10
	}
	return steps
}
