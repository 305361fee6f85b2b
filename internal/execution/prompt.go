package execution

import (
	"fmt"
	"strings"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/tools"
)

// PromptMode selects one of the two specialized system-prompt variants of
// §4.9 "System prompt construction".
type PromptMode string

const (
	ModeDefault      PromptMode = ""
	ModeOrchestration PromptMode = "orchestration"
	ModePlanning     PromptMode = "planning"
)

var agentTypeTemplates = map[string]string{
	"default":    "You are a helpful assistant that completes tasks using the tools available to you.",
	"researcher": "You are a careful research assistant. Verify claims before asserting them.",
	"coder":      "You are a precise software engineering assistant. Prefer minimal, correct changes.",
}

// BuildSystemPrompt composes the system prompt from the agent's custom
// prompt or an agent_type template, the available tool descriptions, a
// JSON-output protocol clause, declared directives/capabilities, a
// memory-available notice, and the mode-specific clause.
func BuildSystemPrompt(agent domain.AgentConfig, toolInfos []tools.Info, mode PromptMode) string {
	var b strings.Builder

	base := agent.SystemPrompt
	if base == "" {
		agentType := agent.AgentType
		if agentType == "" {
			agentType = "default"
		}
		base = agentTypeTemplates[agentType]
		if base == "" {
			base = agentTypeTemplates["default"]
		}
	}
	b.WriteString(base)
	b.WriteString("\n\n")

	if len(toolInfos) > 0 {
		b.WriteString("Available tools:\n")
		for _, info := range toolInfos {
			fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
		}
		b.WriteString("\nWhen you need a tool, respond with a tool call matching its declared schema; otherwise respond in plain text.\n\n")
	}

	if len(agent.Capabilities) > 0 {
		fmt.Fprintf(&b, "Declared capabilities: %s\n\n", strings.Join(agent.Capabilities, ", "))
	}

	if agent.MemoryEnabled {
		b.WriteString("You have access to memory from prior turns in this session.\n\n")
	}

	switch mode {
	case ModeOrchestration:
		b.WriteString("Operate in orchestration mode: invoke exactly one tool at a time and wait for its result before the next. Once all necessary tools have run, produce a final synthesis of the outcome.\n")
	case ModePlanning:
		b.WriteString("Operate in planning mode: decompose the objective into the smallest sufficient number of steps, make dependencies between steps explicit, and respond only with the declared JSON plan shape.\n")
	}

	return strings.TrimSpace(b.String())
}
