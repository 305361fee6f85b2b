// Package conversation implements the §4.10 conversation engine: the
// human-facing transcript of a session's turn, grounded on the teacher's
// context/conversation.go per-session turn tracking.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
)

// Engine drives a Conversation's lifecycle through initiate/update/
// conclude/finalize.
type Engine struct {
	Provider llm.Provider
}

// NewEngine builds a conversation Engine.
func NewEngine(provider llm.Provider) *Engine {
	return &Engine{Provider: provider}
}

// Initiate opens a conversation: a low-temperature acknowledgment turn is
// generated via complete(), then the user turn and the acknowledgment are
// both appended.
func (e *Engine) Initiate(ctx context.Context, sessionID, task string) (*domain.Conversation, error) {
	conv := &domain.Conversation{SessionID: sessionID, State: domain.ConvWorking}

	conv.Turns = append(conv.Turns, domain.Turn{
		Role: domain.RoleUser, Content: task, Timestamp: time.Now(),
	})

	resp, err := e.Provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: "Acknowledge the user's request in one short sentence before work begins."},
		{Role: "user", Content: task},
	}, nil)
	ack := "On it."
	if err == nil && resp.Text != "" {
		ack = resp.Text
	}

	conv.Turns = append(conv.Turns, domain.Turn{
		Role: domain.RoleAssistant, Content: ack, Timestamp: time.Now(),
	})
	return conv, nil
}

// Update appends an assistant turn summarizing one executed step's
// outcome, linking it back to the step via turn metadata.
func (e *Engine) Update(conv *domain.Conversation, step domain.ExecutionStep) {
	var content string
	category := "tool"
	if step.Success {
		content = fmt.Sprintf("✓ Completed: %s", step.Summary)
	} else {
		content = fmt.Sprintf("✗ Failed: %s (Error: %s)", step.Summary, step.Error)
		conv.State = domain.ConvError
	}
	if step.AgentUsed != "" {
		category = "agent"
	} else if step.ContainerUsed != "" {
		category = "container"
	}

	toolOrAgent := step.ToolUsed
	if toolOrAgent == "" {
		toolOrAgent = step.AgentUsed
	}
	if toolOrAgent == "" {
		toolOrAgent = step.ContainerUsed
	}

	conv.Turns = append(conv.Turns, domain.Turn{
		Role: domain.RoleAssistant, Content: content, Timestamp: time.Now(),
		Metadata: domain.TurnMetadata{
			StepID: step.PlannedStepID, ToolOrAgent: toolOrAgent, Category: category,
			Confidence: confidenceOf(step),
		},
	})
}

func confidenceOf(step domain.ExecutionStep) float64 {
	if step.Reflection != nil {
		return step.Reflection.Confidence
	}
	if step.Success {
		return 1
	}
	return 0
}

// Stats is the aggregate turn statistics folded into the concluding
// summary prompt.
type Stats struct {
	TotalSteps   int
	SuccessSteps int
	Duration     time.Duration
}

// Conclude generates a final summary via complete(), appends it as the
// final turn, and transitions the conversation to completed.
func (e *Engine) Conclude(ctx context.Context, conv *domain.Conversation, stats Stats) error {
	conv.State = domain.ConvConcluding

	history := renderTranscript(conv)
	resp, err := e.Provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: "Summarize the outcome of this session for the user in a few sentences."},
		{Role: "user", Content: fmt.Sprintf("Transcript:\n%s\n\nSteps: %d total, %d succeeded, duration %s.",
			history, stats.TotalSteps, stats.SuccessSteps, stats.Duration)},
	}, nil)
	if err != nil {
		return aerrors.Wrap(aerrors.CodeLLMTimeout, aerrors.CategoryLLM, aerrors.SeverityMedium,
			"conversation summary completion failed", err)
	}

	conv.FinalResponse = resp.Text
	conv.Turns = append(conv.Turns, domain.Turn{
		Role: domain.RoleAssistant, Content: resp.Text, Timestamp: time.Now(),
	})
	conv.State = domain.ConvCompleted
	return nil
}

func renderTranscript(conv *domain.Conversation) string {
	out := ""
	for _, t := range conv.Turns {
		out += fmt.Sprintf("[%s] %s\n", t.Role, t.Content)
	}
	return out
}

// Finalize computes the conversation's duration from its first and last
// turn timestamps and ensures it ends in a terminal state.
func Finalize(conv *domain.Conversation) time.Duration {
	if conv.State != domain.ConvCompleted && conv.State != domain.ConvError {
		conv.State = domain.ConvError
	}
	if len(conv.Turns) < 2 {
		return 0
	}
	first := conv.Turns[0].Timestamp
	last := conv.Turns[len(conv.Turns)-1].Timestamp
	return last.Sub(first)
}
