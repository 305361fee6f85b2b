// Package execution implements the §4.9 execution engine: single-shot and
// plan-driven dispatch, placeholder resolution, and system prompt
// construction. Grounded on the teacher's reasoning/chain_of_thought.go
// (single-shot iterate-until-no-tool-calls loop) and
// reasoning/structured_reasoning.go (multi-step plan execution).
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/llm"
	"github.com/ariacorp/ariarun/internal/planning"
	"github.com/ariacorp/ariarun/internal/reflection"
	"github.com/ariacorp/ariarun/internal/tools"
)

// ToolExecutor is the subset of tools.Registry this engine needs.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (tools.Result, error)
	ListInfo() []tools.Info
}

// ContainerRunner dispatches a container_workload step to the lifecycle
// manager (internal/container), create-run-capture, per §4.9 dispatch
// rule 2.
type ContainerRunner interface {
	RunWorkload(ctx context.Context, sessionID string, spec domain.ContainerSpec) (stdout, stderr string, exitCode int, err error)
}

// AgentResolver looks up a named sub-agent's configuration for
// agent_invocation steps and recursive agent callbacks.
type AgentResolver interface {
	ResolveAgent(name string) (domain.AgentConfig, bool)
}

// ProviderResolver implements §4.3's provider resolution order: explicit
// provider name, else the default provider.
type ProviderResolver interface {
	Resolve(name string) (llm.Provider, error)
}

// Engine drives both the single-shot and planned execution paths.
type Engine struct {
	Tools       ToolExecutor
	Providers   ProviderResolver
	Containers  ContainerRunner
	Agents      AgentResolver
	Planner     *planning.Synthesizer
	Reflector   *reflection.Engine

	MaxDepth      int
	StepTimeout   time.Duration
	TurnTimeout   time.Duration
}

// NewEngine builds an Engine with the spec's default timeouts.
func NewEngine(toolExec ToolExecutor, providers ProviderResolver, containers ContainerRunner, agents AgentResolver, planner *planning.Synthesizer, reflector *reflection.Engine) *Engine {
	return &Engine{
		Tools: toolExec, Providers: providers, Containers: containers, Agents: agents,
		Planner: planner, Reflector: reflector,
		MaxDepth: 8, StepTimeout: 30 * time.Second, TurnTimeout: 5 * time.Minute,
	}
}

// FinalResult is what Execute returns to the top-level runtime.
type FinalResult struct {
	RuntimeContext  *domain.RuntimeContext
	SuggestedAction domain.SuggestedAction
}

// Execute runs a full turn: task, agent_config, session_id → final_result
// (§4.9 "Entry").
func (e *Engine) Execute(ctx context.Context, task string, agent domain.AgentConfig, sessionID string) (FinalResult, error) {
	return e.executeDepth(ctx, task, agent, sessionID, 0)
}

func (e *Engine) executeDepth(ctx context.Context, task string, agent domain.AgentConfig, sessionID string, depth int) (FinalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.TurnTimeout)
	defer cancel()

	rc := &domain.RuntimeContext{SessionID: sessionID, AgentConfig: agent, WorkingMemory: map[string]any{}, Depth: depth}

	plan, analysis, err := e.Planner.Synthesize(ctx, task, agent, sessionID, planning.Counters{})
	if err != nil {
		return FinalResult{RuntimeContext: rc, SuggestedAction: domain.ActionAbort}, err
	}
	rc.CurrentPlan = &plan
	rc.TotalSteps = len(plan.Steps)

	if analysis.Complexity == planning.ComplexitySimple {
		action, err := e.runSingleShot(ctx, task, agent, sessionID, rc)
		return FinalResult{RuntimeContext: rc, SuggestedAction: action}, err
	}
	action, err := e.runPlanned(ctx, agent, sessionID, rc)
	return FinalResult{RuntimeContext: rc, SuggestedAction: action}, err
}

// runSingleShot implements §4.9's "Single-shot path".
func (e *Engine) runSingleShot(ctx context.Context, task string, agent domain.AgentConfig, sessionID string, rc *domain.RuntimeContext) (domain.SuggestedAction, error) {
	provider, err := e.resolveProvider(agent.Provider)
	if err != nil {
		return domain.ActionAbort, err
	}

	toolDefs := toolDefinitions(e.Tools.ListInfo())
	systemPrompt := BuildSystemPrompt(agent, e.Tools.ListInfo(), ModeDefault)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: task},
	}

	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	started := time.Now()
	var lastResp llm.Response
	for iter := 0; iter < maxIter; iter++ {
		resp, err := provider.Generate(ctx, messages, toolDefs)
		if err != nil {
			return domain.ActionAbort, aerrors.Wrap(aerrors.CodeLLMTimeout, aerrors.CategoryLLM, aerrors.SeverityHigh, "single-shot completion failed", err)
		}
		lastResp = resp
		rc.MemoryUsed += resp.TotalTokens

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result, toolErr := e.Tools.Execute(ctx, sessionID, call.Name, call.Arguments, agent.Capabilities)
			content := result.Content
			if toolErr != nil {
				content = "error: " + toolErr.Error()
			}
			messages = append(messages, llm.Message{Role: "tool", Content: content, ToolCallID: call.ID})
		}

		if iter == maxIter-1 {
			e.recordStep(rc, domain.ExecutionStep{
				ID: "reasoning-1", PlannedStepID: "step_1", StartedAt: started, EndedAt: time.Now(),
				Success: false, Error: "iteration limit reached", Summary: "exceeded agent iteration limit",
			})
			return domain.ActionAbort, nil
		}
	}

	e.recordStep(rc, domain.ExecutionStep{
		ID: "reasoning-1", PlannedStepID: "step_1", StartedAt: started, EndedAt: time.Now(),
		Success: true, Result: lastResp.Text, Summary: "reasoning completed",
	})
	return domain.ActionContinue, nil
}

// runPlanned implements §4.9's "Planned path".
func (e *Engine) runPlanned(ctx context.Context, agent domain.AgentConfig, sessionID string, rc *domain.RuntimeContext) (domain.SuggestedAction, error) {
	steps := rc.CurrentPlan.Steps
	for i := 0; i < len(steps); i++ {
		rc.CurrentStep = i
		step := steps[i]

		execStep, stepErr := e.ExecuteStep(ctx, step, rc, agent, sessionID)
		e.recordStep(rc, execStep)
		if stepErr != nil && execStep.Error == "" {
			execStep.Error = stepErr.Error()
		}

		if !agent.ReflectionOn || e.Reflector == nil {
			if !execStep.Success {
				return domain.ActionAbort, nil
			}
			continue
		}

		refl, err := e.Reflector.Reflect(ctx, sessionID, execStep, agent, rc.CurrentPlan, rc.History)
		if err == nil {
			execStep.Reflection = &refl
		}
		action := reflection.NextAction(refl)
		switch action {
		case domain.ActionContinue:
			continue
		case domain.ActionRetry:
			if !e.retryStep(ctx, &steps, i, step) {
				return domain.ActionAbort, nil
			}
			i--
		case domain.ActionModifyPlan, domain.ActionUseDifferentTool:
			replan, _, err := e.Planner.Synthesize(ctx, step.Description, agent, sessionID, planning.Counters{})
			if err != nil {
				return domain.ActionAbort, err
			}
			steps = append(steps[:i+1], replan.Steps...)
			rc.CurrentPlan.Steps = steps
			rc.TotalSteps = len(steps)
		case domain.ActionAbort:
			return domain.ActionAbort, nil
		}
	}
	return domain.ActionContinue, nil
}

func (e *Engine) retryStep(ctx context.Context, steps *[]domain.PlannedStep, i int, step domain.PlannedStep) bool {
	if step.RetryCount <= 0 {
		return false
	}
	step.RetryCount--
	(*steps)[i] = step
	return true
}

// ExecuteStep dispatches one planned step by type (§4.9 dispatch rule 2)
// after resolving its placeholders, enforcing the per-step timeout.
func (e *Engine) ExecuteStep(ctx context.Context, step domain.PlannedStep, rc *domain.RuntimeContext, agent domain.AgentConfig, sessionID string) (domain.ExecutionStep, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	resolved, err := ResolvePlaceholders(step.Params, rc.History)
	if err != nil {
		return domain.ExecutionStep{
			ID: step.ID, PlannedStepID: step.ID, StartedAt: started, EndedAt: time.Now(),
			Success: false, Error: err.Error(), Summary: "placeholder resolution failed",
		}, err
	}

	var (
		result  any
		summary string
		execErr error
		used    string
	)

	switch step.Type {
	case domain.StepToolCall:
		used = step.ToolName
		res, toolErr := e.Tools.Execute(stepCtx, sessionID, step.ToolName, resolved, agent.Capabilities)
		result, execErr = res.Output, toolErr
		if result == nil {
			result = res.Content
		}
		summary = fmt.Sprintf("tool %s", step.ToolName)
	case domain.StepAgentInvocation:
		used = step.AgentName
		sub, ok := e.Agents.ResolveAgent(step.AgentName)
		if !ok {
			execErr = aerrors.New(aerrors.CodeNotFound, aerrors.CategoryPlanning, aerrors.SeverityMedium, "sub-agent not found: "+step.AgentName)
		} else if rc.Depth >= e.MaxDepth {
			execErr = aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryPlanning, aerrors.SeverityHigh, "max sub-agent recursion depth exceeded")
		} else {
			final, subErr := e.executeDepth(stepCtx, step.Description, sub, sessionID, rc.Depth+1)
			execErr = subErr
			result = final
		}
		summary = fmt.Sprintf("agent %s", step.AgentName)
	case domain.StepContainerWorkload:
		if e.Containers == nil {
			execErr = aerrors.New(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "no container runner configured")
			break
		}
		used = step.Container.Image
		stdout, stderr, exitCode, runErr := e.Containers.RunWorkload(stepCtx, sessionID, *step.Container)
		execErr = runErr
		result = map[string]any{"stdout": stdout, "stderr": stderr, "exit_code": exitCode}
		summary = fmt.Sprintf("container %s", step.Container.Image)
	case domain.StepReasoning:
		provider, provErr := e.resolveProvider(agent.Provider)
		if provErr != nil {
			execErr = provErr
			break
		}
		resp, genErr := provider.Generate(stepCtx, []llm.Message{
			{Role: "system", Content: BuildSystemPrompt(agent, nil, ModeDefault)},
			{Role: "user", Content: step.Description},
		}, nil)
		execErr = genErr
		result = resp.Text
		summary = "reasoning step"
	case domain.StepPipeline:
		nested, _, planErr := e.Planner.Synthesize(stepCtx, step.Description, agent, sessionID, planning.Counters{})
		if planErr != nil {
			execErr = planErr
			break
		}
		nestedRC := &domain.RuntimeContext{SessionID: sessionID, AgentConfig: agent, CurrentPlan: &nested, WorkingMemory: map[string]any{}, Depth: rc.Depth + 1}
		_, pipeErr := e.runPlanned(stepCtx, agent, sessionID, nestedRC)
		execErr = pipeErr
		result = nestedRC.History
		summary = "nested pipeline"
	default:
		execErr = aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryPlanning, aerrors.SeverityMedium, "unknown planned step type: "+string(step.Type))
	}

	if stepCtx.Err() == context.DeadlineExceeded {
		execErr = aerrors.New(aerrors.CodeStepTimeout, aerrors.CategoryPlanning, aerrors.SeverityHigh, "step timed out")
	}

	execStep := domain.ExecutionStep{
		ID: step.ID, PlannedStepID: step.ID, StartedAt: started, EndedAt: time.Now(),
		Success: execErr == nil, ResolvedParams: resolved, Result: result, Summary: summary,
	}
	switch step.Type {
	case domain.StepToolCall:
		execStep.ToolUsed = used
	case domain.StepAgentInvocation:
		execStep.AgentUsed = used
	case domain.StepContainerWorkload:
		execStep.ContainerUsed = used
	}
	if execErr != nil {
		execStep.Error = execErr.Error()
	}
	return execStep, execErr
}

func (e *Engine) recordStep(rc *domain.RuntimeContext, step domain.ExecutionStep) {
	rc.History = append(rc.History, step)
}

func (e *Engine) resolveProvider(name string) (llm.Provider, error) {
	if e.Providers == nil {
		return nil, aerrors.New(aerrors.CodeNoProviderAvailable, aerrors.CategoryLLM, aerrors.SeverityHigh, "no provider resolver configured")
	}
	return e.Providers.Resolve(name)
}

func toolDefinitions(infos []tools.Info) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		props := params["properties"].(map[string]any)
		var required []string
		for _, p := range info.Parameters {
			props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		if len(required) > 0 {
			params["required"] = required
		}
		defs = append(defs, llm.ToolDefinition{Name: info.Name, Description: info.Description, Parameters: params})
	}
	return defs
}
