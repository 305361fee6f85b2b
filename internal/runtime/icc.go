package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/execution"
	"github.com/ariacorp/ariarun/internal/llm"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/tools"
)

// SessionOwner resolves a session id to its owning user and configured
// agent, the lookup every ICC request needs before it can touch that
// user's per-user database.
func (rt *Runtime) SessionOwner(sessionID string) (userID, agentName string, ok bool) {
	rt.sessMu.Lock()
	defer rt.sessMu.Unlock()
	h, found := rt.sessions[sessionID]
	return h.userID, h.agent, found
}

// ExecuteTool runs a registry tool on behalf of a container call over ICC
// (§4.6 "POST /tools/{name}"), gated by the calling token's declared
// permission set and charged to the same tool-usage ledger as host-side
// execution (§4.6 "Semantics").
func (rt *Runtime) ExecuteTool(ctx context.Context, sessionID, name string, args map[string]any, permissions []string) (tools.Result, error) {
	store, err := rt.userStore(ownerOrSession(rt, sessionID))
	if err != nil {
		return tools.Result{}, err
	}

	started := time.Now()
	result, err := rt.Tools.Execute(ctx, sessionID, name, args, permissions)
	_ = store.RecordToolUsage(ctx, sessionID, name, err == nil, time.Since(started))
	rt.Bus.Publish(obsbus.Event{Kind: obsbus.KindToolExecution, SessionID: sessionID, Timestamp: time.Now(),
		Payload: map[string]any{"tool": name, "via": "icc", "success": err == nil}})
	return result, err
}

// CompleteLLM proxies an LLM completion for a container call over ICC
// (§4.6 "POST /llm/complete"), resolving the named provider or the
// registry default, and charges the turn's token usage to the session.
func (rt *Runtime) CompleteLLM(ctx context.Context, sessionID, providerName string, messages []llm.Message, toolDefs []llm.ToolDefinition) (llm.Response, error) {
	provider, err := rt.Resolve(providerName)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := provider.Generate(ctx, messages, toolDefs)
	if err != nil {
		return llm.Response{}, err
	}

	if store, storeErr := rt.userStore(ownerOrSession(rt, sessionID)); storeErr == nil {
		_ = store.IncrementSessionUsage(ctx, sessionID, 0, resp.TotalTokens)
	}
	return resp, nil
}

// ContextForPrompt returns the bounded context-tree projection of §4.6's
// "GET /context" / §4.11's get_context_for_prompt tool. The rendered text
// is not redacted.
func (rt *Runtime) ContextForPrompt(ctx context.Context, sessionID string, maxNodes, minPriority int) (string, error) {
	userID, _, ok := rt.SessionOwner(sessionID)
	if !ok {
		return "", aerrors.New(aerrors.CodeNotFound, aerrors.CategorySystem, aerrors.SeverityMedium, "unknown session")
	}
	tree, err := rt.contextTreeFor(userID)
	if err != nil {
		return "", err
	}
	return tree.RenderForPrompt(ctx, sessionID, maxNodes, minPriority)
}

// InvokeAgent invokes a named sub-agent recursively over ICC (§4.6 "POST
// /agents/{name}"), depth-limited the same way a planned agent_invocation
// step is (§4.9).
func (rt *Runtime) InvokeAgent(ctx context.Context, sessionID, name, task string) (execution.FinalResult, error) {
	userID, _, ok := rt.SessionOwner(sessionID)
	if !ok {
		return execution.FinalResult{}, aerrors.New(aerrors.CodeNotFound, aerrors.CategorySystem, aerrors.SeverityMedium, "unknown session")
	}
	store, err := rt.userStore(userID)
	if err != nil {
		return execution.FinalResult{}, err
	}
	sub, err := store.GetAgentConfig(ctx, name)
	if err != nil {
		return execution.FinalResult{}, fmt.Errorf("runtime: invoke agent: %w", err)
	}

	eng, err := rt.buildEngines(userID, store, sub)
	if err != nil {
		return execution.FinalResult{}, err
	}
	return eng.exec.Execute(ctx, task, sub, sessionID)
}

func ownerOrSession(rt *Runtime, sessionID string) string {
	if userID, _, ok := rt.SessionOwner(sessionID); ok {
		return userID
	}
	return sessionID
}
