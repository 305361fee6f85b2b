package tools

import (
	"context"
	"fmt"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/intelligence"
)

// The intelligence tools (§4.11 "Intelligence tools exposed to agents")
// wrap the internal/intelligence engines as agent-invocable tools, each
// with its own declared parameter contract.

// AnalyzeContainerPatternTool exposes PatternProcessor.Match.
type AnalyzeContainerPatternTool struct {
	Processor *intelligence.PatternProcessor
}

func (t *AnalyzeContainerPatternTool) Info() Info {
	return Info{
		Name:        "analyze_container_pattern",
		Description: "Match a container request description against learned patterns",
		Parameters: []Parameter{
			{Name: "description", Type: "string", Description: "container request description", Required: true},
		},
	}
}

func (t *AnalyzeContainerPatternTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	description, _ := args["description"].(string)
	if description == "" {
		return Result{Success: false, Error: "description is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "description is required")
	}
	match, err := t.Processor.Match(ctx, description)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Output: match}, nil
}

// UpdatePatternConfidenceTool exposes PatternProcessor.RecordOutcome.
type UpdatePatternConfidenceTool struct {
	Processor *intelligence.PatternProcessor
	Patterns  PatternLookup
}

// PatternLookup resolves a pattern by id, implemented by
// internal/persistence.Store.GetPattern.
type PatternLookup interface {
	GetPattern(ctx context.Context, id string) (domain.ContainerPattern, error)
}

func (t *UpdatePatternConfidenceTool) Info() Info {
	return Info{
		Name:        "update_pattern_confidence",
		Description: "Record a container execution outcome against its matched pattern",
		Parameters: []Parameter{
			{Name: "pattern_id", Type: "string", Required: true},
			{Name: "success", Type: "boolean", Required: true},
			{Name: "execution_ms", Type: "integer", Required: false},
		},
	}
}

func (t *UpdatePatternConfidenceTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	patternID, _ := args["pattern_id"].(string)
	success, _ := args["success"].(bool)
	var executionMS int64
	switch v := args["execution_ms"].(type) {
	case int64:
		executionMS = v
	case int:
		executionMS = int64(v)
	case float64:
		executionMS = int64(v)
	}
	if patternID == "" {
		return Result{Success: false, Error: "pattern_id is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "pattern_id is required")
	}

	pattern, err := t.Patterns.GetPattern(ctx, patternID)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	if err := t.Processor.RecordOutcome(ctx, pattern, success, executionMS); err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Content: fmt.Sprintf("updated confidence for pattern %s", patternID)}, nil
}

// GetExecutionContextTool exposes a session's full context tree.
type GetExecutionContextTool struct {
	Builder *intelligence.ContextTreeBuilder
}

func (t *GetExecutionContextTool) Info() Info {
	return Info{
		Name:        "get_execution_context",
		Description: "Fetch the full execution context tree for a session",
		Parameters: []Parameter{
			{Name: "session_id", Type: "string", Required: true},
		},
	}
}

func (t *GetExecutionContextTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return Result{Success: false, Error: "session_id is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "session_id is required")
	}
	node, err := t.Builder.Tree(ctx, sessionID)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Output: node}, nil
}

// OptimizePatternsTool exposes PatternProcessor.Optimize.
type OptimizePatternsTool struct {
	Processor *intelligence.PatternProcessor
}

func (t *OptimizePatternsTool) Info() Info {
	return Info{Name: "optimize_patterns", Description: "Identify patterns to prune or promote"}
}

func (t *OptimizePatternsTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	prune, promote, err := t.Processor.Optimize(ctx)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Output: map[string]any{"prune": prune, "promote": promote}}, nil
}

// GetContextForPromptTool exposes ContextTreeBuilder.RenderForPrompt.
type GetContextForPromptTool struct {
	Builder *intelligence.ContextTreeBuilder
}

func (t *GetContextForPromptTool) Info() Info {
	return Info{
		Name:        "get_context_for_prompt",
		Description: "Render a compact textual projection of a session's execution context",
		Parameters: []Parameter{
			{Name: "session_id", Type: "string", Required: true},
			{Name: "max_nodes", Type: "integer", Required: false, Default: 10},
			{Name: "min_priority", Type: "integer", Required: false, Default: 0},
		},
	}
}

func (t *GetContextForPromptTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return Result{Success: false, Error: "session_id is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "session_id is required")
	}
	maxNodes := intArg(args, "max_nodes", 10)
	minPriority := intArg(args, "min_priority", 0)

	text, err := t.Builder.RenderForPrompt(ctx, sessionID, maxNodes, minPriority)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Content: text}, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetContextCacheStatsTool exposes ContextTreeBuilder.Stats.
type GetContextCacheStatsTool struct {
	Builder *intelligence.ContextTreeBuilder
}

func (t *GetContextCacheStatsTool) Info() Info {
	return Info{Name: "get_context_cache_stats", Description: "Report context tree cache hit/miss/eviction counters"}
}

func (t *GetContextCacheStatsTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	stats := t.Builder.Stats()
	return Result{Success: true, Output: stats}, nil
}

// ClearContextCacheTool exposes ContextTreeBuilder.Clear / Invalidate.
type ClearContextCacheTool struct {
	Builder *intelligence.ContextTreeBuilder
}

func (t *ClearContextCacheTool) Info() Info {
	return Info{
		Name:        "clear_context_cache",
		Description: "Clear the context tree cache, optionally scoped to one session",
		Parameters: []Parameter{
			{Name: "session_id", Type: "string", Required: false},
		},
	}
}

func (t *ClearContextCacheTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	if sessionID, _ := args["session_id"].(string); sessionID != "" {
		t.Builder.Invalidate(sessionID)
		return Result{Success: true, Content: "invalidated context cache for session " + sessionID}, nil
	}
	t.Builder.Clear()
	return Result{Success: true, Content: "cleared context cache"}, nil
}
