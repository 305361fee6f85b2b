package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariacorp/ariarun/internal/conversation"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/execution"
	"github.com/ariacorp/ariarun/internal/intelligence"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/persistence"
	"github.com/ariacorp/ariarun/internal/planning"
	"github.com/ariacorp/ariarun/internal/reflection"
)

// engines bundles the per-turn engine set built against one user's store,
// since planning/reflection/execution/conversation/intelligence all need
// per-user persistence seams but hold no state of their own worth caching
// across turns.
type engines struct {
	store       *persistence.Store
	exec        *execution.Engine
	conv        *conversation.Engine
	contextTree *intelligence.ContextTreeBuilder
	patterns    *intelligence.PatternProcessor
}

func (rt *Runtime) buildEngines(userID string, store *persistence.Store, agent domain.AgentConfig) (*engines, error) {
	planner := planning.NewSynthesizer(rt.Tools)
	reflector := reflection.NewEngine(rt.Tools)

	provider, err := rt.Resolve(agent.Provider)
	if err != nil {
		return nil, err
	}

	agents := &agentResolver{store: store}
	execEngine := execution.NewEngine(rt.Tools, rt, rt.Container, agents, planner, reflector)

	convEngine := conversation.NewEngine(provider)

	contextTree, err := rt.contextTreeFor(userID)
	if err != nil {
		return nil, err
	}

	intelCfg := rt.cfg.Intelligence
	patterns := intelligence.NewPatternProcessor(store, intelligence.LearningConfig{
		SimilarityThreshold: intelCfg.PatternMatchThreshold, LearningRate: intelCfg.LearningRate,
		MinConfidence: intelCfg.MinConfidence, MaxConfidence: intelCfg.MaxConfidence,
		PruningThreshold: intelCfg.PruningThreshold, MaxPatternAgeDays: intelCfg.MaxPatternAgeDays,
	})

	return &engines{store: store, exec: execEngine, conv: convEngine, contextTree: contextTree, patterns: patterns}, nil
}

// CreateSession opens a new session for userID against the named agent
// (§4.12 "create_session"), persisting it to that user's database and
// initiating its conversation.
func (rt *Runtime) CreateSession(ctx context.Context, userID, agentName string) (domain.Session, error) {
	store, err := rt.userStore(userID)
	if err != nil {
		return domain.Session{}, err
	}

	agent, err := store.GetAgentConfig(ctx, agentName)
	if err != nil {
		return domain.Session{}, fmt.Errorf("runtime: create session: %w", err)
	}

	sess := domain.Session{
		ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now(),
		AgentConfig: agent, Status: domain.SessionActive,
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	if err := store.InitConversation(ctx, sess.ID); err != nil {
		return domain.Session{}, err
	}

	rt.sessMu.Lock()
	rt.sessions[sess.ID] = sessionHandle{userID: userID, agent: agentName}
	rt.sessMu.Unlock()

	rt.Bus.Publish(obsbus.Event{Kind: obsbus.KindLog, SessionID: sess.ID, Timestamp: time.Now(),
		Payload: "session created"})
	return sess, nil
}

// GetSession returns the persisted state of an existing session (§4.12
// "get_session").
func (rt *Runtime) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	rt.sessMu.Lock()
	handle, ok := rt.sessions[sessionID]
	rt.sessMu.Unlock()
	if !ok {
		return domain.Session{}, fmt.Errorf("runtime: session %s: %w", sessionID, persistence.ErrNotFound)
	}

	store, err := rt.userStore(handle.userID)
	if err != nil {
		return domain.Session{}, err
	}
	return store.GetSession(ctx, sessionID)
}

// TurnEvent is one item of the stream execute_turn publishes while a turn
// runs: a step completing, the conversation progressing, or the turn's
// terminal outcome.
type TurnEvent struct {
	SessionID string
	Kind      string // "step" | "conversation" | "done" | "error"
	Step      *domain.ExecutionStep
	Message   string
	Final     *execution.FinalResult
	Err       error
}

// ExecuteTurn runs one turn of sessionID against input, streaming progress
// on the returned channel and closing it once the turn concludes (§4.12
// "execute_turn(session_id, input) -> stream<event>").
func (rt *Runtime) ExecuteTurn(ctx context.Context, sessionID, input string) <-chan TurnEvent {
	out := make(chan TurnEvent, 32)

	go func() {
		defer close(out)

		rt.sessMu.Lock()
		handle, ok := rt.sessions[sessionID]
		rt.sessMu.Unlock()
		if !ok {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: fmt.Errorf("runtime: unknown session %s", sessionID)}
			return
		}

		store, err := rt.userStore(handle.userID)
		if err != nil {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: err}
			return
		}
		agent, err := store.GetAgentConfig(ctx, handle.agent)
		if err != nil {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: err}
			return
		}
		eng, err := rt.buildEngines(handle.userID, store, agent)
		if err != nil {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: err}
			return
		}

		conv, err := eng.conv.Initiate(ctx, sessionID, input)
		if err != nil {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: err}
			return
		}
		out <- TurnEvent{SessionID: sessionID, Kind: "conversation", Message: "turn started"}

		started := time.Now()
		final, execErr := eng.exec.Execute(ctx, input, agent, sessionID)
		for i := range final.RuntimeContext.History {
			step := final.RuntimeContext.History[i]
			eng.conv.Update(conv, step)
			_ = store.RecordToolUsage(ctx, sessionID, coalesce(step.ToolUsed, step.AgentUsed, step.ContainerUsed), step.Success, step.EndedAt.Sub(step.StartedAt))
			rt.Bus.Publish(obsbus.Event{Kind: obsbus.KindToolExecution, SessionID: sessionID, Timestamp: time.Now(), Payload: step})
			out <- TurnEvent{SessionID: sessionID, Kind: "step", Step: &step}
		}

		succeeded := 0
		for _, s := range final.RuntimeContext.History {
			if s.Success {
				succeeded++
			}
		}
		if concludeErr := eng.conv.Conclude(ctx, conv, conversation.Stats{
			TotalSteps: len(final.RuntimeContext.History), SuccessSteps: succeeded, Duration: time.Since(started),
		}); concludeErr != nil {
			execErr = concludeErr
		}

		status := domain.SessionCompleted
		if execErr != nil || final.SuggestedAction == domain.ActionAbort {
			status = domain.SessionFailed
		}
		_ = store.UpdateSessionStatus(ctx, sessionID, status)
		_ = store.IncrementSessionUsage(ctx, sessionID, len(final.RuntimeContext.History), final.RuntimeContext.MemoryUsed)
		_ = store.SetFinalResponse(ctx, sessionID, conv.FinalResponse)
		eng.contextTree.Invalidate(sessionID)

		if execErr != nil {
			out <- TurnEvent{SessionID: sessionID, Kind: "error", Err: execErr, Final: &final}
			return
		}
		out <- TurnEvent{SessionID: sessionID, Kind: "done", Message: conv.FinalResponse, Final: &final}
	}()

	return out
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
