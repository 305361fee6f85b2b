package runtime

import (
	"context"

	"github.com/ariacorp/ariarun/internal/container"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/persistence"
)

// agentResolver adapts a user's per-user store to execution.AgentResolver,
// so sub-agent and agent_invocation steps resolve against that user's
// configured agents (§4.1's per-user agent_configs table).
type agentResolver struct {
	store *persistence.Store
}

func (a *agentResolver) ResolveAgent(name string) (domain.AgentConfig, bool) {
	cfg, err := a.store.GetAgentConfig(context.Background(), name)
	if err != nil {
		return domain.AgentConfig{}, false
	}
	return cfg, true
}

// snapshotSource adapts a user's per-user store and the shared container
// manager to intelligence.SessionSnapshotSource, feeding the §4.11 context
// tree builder from live persistence and container state rather than a
// cached copy.
type snapshotSource struct {
	store      *persistence.Store
	containers *container.Manager
}

// WorkflowState reports the conversation's current state and final
// response (when concluded) as the context tree's workflow node payload.
func (s *snapshotSource) WorkflowState(ctx context.Context, sessionID string) (map[string]any, error) {
	conv, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"state":          string(conv.State),
		"turns":          len(conv.Turns),
		"final_response": conv.FinalResponse,
	}, nil
}

// ActiveContainers returns the containers created for sessionID, since
// RunWorkload scopes every ephemeral workload container's owning user to
// its session id (internal/container/workload.go).
func (s *snapshotSource) ActiveContainers(ctx context.Context, sessionID string) ([]domain.ContainerRecord, error) {
	all, err := s.containers.ListContainers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ContainerRecord, 0, len(all))
	for _, c := range all {
		if c.SessionID == sessionID || c.SessionID == "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecentTools returns the session's most recently used tool names.
func (s *snapshotSource) RecentTools(ctx context.Context, sessionID string) ([]string, error) {
	return s.store.ListRecentToolNames(ctx, sessionID, 10)
}

// SubAgents is not tracked as a distinct projection, so this always
// reports none; the context tree has no other source of sub-agent usage.
func (s *snapshotSource) SubAgents(ctx context.Context, sessionID string) ([]string, error) {
	return nil, nil
}

// Environment reports no ambient environment facts beyond what the
// workflow and container nodes already carry.
func (s *snapshotSource) Environment(ctx context.Context, sessionID string) (map[string]any, error) {
	return nil, nil
}
