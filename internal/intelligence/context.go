// Package intelligence implements the §4.11 context tree builder and
// container pattern processor: per-session execution context caching and
// learned container-configuration patterns, sharing the persistence
// package's schema.
package intelligence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ariacorp/ariarun/internal/domain"
)

// Node is one node of a session's context tree.
type Node struct {
	domain.ExecutionContextNode
	Children []*Node
}

// CacheStats counts context-tree cache activity, surfaced by the
// get_context_cache_stats intelligence tool.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// SessionSnapshotSource supplies the live facts a context tree is built
// from — the runtime context, active containers, and recent tool usage —
// without the intelligence package depending on the runtime package.
type SessionSnapshotSource interface {
	WorkflowState(ctx context.Context, sessionID string) (map[string]any, error)
	ActiveContainers(ctx context.Context, sessionID string) ([]domain.ContainerRecord, error)
	RecentTools(ctx context.Context, sessionID string) ([]string, error)
	SubAgents(ctx context.Context, sessionID string) ([]string, error)
	Environment(ctx context.Context, sessionID string) (map[string]any, error)
}

// ContextTreeBuilder lazily builds and caches per-session context trees
// (§4.11 "Context tree builder").
type ContextTreeBuilder struct {
	source SessionSnapshotSource
	cache  *expirable.LRU[string, *Node]

	hits, misses, evictions atomic.Int64
}

// NewContextTreeBuilder builds a tree cache of the given size and TTL
// (spec defaults: 50 entries, 300s).
func NewContextTreeBuilder(source SessionSnapshotSource, size int, ttl time.Duration) *ContextTreeBuilder {
	if size <= 0 {
		size = 50
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	b := &ContextTreeBuilder{source: source}
	b.cache = expirable.NewLRU[string, *Node](size, func(key string, value *Node) {
		b.evictions.Add(1)
	}, ttl)
	return b
}

// Tree returns the cached context tree for sessionID, building it on a
// cache miss.
func (b *ContextTreeBuilder) Tree(ctx context.Context, sessionID string) (*Node, error) {
	if node, ok := b.cache.Get(sessionID); ok {
		b.hits.Add(1)
		return node, nil
	}
	b.misses.Add(1)

	node, err := b.build(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b.cache.Add(sessionID, node)
	return node, nil
}

// Invalidate drops the cached tree for sessionID, forcing a rebuild on the
// next Tree call.
func (b *ContextTreeBuilder) Invalidate(sessionID string) {
	b.cache.Remove(sessionID)
}

// Clear drops every cached tree.
func (b *ContextTreeBuilder) Clear() {
	b.cache.Purge()
}

// Stats reports cumulative cache hit/miss/eviction counts.
func (b *ContextTreeBuilder) Stats() CacheStats {
	return CacheStats{Hits: b.hits.Load(), Misses: b.misses.Load(), Evictions: b.evictions.Load()}
}

func (b *ContextTreeBuilder) build(ctx context.Context, sessionID string) (*Node, error) {
	root := &Node{ExecutionContextNode: domain.ExecutionContextNode{
		ID: sessionID, SessionID: sessionID, Type: domain.NodeSession, Priority: 10, CreatedAt: time.Now(),
	}}

	if workflow, err := b.source.WorkflowState(ctx, sessionID); err == nil && workflow != nil {
		root.Children = append(root.Children, &Node{ExecutionContextNode: domain.ExecutionContextNode{
			SessionID: sessionID, Type: domain.NodeWorkflow, ParentID: root.ID, Priority: 8, Payload: workflow,
		}})
	}

	if containers, err := b.source.ActiveContainers(ctx, sessionID); err == nil {
		for _, c := range containers {
			root.Children = append(root.Children, &Node{ExecutionContextNode: domain.ExecutionContextNode{
				SessionID: sessionID, Type: domain.NodeContainer, ParentID: root.ID, Priority: 6,
				Payload: map[string]any{"id": c.ID, "image": c.Image, "state": string(c.State)},
			}})
		}
	}

	if tools, err := b.source.RecentTools(ctx, sessionID); err == nil && len(tools) > 0 {
		root.Children = append(root.Children, &Node{ExecutionContextNode: domain.ExecutionContextNode{
			SessionID: sessionID, Type: domain.NodeTool, ParentID: root.ID, Priority: 4,
			Payload: map[string]any{"recent": tools},
		}})
	}

	if agents, err := b.source.SubAgents(ctx, sessionID); err == nil && len(agents) > 0 {
		root.Children = append(root.Children, &Node{ExecutionContextNode: domain.ExecutionContextNode{
			SessionID: sessionID, Type: domain.NodeAgent, ParentID: root.ID, Priority: 5,
			Payload: map[string]any{"names": agents},
		}})
	}

	if env, err := b.source.Environment(ctx, sessionID); err == nil && env != nil {
		root.Children = append(root.Children, &Node{ExecutionContextNode: domain.ExecutionContextNode{
			SessionID: sessionID, Type: domain.NodeEnvironment, ParentID: root.ID, Priority: 2, Payload: env,
		}})
	}

	sort.Slice(root.Children, func(i, j int) bool { return root.Children[i].Priority > root.Children[j].Priority })
	return root, nil
}

var priorityMarker = map[int]string{10: "●●●", 8: "●●", 6: "●●", 5: "●", 4: "●", 2: "○"}

func marker(priority int) string {
	if m, ok := priorityMarker[priority]; ok {
		return m
	}
	return "○"
}

// RenderForPrompt returns a compact textual projection of a session's
// context tree, respecting maxNodes and a minimum-priority threshold,
// grouped by node type with visual priority markers, for the
// get_context_for_prompt intelligence tool.
func (b *ContextTreeBuilder) RenderForPrompt(ctx context.Context, sessionID string, maxNodes int, minPriority int) (string, error) {
	root, err := b.Tree(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var flat []*Node
	var collect func(n *Node)
	collect = func(n *Node) {
		if n.Priority >= minPriority {
			flat = append(flat, n)
		}
		for _, c := range n.Children {
			collect(c)
		}
	}
	collect(root)
	sort.SliceStable(flat, func(i, j int) bool { return flat[i].Priority > flat[j].Priority })

	grouped := make(map[domain.ContextNodeType][]*Node)
	var order []domain.ContextNodeType
	for _, n := range flat {
		if _, seen := grouped[n.Type]; !seen {
			order = append(order, n.Type)
		}
		grouped[n.Type] = append(grouped[n.Type], n)
	}

	var lines []string
	for _, t := range order {
		if len(lines) >= maxNodes {
			break
		}
		lines = append(lines, fmt.Sprintf("## %s", t))
		for _, n := range grouped[t] {
			if len(lines) >= maxNodes {
				break
			}
			lines = append(lines, fmt.Sprintf("%s %v", marker(n.Priority), n.Payload))
		}
	}
	return strings.Join(lines, "\n"), nil
}
