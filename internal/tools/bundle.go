package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
)

// BundleToolDecl is one tool declaration from a bundle's manifest.json,
// per spec §9 "Bundle format".
type BundleToolDecl struct {
	BundleID     string
	BundleHash   string
	Name         string
	Description  string
	EntryPoint   string
	Capabilities []string
	Security     domain.SecurityLevel
	Version      string
	ParamSchema  map[string]any
}

// BundleSource enumerates bundles available to the resolver. The bundle
// compiler itself is out of scope (spec §1 Non-goals); this is the only
// seam the runtime needs against it.
type BundleSource interface {
	// ListBundleTools returns every tool declared across all known
	// bundles, as of the current on-disk/registered state.
	ListBundleTools(ctx context.Context) ([]BundleToolDecl, error)
}

// BundleIndex is the cached `tool_name -> []bundle_hash` mapping of §4.4,
// refreshed from a BundleSource with a TTL and singleflight-coalesced
// misses, generalizing the teacher's repository-based tool discovery
// (tools.ToolRegistry.DiscoverAllTools) into an explicit cache layer.
type BundleIndex struct {
	source BundleSource
	ttl    time.Duration

	mu        sync.RWMutex
	byName    map[string][]BundleToolDecl
	expiresAt time.Time

	group singleflight.Group
}

// NewBundleIndex builds an index backed by source with the given refresh
// TTL (spec default: 5 minutes).
func NewBundleIndex(source BundleSource, ttl time.Duration) *BundleIndex {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BundleIndex{source: source, ttl: ttl, byName: make(map[string][]BundleToolDecl)}
}

// Lookup returns every bundle declaration of the given tool name,
// refreshing the index first if it has expired. Concurrent misses share
// one refresh via singleflight.
func (idx *BundleIndex) Lookup(ctx context.Context, name string) ([]BundleToolDecl, error) {
	idx.mu.RLock()
	fresh := time.Now().Before(idx.expiresAt)
	decls := idx.byName[name]
	idx.mu.RUnlock()

	if fresh {
		return decls, nil
	}

	if _, err, _ := idx.group.Do("refresh", func() (any, error) {
		return nil, idx.refresh(ctx)
	}); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.byName[name], nil
}

// Invalidate forces the next Lookup to refresh, independent of TTL expiry
// — used when a bundle hash changes out from under the index.
func (idx *BundleIndex) Invalidate() {
	idx.mu.Lock()
	idx.expiresAt = time.Time{}
	idx.mu.Unlock()
}

func (idx *BundleIndex) refresh(ctx context.Context) error {
	idx.mu.RLock()
	stillFresh := time.Now().Before(idx.expiresAt)
	idx.mu.RUnlock()
	if stillFresh {
		return nil
	}

	decls, err := idx.source.ListBundleTools(ctx)
	if err != nil {
		return aerrors.Wrap(aerrors.CodeBundleLoadError, aerrors.CategoryBundle, aerrors.SeverityHigh,
			"list bundle tools", err)
	}

	byName := make(map[string][]BundleToolDecl, len(decls))
	for _, d := range decls {
		byName[d.Name] = append(byName[d.Name], d)
	}
	for name := range byName {
		sort.Slice(byName[name], func(i, j int) bool {
			return byName[name][i].BundleHash < byName[name][j].BundleHash
		})
	}

	idx.mu.Lock()
	idx.byName = byName
	idx.expiresAt = time.Now().Add(idx.ttl)
	idx.mu.Unlock()
	return nil
}

// BundleExecutor invokes a bundle's compiled entry point. The bundle
// runtime itself (the JS/etc. interpreter named by entry_point) is an
// external collaborator, not specified here (spec §1 Non-goals).
type BundleExecutor interface {
	ExecuteBundleTool(ctx context.Context, decl BundleToolDecl, args map[string]any) (Result, error)
}

type bundleTool struct {
	decl     BundleToolDecl
	executor BundleExecutor
}

func (t *bundleTool) Info() Info {
	return Info{Name: t.decl.Name, Description: t.decl.Description}
}

func (t *bundleTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return t.executor.ExecuteBundleTool(ctx, t.decl, args)
}

// Resolver implements the §4.4 resolver: on a registry miss, consult the
// bundle index and auto-register a bundle-typed entry.
type Resolver struct {
	index    *BundleIndex
	executor BundleExecutor
}

// NewResolver builds a resolver over the given bundle index and executor.
func NewResolver(index *BundleIndex, executor BundleExecutor) *Resolver {
	return &Resolver{index: index, executor: executor}
}

// Resolve looks up name in the bundle index and returns a newly-built
// registry Entry for it, per the §4.4 resolver rules: exactly one match
// registers silently, multiple matches take the first deterministic-order
// one with a warning, no match fails with ToolNotFound.
func (r *Resolver) Resolve(ctx context.Context, name string) (Entry, error) {
	decls, err := r.index.Lookup(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	if len(decls) == 0 {
		return Entry{}, aerrors.New(aerrors.CodeToolNotFound, aerrors.CategoryTool, aerrors.SeverityMedium,
			fmt.Sprintf("tool %q not found in registry or any bundle", name))
	}
	if len(decls) > 1 {
		slog.Warn("tools: multiple bundles declare the same tool, taking first deterministic match",
			"tool", name, "bundle_count", len(decls), "chosen_bundle", decls[0].BundleID)
	}

	decl := decls[0]
	return Entry{
		Descriptor: domain.ToolRegistryEntry{
			Name: decl.Name, Description: decl.Description, ParamSchema: decl.ParamSchema,
			Type: domain.ToolBundle, Scope: domain.ScopeConcrete, BundleID: decl.BundleID,
			EntryPoint: decl.EntryPoint, Version: decl.Version, Capabilities: decl.Capabilities,
			Security: decl.Security,
		},
		Tool: &bundleTool{decl: decl, executor: r.executor},
	}, nil
}
