// Package runtime is the §4.12 top-level composition root: it wires
// persistence, the observability bus, the LLM and tool registries, the
// container lifecycle manager, planning, reflection, execution,
// conversation, and intelligence into a single session API —
// create_session / get_session / execute_turn(session_id, input) →
// stream<event> — the entry point every transport (ICC HTTP, the gRPC
// session service, ariactl) is built against. Grounded on the teacher's
// pkg/hector.go facade, generalized from a single-process re-export into
// an actual engine-wiring constructor since this runtime's engines are
// new packages, not a single vendored library.
package runtime

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ariacorp/ariarun/internal/auth"
	"github.com/ariacorp/ariarun/internal/config"
	"github.com/ariacorp/ariarun/internal/container"
	"github.com/ariacorp/ariarun/internal/container/hostops"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/intelligence"
	"github.com/ariacorp/ariarun/internal/llm"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/persistence"
	"github.com/ariacorp/ariarun/internal/tools"
)

// Runtime holds every wired engine and the per-user persistence handles
// needed to serve sessions for any principal.
type Runtime struct {
	cfg *config.Config
	log *slog.Logger

	Bus    *obsbus.Bus
	Tokens *auth.Minter

	pool       *persistence.DBPool
	system     *persistence.SystemStore
	containers *persistence.Store

	mu     sync.Mutex
	stores map[string]*persistence.Store               // userID -> per-user store
	trees  map[string]*intelligence.ContextTreeBuilder // userID -> cached context tree builder

	Providers *llm.Registry
	Tools     *tools.Registry
	Container *container.Manager

	sessMu   sync.Mutex
	sessions map[string]sessionHandle // sessionID -> owning user + agent, for get_session
}

type sessionHandle struct {
	userID string
	agent  string
}

// New bootstraps every engine from cfg. The system and container databases
// are opened and migrated immediately; per-user databases are opened
// lazily on first use (§4.1's two-database model, extended with the
// dedicated container database documented on config.PersistenceConfig).
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool := persistence.NewDBPool()

	sysDB, err := pool.Get(persistence.DBConfig{
		Driver: cfg.Persistence.Driver, DSN: cfg.Persistence.SystemDSN,
		MaxConns: cfg.Persistence.MaxConns, MaxIdle: cfg.Persistence.MaxIdle, BusyTimeoutMS: cfg.Persistence.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open system database: %w", err)
	}
	if err := persistence.ApplyMigrations(context.Background(), sysDB, persistence.SystemMigrations()); err != nil {
		return nil, fmt.Errorf("runtime: migrate system database: %w", err)
	}

	containersDB, err := pool.Get(persistence.DBConfig{
		Driver: cfg.Persistence.Driver, DSN: cfg.Persistence.ContainersDSN,
		MaxConns: cfg.Persistence.MaxConns, MaxIdle: cfg.Persistence.MaxIdle, BusyTimeoutMS: cfg.Persistence.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open containers database: %w", err)
	}
	if err := persistence.ApplyMigrations(context.Background(), containersDB, persistence.UserMigrations()); err != nil {
		return nil, fmt.Errorf("runtime: migrate containers database: %w", err)
	}
	containersStore := persistence.NewStore(containersDB)

	bus := obsbus.New(4096)

	providers := llm.NewRegistry()
	for name, p := range cfg.Providers {
		if _, err := providers.CreateFromConfig(name, llm.Config{
			Type: p.Type, APIKey: p.APIKey, Host: p.BaseURL, Model: p.Model,
			TimeoutSec: int(p.Timeout / time.Second), MaxRetries: p.MaxRetries,
		}, p.Default); err != nil {
			return nil, fmt.Errorf("runtime: configure provider %s: %w", name, err)
		}
	}

	toolRegistry := tools.NewRegistry(bus)

	host := hostops.NewLinux()
	containerMgr := container.NewManager(container.Config{
		WorkspaceRoot: cfg.Container.WorkspaceRoot, ImageCacheRoot: cfg.Container.ImageCacheRoot,
		Bridge: cfg.Container.BridgeName, BridgeHostIP: cfg.Container.BridgeHostAddr,
		NetworkRangeLo: cfg.Container.NetworkCIDRStart, NetworkRangeHi: cfg.Container.NetworkCIDREnd,
		MonitorInterval: cfg.Container.MonitorInterval, ReadinessTimeout: cfg.Container.ReadinessTimeout,
	}, containersStore, bus, host, logger)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("runtime: generate session token key: %w", err)
	}

	rt := &Runtime{
		cfg: cfg, log: logger, Bus: bus, Tokens: auth.NewMinter(key, 15*time.Minute),
		pool: pool, system: persistence.NewSystemStore(sysDB), containers: containersStore,
		stores: make(map[string]*persistence.Store),
		trees:  make(map[string]*intelligence.ContextTreeBuilder),
		sessions: make(map[string]sessionHandle),

		Providers: providers, Tools: toolRegistry, Container: containerMgr,
	}
	rt.registerBuiltinTools(cfg)
	return rt, nil
}

// registerBuiltinTools wires the §4.4 builtin tool set against the
// engines they call back into, mirroring the teacher's single
// registration pass over its own built-in tool set.
func (rt *Runtime) registerBuiltinTools(cfg *config.Config) {
	defaultProvider, err := rt.Providers.Default()
	if err != nil {
		rt.log.Warn("runtime: no default provider at tool registration time", "error", err)
	}

	_ = rt.Tools.RegisterBuiltin("createPlan", "Produce a JSON execution plan", domain.SecuritySafe, nil,
		&tools.CreatePlanTool{Provider: defaultProvider})
	_ = rt.Tools.RegisterBuiltin("ponder", "Reflect on recent execution history", domain.SecuritySafe, nil,
		&tools.PonderTool{Provider: defaultProvider})
	_ = rt.Tools.RegisterBuiltin("parse_document", "Extract text from pdf/docx/xlsx", domain.SecuritySafe, nil,
		&tools.ParseDocumentTool{})
	_ = rt.Tools.RegisterBuiltin("write_code", "Write or overwrite a file under a working directory", domain.SecurityLimited, nil,
		tools.NewWriteCodeTool(tools.WriteCodeConfig{WorkingDirectory: cfg.Container.WorkspaceRoot}))
}

// userStore returns (opening and migrating on first use) the per-user
// database for userID, per §4.1's DSN-format expansion.
func (rt *Runtime) userStore(userID string) (*persistence.Store, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if s, ok := rt.stores[userID]; ok {
		return s, nil
	}

	dsn := fmt.Sprintf(rt.cfg.Persistence.UserDSNFormat, userID)
	db, err := rt.pool.Get(persistence.DBConfig{
		Driver: rt.cfg.Persistence.Driver, DSN: dsn,
		MaxConns: rt.cfg.Persistence.MaxConns, MaxIdle: rt.cfg.Persistence.MaxIdle, BusyTimeoutMS: rt.cfg.Persistence.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open database for user %s: %w", userID, err)
	}
	if err := persistence.ApplyMigrations(context.Background(), db, persistence.UserMigrations()); err != nil {
		return nil, fmt.Errorf("runtime: migrate database for user %s: %w", userID, err)
	}

	store := persistence.NewStore(db)
	rt.stores[userID] = store
	return store, nil
}

// contextTreeFor returns (building on first use) the cached context tree
// builder for userID, shared across every session that user owns so the
// §4.11 LRU cache actually accumulates hits across turns instead of being
// rebuilt per turn.
func (rt *Runtime) contextTreeFor(userID string) (*intelligence.ContextTreeBuilder, error) {
	store, err := rt.userStore(userID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if t, ok := rt.trees[userID]; ok {
		return t, nil
	}

	intelCfg := rt.cfg.Intelligence
	tree := intelligence.NewContextTreeBuilder(&snapshotSource{store: store, containers: rt.Container}, intelCfg.ContextCacheSize, intelCfg.ContextCacheTTL)
	rt.trees[userID] = tree
	return tree, nil
}

// Resolve looks up a named provider, falling back to the registry default
// when name is empty (§4.3's provider resolution order). Runtime itself
// satisfies execution.ProviderResolver so the execution engine and the
// conversation engine share one resolution path.
func (rt *Runtime) Resolve(name string) (llm.Provider, error) {
	if name == "" {
		return rt.Providers.Default()
	}
	if p, ok := rt.Providers.Get(name); ok {
		return p, nil
	}
	return rt.Providers.Default()
}

// ActiveUserIDs returns every user id with an open per-user database
// handle, the set cmd/ariad sweeps with container.Manager.EmergencyCleanup
// before shutting the runtime down.
func (rt *Runtime) ActiveUserIDs() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.stores))
	for id := range rt.stores {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every pooled database connection. The container
// manager's background sweeps are stopped by the caller's shutdown
// sequence (cmd/ariad calls Container.EmergencyCleanup per active user
// first, then Close).
func (rt *Runtime) Close() error {
	return rt.pool.Close()
}
