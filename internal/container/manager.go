// Package container implements the §4.5 container lifecycle manager: a
// state machine driven through rootfs staging, namespace/cgroup setup,
// networking, process monitoring, readiness verification, and ordered
// resource reclamation, reached through the hostops seam so the control
// plane is fully testable without a real Linux host.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/container/hostops"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/persistence"
)

// Config holds the manager's tunables, all with spec-default zero values
// resolved by NewManager.
type Config struct {
	WorkspaceRoot    string        // default /tmp/quilt-containers
	ImageCacheRoot   string        // default /tmp/quilt-image-cache
	Bridge           string        // default aria0
	BridgeHostIP     string        // gateway address used as the container default route
	NetworkRangeLo   string        // default 172.16.0.10
	NetworkRangeHi   string        // default 172.16.0.250
	MonitorInterval  time.Duration // default 10s
	ReadinessTimeout time.Duration // default 30s
	StopGrace        time.Duration // default 10s
}

func (c *Config) applyDefaults() {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "/tmp/quilt-containers"
	}
	if c.ImageCacheRoot == "" {
		c.ImageCacheRoot = "/tmp/quilt-image-cache"
	}
	if c.Bridge == "" {
		c.Bridge = "aria0"
	}
	if c.BridgeHostIP == "" {
		c.BridgeHostIP = "172.16.0.1"
	}
	if c.NetworkRangeLo == "" {
		c.NetworkRangeLo = "172.16.0.10"
	}
	if c.NetworkRangeHi == "" {
		c.NetworkRangeHi = "172.16.0.250"
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 10 * time.Second
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
}

// Manager is the single host daemon's in-process lifecycle manager. It is
// safe for concurrent use: per-container operations are serialized by a
// per-id lock, cross-container operations take locks in ascending id
// order (§4.5.7).
type Manager struct {
	cfg     Config
	store   *persistence.Store
	bus     *obsbus.Bus
	host    hostops.HostOps
	network *ipAllocator
	log     *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	osWork chan func()
}

// NewManager wires a Manager atop store/bus/host, starting an OS-work
// pool distinct from whatever handler pool calls into the manager so a
// stuck syscall never starves the control plane (§4.5.7).
func NewManager(cfg Config, store *persistence.Store, bus *obsbus.Bus, host hostops.HostOps, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg: cfg, store: store, bus: bus, host: host, log: logger,
		locks:  map[string]*sync.Mutex{},
		osWork: make(chan func(), 256),
		network: newIPAllocator(cfg.NetworkRangeLo, cfg.NetworkRangeHi),
	}
	for i := 0; i < 4; i++ {
		go m.osWorkerLoop()
	}
	return m
}

func (m *Manager) osWorkerLoop() {
	for fn := range m.osWork {
		fn()
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// withLocks acquires per-id locks for ids in ascending order, per §4.5.7's
// fixed global ordering rule for cross-container operations.
func (m *Manager) withLocks(ids []string, fn func()) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		m.lockFor(id).Lock()
		defer m.lockFor(id).Unlock()
	}
	fn()
}

func (m *Manager) publish(kind obsbus.Kind, sessionID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(obsbus.Event{Kind: kind, SessionID: sessionID, Timestamp: time.Now(), Payload: payload})
}

// CreateContainer validates spec, allocates an id, optionally allocates a
// network entry, inserts a `created` row, and schedules a detached
// startup task — the control plane never blocks on the data plane.
func (m *Manager) CreateContainer(ctx context.Context, userID, sessionID string, spec domain.ContainerSpec) (string, error) {
	if spec.Image == "" {
		return "", aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryContainer, aerrors.SeverityMedium, "container spec requires an image")
	}
	if len(spec.Command) == 0 {
		return "", aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryContainer, aerrors.SeverityMedium, "container spec requires a command")
	}

	id := uuid.NewString()
	record := domain.ContainerRecord{
		ID: id, UserID: userID, SessionID: sessionID, Image: spec.Image, Command: spec.Command,
		Env: spec.Env, WorkingDir: spec.WorkingDir, Limits: spec.Limits, Networked: spec.Networked,
		State: domain.ContainerCreated, CreatedAt: time.Now(), AutoRemove: true,
	}

	if spec.Networked {
		ip, err := m.network.allocate(id)
		if err != nil {
			return "", aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "allocate container ip", err)
		}
		record.IPAddress = ip
		alloc := domain.NetworkAllocation{
			ContainerID: id, IPAddress: ip, Bridge: m.cfg.Bridge,
			HostVeth: "veth-h-" + shortID(id), ContainerVeth: "eth0",
			Status: domain.AllocAllocated, AllocatedAt: time.Now(),
		}
		if err := m.store.UpsertNetworkAllocation(ctx, alloc); err != nil {
			m.network.release(id)
			return "", aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "persist network allocation", err)
		}
	}

	if err := m.store.UpsertContainer(ctx, record); err != nil {
		return "", aerrors.Wrap(aerrors.CodeDatabaseError, aerrors.CategoryPersistence, aerrors.SeverityHigh, "insert container record", err)
	}

	m.publish(obsbus.KindContainerEvent, sessionID, map[string]any{"container_id": id, "state": domain.ContainerCreated})

	m.osWork <- func() {
		bg := context.Background()
		if err := m.StartContainer(bg, id); err != nil {
			m.log.Warn("detached container startup failed", "container_id", id, "error", err)
		}
	}
	return id, nil
}

// StartContainer performs the idempotent created→starting→running
// transition: rootfs staging, namespace creation, cgroup limits, optional
// network setup, process start, and readiness verification (§4.5.1-.5).
func (m *Manager) StartContainer(ctx context.Context, id string) error {
	m.lockFor(id).Lock()
	defer m.lockFor(id).Unlock()

	record, err := m.store.GetContainer(ctx, id)
	if err != nil {
		return err
	}
	if record.State == domain.ContainerRunning || record.State == domain.ContainerStarting {
		return nil // idempotent: already in progress or running
	}
	if record.State != domain.ContainerCreated {
		return aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryContainer, aerrors.SeverityMedium,
			fmt.Sprintf("cannot start container in state %s", record.State))
	}

	record.State = domain.ContainerStarting
	if err := m.store.UpsertContainer(ctx, record); err != nil {
		return err
	}
	m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{"container_id": id, "state": domain.ContainerStarting})

	if err := m.startInternal(ctx, &record); err != nil {
		record.State = domain.ContainerError
		m.store.UpsertContainer(ctx, record)
		m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{"container_id": id, "state": domain.ContainerError, "error": err.Error()})
		return err
	}

	record.State = domain.ContainerRunning
	record.StartedAt = time.Now()
	if err := m.store.UpsertContainer(ctx, record); err != nil {
		return err
	}
	m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{"container_id": id, "state": domain.ContainerRunning})
	return nil
}

func (m *Manager) startInternal(ctx context.Context, record *domain.ContainerRecord) error {
	workspace := filepath.Join(m.cfg.WorkspaceRoot, record.ID)
	if err := stageRootfs(ctx, m.host, m.cfg.ImageCacheRoot, workspace, record.Image); err != nil {
		return aerrors.Wrap(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "stage rootfs", err)
	}

	flags := hostops.NamespaceFlags{PID: true, Mnt: true, UTS: true, IPC: true, Net: record.Networked}
	if err := m.host.CreateNamespaces(ctx, record.ID, flags); err != nil {
		return aerrors.Wrap(aerrors.CodeNamespaceUnavailable, aerrors.CategoryContainer, aerrors.SeverityHigh, "create namespaces", err)
	}

	if err := m.host.ApplyCgroupLimits(ctx, record.ID, record.Limits.MemoryMB, record.Limits.CPUCores); err != nil {
		return aerrors.Wrap(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer, aerrors.SeverityMedium, "apply cgroup limits", err)
	}

	if record.Networked {
		if err := m.setupNetwork(ctx, record); err != nil {
			return err
		}
	}

	readyPath := fmt.Sprintf("/tmp/quilt_ready_%s", record.ID)
	os.Remove(readyPath)
	env := containerEnv(record, readyPath)

	handle, err := m.host.StartProcess(ctx, record.ID, record.Command, env, record.WorkingDir)
	if err != nil {
		return aerrors.Wrap(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "start container process", err)
	}
	record.PID = handle.PID

	if err := m.store.UpsertProcessMonitor(ctx, domain.ProcessMonitor{
		ContainerID: record.ID, PID: handle.PID, MonitorStarted: time.Now(), LastCheck: time.Now(), Status: domain.MonitorRunning,
	}); err != nil {
		return err
	}
	go m.monitorLoop(record.ID, handle.PID)

	readyCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadinessTimeout)
	defer cancel()
	if err := m.host.WatchReadinessFile(readyCtx, readyPath); err != nil {
		return aerrors.Wrap(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "readiness timed out", err)
	}
	return nil
}

func containerEnv(record domain.ContainerRecord, readyPath string) map[string]string {
	env := map[string]string{}
	for k, v := range record.Env {
		env[k] = v
	}
	env["ARIA_CONTAINER_ID"] = record.ID
	env["ARIA_SESSION_ID"] = record.SessionID
	env["ARIA_WORKSPACE_PATH"] = "/workspace"
	env["ARIA_READY_FILE"] = readyPath
	return env
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Exec requires state=running; runs command inside the container's
// namespaces with a caller-supplied deadline.
func (m *Manager) Exec(ctx context.Context, id string, command []string, capture bool) (hostops.ExecResult, error) {
	m.lockFor(id).Lock()
	record, err := m.store.GetContainer(ctx, id)
	m.lockFor(id).Unlock()
	if err != nil {
		return hostops.ExecResult{}, err
	}
	if record.State != domain.ContainerRunning {
		return hostops.ExecResult{}, aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryContainer, aerrors.SeverityMedium,
			fmt.Sprintf("exec requires running state, container is %s", record.State))
	}
	return m.host.ExecIn(ctx, id, command, capture)
}

// StopContainer requests graceful termination, escalating to a hard kill
// once StopGrace elapses, then transitions the record to stopped/failed.
func (m *Manager) StopContainer(ctx context.Context, id string) error {
	m.lockFor(id).Lock()
	defer m.lockFor(id).Unlock()

	record, err := m.store.GetContainer(ctx, id)
	if err != nil {
		return err
	}
	if record.State != domain.ContainerRunning {
		return nil
	}
	if err := m.host.Signal(record.PID, "TERM"); err != nil {
		m.log.Warn("graceful term signal failed", "container_id", id, "error", err)
	}

	deadline := time.Now().Add(m.cfg.StopGrace)
	for time.Now().Before(deadline) {
		if !m.host.IsAlive(record.PID) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if m.host.IsAlive(record.PID) {
		if err := m.host.Signal(record.PID, "KILL"); err != nil {
			m.log.Warn("hard kill signal failed", "container_id", id, "error", err)
		}
	}

	exitCode, _ := m.host.Wait(ctx, record.PID)
	state := domain.ContainerStopped
	if exitCode != 0 {
		state = domain.ContainerFailed
	}
	if err := m.store.MarkContainerExit(ctx, id, exitCode, state); err != nil {
		return err
	}
	m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{"container_id": id, "state": state, "exit_code": exitCode})
	return nil
}

// RemoveContainer requires a terminal state; it triggers resource
// reclamation and deletes the row.
func (m *Manager) RemoveContainer(ctx context.Context, id string) error {
	m.lockFor(id).Lock()
	defer m.lockFor(id).Unlock()

	record, err := m.store.GetContainer(ctx, id)
	if err != nil {
		return err
	}
	if !isTerminal(record.State) {
		return aerrors.New(aerrors.CodeValidationFailed, aerrors.CategoryContainer, aerrors.SeverityMedium,
			fmt.Sprintf("remove requires a terminal state, container is %s", record.State))
	}
	m.reclaim(ctx, record)
	return nil
}

func isTerminal(s domain.ContainerState) bool {
	return s == domain.ContainerStopped || s == domain.ContainerFailed || s == domain.ContainerError
}

// GetStatus reads directly from persistence; it never blocks on the
// container itself.
func (m *Manager) GetStatus(ctx context.Context, id string) (domain.ContainerRecord, error) {
	return m.store.GetContainer(ctx, id)
}

// ListContainers returns every container owned by userID.
func (m *Manager) ListContainers(ctx context.Context, userID string) ([]domain.ContainerRecord, error) {
	return m.store.ListContainersByUser(ctx, userID)
}

// NetworkTopology returns every still-active network allocation.
func (m *Manager) NetworkTopology(ctx context.Context) ([]domain.NetworkAllocation, error) {
	return m.store.ListActiveAllocations(ctx)
}

// EmergencyCleanup enumerates every container recorded for userID, in any
// state, and reclaims its resources. Containers of other users are not
// touched.
func (m *Manager) EmergencyCleanup(ctx context.Context, userID string) {
	records, err := m.store.ListContainersByUser(ctx, userID)
	if err != nil {
		m.log.Warn("emergency cleanup: list containers failed", "error", err)
		return
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	m.withLocks(ids, func() {
		for _, r := range records {
			m.reclaim(ctx, r)
		}
	})
}
