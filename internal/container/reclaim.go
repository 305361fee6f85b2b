package container

import (
	"context"
	"path/filepath"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/obsbus"
)

// reclaim releases a container's resources in the fixed order required by
// §4.5.6: (1) stop the process monitor, (2) kill the pid if still alive,
// (3) unmount the rootfs, (4) tear down network artifacts, (5) destroy the
// cgroup, (6) remove the rootfs directory — then deletes the persistence
// row. Each step is best-effort and logs a warning on failure without
// aborting the steps that follow; a partially reclaimed container must
// never block the rest of the sweep.
func (m *Manager) reclaim(ctx context.Context, record domain.ContainerRecord) {
	if err := m.StopMonitoring(ctx, record.ID); err != nil {
		m.log.Warn("reclaim: stop monitoring failed", "container_id", record.ID, "error", err)
	}

	if record.PID > 0 && m.host.IsAlive(record.PID) {
		if err := m.host.Signal(record.PID, "TERM"); err != nil {
			m.log.Warn("reclaim: term signal failed", "container_id", record.ID, "error", err)
		}
		if m.host.IsAlive(record.PID) {
			if err := m.host.Signal(record.PID, "KILL"); err != nil {
				m.log.Warn("reclaim: kill signal failed", "container_id", record.ID, "error", err)
			}
		}
		m.host.Wait(ctx, record.PID)
	}

	workspace := filepath.Join(m.cfg.WorkspaceRoot, record.ID)
	unmountRootfs(ctx, m.host, workspace)

	if record.Networked {
		m.teardownNetwork(ctx, m.host, record)
	}

	if err := m.host.DestroyCgroup(ctx, record.ID); err != nil {
		m.log.Warn("reclaim: destroy cgroup failed", "container_id", record.ID, "error", err)
	}

	if err := m.host.DestroyNamespaces(ctx, record.ID); err != nil {
		m.log.Warn("reclaim: destroy namespaces failed", "container_id", record.ID, "error", err)
	}

	removeRootfs(m.host, m.cfg.ImageCacheRoot, workspace, record.Image)

	if err := m.store.DeleteContainer(ctx, record.ID); err != nil {
		m.log.Warn("reclaim: delete container row failed", "container_id", record.ID, "error", err)
	}

	m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{"container_id": record.ID, "state": "removed"})
}
