package container

import (
	"context"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/obsbus"
)

// monitorLoop polls pid at the configured interval, heartbeating the
// process_monitors row, and on exit writes the final state and marks the
// monitor completed (§4.5.4).
func (m *Manager) monitorLoop(containerID string, pid int) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		monitor, err := m.store.GetProcessMonitor(ctx, containerID)
		if err != nil || monitor.Status != domain.MonitorRunning {
			return
		}

		if m.host.IsAlive(pid) {
			monitor.LastCheck = time.Now()
			m.store.UpsertProcessMonitor(ctx, monitor)
			continue
		}

		exitCode, _ := m.host.Wait(ctx, pid)
		state := domain.ContainerStopped
		if exitCode != 0 {
			state = domain.ContainerFailed
		}
		m.store.MarkContainerExit(ctx, containerID, exitCode, state)
		monitor.Status = domain.MonitorCompleted
		monitor.LastCheck = time.Now()
		m.store.UpsertProcessMonitor(ctx, monitor)

		if record, err := m.store.GetContainer(ctx, containerID); err == nil {
			m.publish(obsbus.KindContainerEvent, record.SessionID, map[string]any{
				"container_id": containerID, "state": state, "exit_code": exitCode,
			})
		}
		return
	}
}

// StopMonitoring marks a container's process monitor aborted, used when
// the manager itself is initiating the stop (so the poll loop doesn't
// race a container state it is about to overwrite).
func (m *Manager) StopMonitoring(ctx context.Context, containerID string) error {
	monitor, err := m.store.GetProcessMonitor(ctx, containerID)
	if err != nil {
		return err
	}
	monitor.Status = domain.MonitorAborted
	return m.store.UpsertProcessMonitor(ctx, monitor)
}

// SweepStaleMonitors marks monitors whose heartbeat is older than
// staleAfter as failed, per §4.5.4's cleanup-sweep cadence.
func (m *Manager) SweepStaleMonitors(ctx context.Context, staleAfter time.Duration) error {
	monitors, err := m.store.ListMonitorsByStatus(ctx, domain.MonitorRunning)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-staleAfter)
	for _, mon := range monitors {
		if mon.LastCheck.Before(cutoff) {
			mon.Status = domain.MonitorFailed
			if err := m.store.UpsertProcessMonitor(ctx, mon); err != nil {
				m.log.Warn("sweep: mark monitor failed error", "container_id", mon.ContainerID, "error", err)
			}
		}
	}
	return nil
}
