package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

// UpsertNetworkAllocation records an IP allocation before any host-side
// network mutation, per §4.5.3's "record before mutate" ordering.
func (s *Store) UpsertNetworkAllocation(ctx context.Context, a domain.NetworkAllocation) error {
	if a.AllocatedAt.IsZero() {
		a.AllocatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO network_allocations (
			container_id, ip_address, bridge, host_veth, container_veth, setup_complete, status, allocated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(container_id) DO UPDATE SET
			ip_address = excluded.ip_address, host_veth = excluded.host_veth,
			container_veth = excluded.container_veth, setup_complete = excluded.setup_complete,
			status = excluded.status`,
		a.ContainerID, a.IPAddress, a.Bridge, a.HostVeth, a.ContainerVeth, a.SetupComplete, string(a.Status), a.AllocatedAt,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert network allocation: %w", err)
	}
	return nil
}

// GetNetworkAllocation fetches a container's network allocation.
func (s *Store) GetNetworkAllocation(ctx context.Context, containerID string) (domain.NetworkAllocation, error) {
	var a domain.NetworkAllocation
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT container_id, ip_address, bridge, host_veth, container_veth, setup_complete, status, allocated_at
		 FROM network_allocations WHERE container_id = ?`, containerID,
	).Scan(&a.ContainerID, &a.IPAddress, &a.Bridge, &a.HostVeth, &a.ContainerVeth, &a.SetupComplete, &status, &a.AllocatedAt)
	if err == sql.ErrNoRows {
		return domain.NetworkAllocation{}, fmt.Errorf("persistence: network allocation %s: %w", containerID, ErrNotFound)
	}
	if err != nil {
		return domain.NetworkAllocation{}, fmt.Errorf("persistence: get network allocation: %w", err)
	}
	a.Status = domain.AllocationStatus(status)
	return a, nil
}

// ListActiveAllocations returns every allocation not yet cleaned, for the
// system-wide emergency cleanup sweep.
func (s *Store) ListActiveAllocations(ctx context.Context) ([]domain.NetworkAllocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container_id FROM network_allocations WHERE status != ?`, string(domain.AllocCleaned))
	if err != nil {
		return nil, fmt.Errorf("persistence: list active allocations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.NetworkAllocation, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetNetworkAllocation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpsertProcessMonitor records or updates a container's process monitor
// row (§4.5.4).
func (s *Store) UpsertProcessMonitor(ctx context.Context, m domain.ProcessMonitor) error {
	if m.MonitorStarted.IsZero() {
		m.MonitorStarted = time.Now()
	}
	if m.LastCheck.IsZero() {
		m.LastCheck = m.MonitorStarted
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_monitors (container_id, pid, monitor_started, last_check, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(container_id) DO UPDATE SET
			pid = excluded.pid, last_check = excluded.last_check, status = excluded.status`,
		m.ContainerID, m.PID, m.MonitorStarted, m.LastCheck, string(m.Status),
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert process monitor: %w", err)
	}
	return nil
}

// GetProcessMonitor fetches a container's process monitor row.
func (s *Store) GetProcessMonitor(ctx context.Context, containerID string) (domain.ProcessMonitor, error) {
	var m domain.ProcessMonitor
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT container_id, pid, monitor_started, last_check, status FROM process_monitors WHERE container_id = ?`,
		containerID,
	).Scan(&m.ContainerID, &m.PID, &m.MonitorStarted, &m.LastCheck, &status)
	if err == sql.ErrNoRows {
		return domain.ProcessMonitor{}, fmt.Errorf("persistence: process monitor %s: %w", containerID, ErrNotFound)
	}
	if err != nil {
		return domain.ProcessMonitor{}, fmt.Errorf("persistence: get process monitor: %w", err)
	}
	m.Status = domain.MonitorStatus(status)
	return m, nil
}

// ListMonitorsByStatus returns every monitor currently in status, used by
// the heartbeat-staleness sweep and the shutdown-time monitor stop.
func (s *Store) ListMonitorsByStatus(ctx context.Context, status domain.MonitorStatus) ([]domain.ProcessMonitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container_id FROM process_monitors WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("persistence: list monitors: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.ProcessMonitor, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetProcessMonitor(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkContainerExit writes the final exit code and terminal state for a
// container, per §4.5.4's process-exit handling. Its process_monitors row
// is left unchanged.
func (s *Store) MarkContainerExit(ctx context.Context, containerID string, exitCode int, state domain.ContainerState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE containers SET exit_code = ?, state = ?, stopped_at = ? WHERE id = ?`,
		exitCode, string(state), time.Now(), containerID,
	)
	if err != nil {
		return fmt.Errorf("persistence: mark container exit: %w", err)
	}
	return nil
}
