package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariacorp/ariarun/internal/domain"
)

// UpsertContainer inserts or replaces a container record.
func (s *Store) UpsertContainer(ctx context.Context, c domain.ContainerRecord) error {
	cmd, err := json.Marshal(c.Command)
	if err != nil {
		return err
	}
	env, err := json.Marshal(c.Env)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO containers (
			id, user_id, session_id, image, command_json, env_json, working_dir,
			memory_mb, cpu_cores, timeout_sec, networked, state, pid, exit_code,
			ip_address, auto_remove, persistent, created_at, started_at, stopped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state, pid = excluded.pid, exit_code = excluded.exit_code,
			ip_address = excluded.ip_address, started_at = excluded.started_at, stopped_at = excluded.stopped_at`,
		c.ID, c.UserID, nullableString(c.SessionID), c.Image, string(cmd), string(env), c.WorkingDir,
		c.Limits.MemoryMB, c.Limits.CPUCores, c.Limits.TimeoutSec, c.Networked, string(c.State),
		c.PID, c.ExitCode, nullableString(c.IPAddress), c.AutoRemove, c.Persistent,
		c.CreatedAt, nullableTime(c.StartedAt), nullableTime(c.StoppedAt),
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert container: %w", err)
	}
	return nil
}

// GetContainer fetches a container record by id.
func (s *Store) GetContainer(ctx context.Context, id string) (domain.ContainerRecord, error) {
	var c domain.ContainerRecord
	var cmdJSON, envJSON, state string
	var sessionID, ipAddress sql.NullString
	var startedAt, stoppedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, image, command_json, env_json, working_dir,
		        memory_mb, cpu_cores, timeout_sec, networked, state, pid, exit_code,
		        ip_address, auto_remove, persistent, created_at, started_at, stopped_at
		 FROM containers WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &sessionID, &c.Image, &cmdJSON, &envJSON, &c.WorkingDir,
		&c.Limits.MemoryMB, &c.Limits.CPUCores, &c.Limits.TimeoutSec, &c.Networked, &state, &c.PID, &c.ExitCode,
		&ipAddress, &c.AutoRemove, &c.Persistent, &c.CreatedAt, &startedAt, &stoppedAt)
	if err == sql.ErrNoRows {
		return domain.ContainerRecord{}, fmt.Errorf("persistence: container %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ContainerRecord{}, fmt.Errorf("persistence: get container: %w", err)
	}

	if err := json.Unmarshal([]byte(cmdJSON), &c.Command); err != nil {
		return domain.ContainerRecord{}, err
	}
	if err := json.Unmarshal([]byte(envJSON), &c.Env); err != nil {
		return domain.ContainerRecord{}, err
	}
	c.SessionID = sessionID.String
	c.IPAddress = ipAddress.String
	c.State = domain.ContainerState(state)
	c.StartedAt = startedAt.Time
	c.StoppedAt = stoppedAt.Time
	return c, nil
}

// ListContainersByUser returns a user's containers, most recently created first.
func (s *Store) ListContainersByUser(ctx context.Context, userID string) ([]domain.ContainerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM containers WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list containers: %w", err)
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

	out := make([]domain.ContainerRecord, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContainer(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteContainer removes a container's row, used once resource
// reclamation has completed (§4.5.6).
func (s *Store) DeleteContainer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("persistence: delete container: %w", err)
	}
	return nil
}

// RecordContainerMetric appends a caller-supplied resource-usage sample for
// a container.
func (s *Store) RecordContainerMetric(ctx context.Context, containerID string, usage domain.ResourceUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO container_metrics (id, container_id, cpu_millis, memory_peak_kb, sampled_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), containerID, usage.CPUMillis, usage.MemoryPeakKB, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record container metric: %w", err)
	}
	return nil
}

// RecordToolUsage logs one tool invocation outcome.
func (s *Store) RecordToolUsage(ctx context.Context, sessionID, toolName string, success bool, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_usage (id, session_id, tool_name, success, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, toolName, success, duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record tool usage: %w", err)
	}
	return nil
}

// ListRecentToolNames returns the most recent limit tool names invoked
// within sessionID, most recent first, for the context tree's recent-
// tools snapshot.
func (s *Store) ListRecentToolNames(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name FROM tool_usage WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: list recent tool names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RecordAudit appends a per-user audit entry.
func (s *Store) RecordAudit(ctx context.Context, sessionID, action, detail, severity string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, session_id, action, detail, severity, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, action, detail, severity, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record audit: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
