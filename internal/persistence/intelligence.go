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

// UpsertPattern persists a learned container pattern (§4.11).
func (s *Store) UpsertPattern(ctx context.Context, p domain.ContainerPattern) error {
	template, err := json.Marshal(p.Template)
	if err != nil {
		return err
	}
	vars, err := json.Marshal(p.Variables)
	if err != nil {
		return err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO container_patterns (
			id, trigger_text, template_json, confidence, success_count, failure_count,
			total_count, avg_exec_ms, last_used, variables_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence, success_count = excluded.success_count,
			failure_count = excluded.failure_count, total_count = excluded.total_count,
			avg_exec_ms = excluded.avg_exec_ms, last_used = excluded.last_used, updated_at = excluded.updated_at`,
		p.ID, p.Trigger, string(template), p.Confidence, p.Usage.SuccessCount, p.Usage.FailureCount,
		p.Usage.Total, p.Usage.AvgExecutionMS, nullableTime(p.Usage.LastUsed), string(vars), p.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert pattern: %w", err)
	}
	return nil
}

// GetPattern fetches a learned pattern by id.
func (s *Store) GetPattern(ctx context.Context, id string) (domain.ContainerPattern, error) {
	var p domain.ContainerPattern
	var templateJSON, varsJSON string
	var lastUsed sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_text, template_json, confidence, success_count, failure_count,
		        total_count, avg_exec_ms, last_used, variables_json, created_at, updated_at
		 FROM container_patterns WHERE id = ?`, id,
	).Scan(&p.ID, &p.Trigger, &templateJSON, &p.Confidence, &p.Usage.SuccessCount, &p.Usage.FailureCount,
		&p.Usage.Total, &p.Usage.AvgExecutionMS, &lastUsed, &varsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.ContainerPattern{}, fmt.Errorf("persistence: pattern %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ContainerPattern{}, fmt.Errorf("persistence: get pattern: %w", err)
	}
	if err := json.Unmarshal([]byte(templateJSON), &p.Template); err != nil {
		return domain.ContainerPattern{}, err
	}
	if err := json.Unmarshal([]byte(varsJSON), &p.Variables); err != nil {
		return domain.ContainerPattern{}, err
	}
	p.Usage.LastUsed = lastUsed.Time
	return p, nil
}

// ListPatterns returns every learned pattern, used by the resolver to
// compute trigger similarity against an incoming task description.
func (s *Store) ListPatterns(ctx context.Context) ([]domain.ContainerPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM container_patterns`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list patterns: %w", err)
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

	out := make([]domain.ContainerPattern, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPattern(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordLearningFeedback logs a confidence adjustment applied to a pattern.
func (s *Store) RecordLearningFeedback(ctx context.Context, patternID, outcome string, delta float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_feedback (id, pattern_id, outcome, delta, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), patternID, outcome, delta, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record learning feedback: %w", err)
	}
	return nil
}

// RecordContainerWorkload links a container run to the pattern, if any,
// that produced its configuration.
func (s *Store) RecordContainerWorkload(ctx context.Context, containerID, stepID, patternID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO container_workloads (id, container_id, step_id, pattern_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), containerID, stepID, nullableString(patternID), time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record container workload: %w", err)
	}
	return nil
}

// UpsertExecutionContext persists one node of the per-session context tree.
func (s *Store) UpsertExecutionContext(ctx context.Context, n domain.ExecutionContextNode) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(n.Metadata.RecentErrors)
	if err != nil {
		return err
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_contexts (
			id, session_id, node_type, parent_id, payload_json, priority,
			execution_count, success_rate, avg_duration_ms, last_execution, recent_errors_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload_json = excluded.payload_json, execution_count = excluded.execution_count,
			success_rate = excluded.success_rate, avg_duration_ms = excluded.avg_duration_ms,
			last_execution = excluded.last_execution, recent_errors_json = excluded.recent_errors_json,
			updated_at = excluded.updated_at`,
		n.ID, n.SessionID, string(n.Type), nullableString(n.ParentID), string(payload), n.Priority,
		n.Metadata.ExecutionCount, n.Metadata.SuccessRate, n.Metadata.AvgDurationMS,
		nullableTime(n.Metadata.LastExecution), string(errs), n.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert execution context: %w", err)
	}
	return nil
}

// ListExecutionContextsBySession returns a session's context tree nodes.
func (s *Store) ListExecutionContextsBySession(ctx context.Context, sessionID string) ([]domain.ExecutionContextNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, node_type, parent_id, payload_json, priority,
		        execution_count, success_rate, avg_duration_ms, last_execution, recent_errors_json,
		        created_at, updated_at
		 FROM execution_contexts WHERE session_id = ? ORDER BY priority DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list execution contexts: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionContextNode
	for rows.Next() {
		var n domain.ExecutionContextNode
		var nodeType, payloadJSON, errsJSON string
		var parentID sql.NullString
		var lastExec sql.NullTime
		if err := rows.Scan(&n.ID, &n.SessionID, &nodeType, &parentID, &payloadJSON, &n.Priority,
			&n.Metadata.ExecutionCount, &n.Metadata.SuccessRate, &n.Metadata.AvgDurationMS, &lastExec, &errsJSON,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.Type = domain.ContextNodeType(nodeType)
		n.ParentID = parentID.String
		n.Metadata.LastExecution = lastExec.Time
		if err := json.Unmarshal([]byte(payloadJSON), &n.Payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errsJSON), &n.Metadata.RecentErrors); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RecordIntelligenceQuery logs one intelligence-layer query and whether it
// was served from the context-tree cache.
func (s *Store) RecordIntelligenceQuery(ctx context.Context, sessionID, kind string, query, result any, cacheHit bool) error {
	q, err := json.Marshal(query)
	if err != nil {
		return err
	}
	r, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intelligence_queries (id, session_id, kind, query_json, result_json, cache_hit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, kind, string(q), string(r), cacheHit, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record intelligence query: %w", err)
	}
	return nil
}
