package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, agent_name, status, tool_calls, tokens_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.AgentConfig.Name, string(sess.Status), sess.ToolCalls, sess.TokensUsed, sess.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("persistence: create session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id. The returned Session's AgentConfig
// carries only Name; callers join against agent_configs for the rest.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var sess domain.Session
	var status, agentName string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_name, status, tool_calls, tokens_used, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &agentName, &status, &sess.ToolCalls, &sess.TokensUsed, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Session{}, fmt.Errorf("persistence: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("persistence: get session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.AgentConfig.Name = agentName
	return sess, nil
}

// UpdateSessionStatus transitions a session's lifecycle status.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("persistence: update session status: %w", err)
	}
	return nil
}

// IncrementSessionUsage adds toolCalls and tokens to a session's running
// totals (§3 Session.ToolCalls/TokensUsed).
func (s *Store) IncrementSessionUsage(ctx context.Context, id string, toolCalls, tokens int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET tool_calls = tool_calls + ?, tokens_used = tokens_used + ?, updated_at = ? WHERE id = ?`,
		toolCalls, tokens, time.Now(), id)
	if err != nil {
		return fmt.Errorf("persistence: increment session usage: %w", err)
	}
	return nil
}

// ListSessionsByUser returns a user's sessions, most recent first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, agent_name, status, tool_calls, tokens_used, created_at FROM sessions
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var sess domain.Session
		var status, agentName string
		if err := rows.Scan(&sess.ID, &sess.UserID, &agentName, &status, &sess.ToolCalls, &sess.TokensUsed, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sess.Status = domain.SessionStatus(status)
		sess.AgentConfig.Name = agentName
		out = append(out, sess)
	}
	return out, rows.Err()
}
