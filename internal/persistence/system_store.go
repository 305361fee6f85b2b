package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemStore is the system database: principals, global config, and the
// cross-user audit trail.
type SystemStore struct {
	db *sql.DB
}

// NewSystemStore wraps db, which must already have SystemMigrations applied.
func NewSystemStore(db *sql.DB) *SystemStore { return &SystemStore{db: db} }

// User is a system-database principal record.
type User struct {
	ID          string
	DisplayName string
	DefaultDSN  string
	CreatedAt   time.Time
	Disabled    bool
}

// CreateUser inserts a new principal.
func (s *SystemStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, default_dsn, created_at, disabled) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.DefaultDSN, u.CreatedAt, u.Disabled)
	if err != nil {
		return fmt.Errorf("persistence: create user: %w", err)
	}
	return nil
}

// GetUser fetches a principal by id.
func (s *SystemStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, default_dsn, created_at, disabled FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.DefaultDSN, &u.CreatedAt, &u.Disabled)
	if err == sql.ErrNoRows {
		return User{}, fmt.Errorf("persistence: user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("persistence: get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every principal.
func (s *SystemStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, default_dsn, created_at, disabled FROM users`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.DefaultDSN, &u.CreatedAt, &u.Disabled); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetConfig upserts a global configuration key.
func (s *SystemStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: set config %s: %w", key, err)
	}
	return nil
}

// GetConfig reads a global configuration key.
func (s *SystemStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("persistence: config %s: %w", key, ErrNotFound)
	}
	return value, err
}

// GlobalAuditEntry is one cross-user audit record.
type GlobalAuditEntry struct {
	ID        string
	UserID    string
	Action    string
	Detail    string
	Severity  string
	CreatedAt time.Time
}

// RecordGlobalAudit appends an audit entry.
func (s *SystemStore) RecordGlobalAudit(ctx context.Context, e GlobalAuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO global_audit_logs (id, user_id, action, detail, severity, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.Detail, e.Severity, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("persistence: record global audit: %w", err)
	}
	return nil
}

// ListGlobalAuditByUser returns a user's audit trail, most recent first.
func (s *SystemStore) ListGlobalAuditByUser(ctx context.Context, userID string, limit int) ([]GlobalAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action, detail, severity, created_at FROM global_audit_logs
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: list global audit: %w", err)
	}
	defer rows.Close()

	var out []GlobalAuditEntry
	for rows.Next() {
		var e GlobalAuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Detail, &e.Severity, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
