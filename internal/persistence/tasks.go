package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AsyncTaskStatus is the lifecycle state of a background task.
type AsyncTaskStatus string

const (
	TaskPending   AsyncTaskStatus = "pending"
	TaskRunning   AsyncTaskStatus = "running"
	TaskCompleted AsyncTaskStatus = "completed"
	TaskFailed    AsyncTaskStatus = "failed"
)

// AsyncTask is a long-running unit of work tracked outside the synchronous
// turn loop (supplemented from original_source's async task tracker).
type AsyncTask struct {
	ID          string
	SessionID   string
	Description string
	Status      AsyncTaskStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateAsyncTask inserts a new background task.
func (s *Store) CreateAsyncTask(ctx context.Context, t AsyncTask) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.Status == "" {
		t.Status = TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO async_tasks (id, session_id, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Description, string(t.Status), now, now)
	if err != nil {
		return "", fmt.Errorf("persistence: create async task: %w", err)
	}
	return t.ID, nil
}

// UpdateTaskStatus transitions a task's status.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status AsyncTaskStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE async_tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("persistence: update task status: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (AsyncTask, error) {
	var t AsyncTask
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, description, status, created_at, updated_at FROM async_tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.SessionID, &t.Description, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return AsyncTask{}, fmt.Errorf("persistence: task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AsyncTask{}, fmt.Errorf("persistence: get task: %w", err)
	}
	t.Status = AsyncTaskStatus(status)
	return t, nil
}

// RecordTaskProgress appends a progress report for a task.
func (s *Store) RecordTaskProgress(ctx context.Context, taskID string, percent float64, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_progress (id, task_id, percent, message, reported_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), taskID, percent, message, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record task progress: %w", err)
	}
	return nil
}

// AddTaskDependency records that task depends on dependsOn.
func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOn string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`, taskID, dependsOn)
	if err != nil {
		return fmt.Errorf("persistence: add task dependency: %w", err)
	}
	return nil
}

// ListTaskDependencies returns the IDs a task depends on.
func (s *Store) ListTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list task dependencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DependenciesSatisfied reports whether every dependency of taskID has
// completed.
func (s *Store) DependenciesSatisfied(ctx context.Context, taskID string) (bool, error) {
	deps, err := s.ListTaskDependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, depID := range deps {
		dep, err := s.GetTask(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep.Status != TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}
