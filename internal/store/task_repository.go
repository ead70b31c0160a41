package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// TaskRepository implements contracts.TaskRepository
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Create inserts the task row with status running
func (r *TaskRepository) Create(ctx context.Context, task *contracts.Task) error {
	query := `
		INSERT INTO task_status (task_id, task_type, target, symbol, status, progress)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''))
	`

	if task.Status == "" {
		task.Status = contracts.TaskRunning
	}

	_, err := r.pool.Exec(ctx, query,
		task.ID, string(task.Type), task.Target, task.Symbol, string(task.Status), task.Progress,
	)
	return err
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*contracts.Task, error) {
	query := `
		SELECT task_id, task_type, target, COALESCE(symbol, ''), status,
		       COALESCE(progress, ''), created_at, updated_at, COALESCE(error, '')
		FROM task_status
		WHERE task_id = $1
	`

	var t contracts.Task
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Type, &t.Target, &t.Symbol, &t.Status,
		&t.Progress, &t.CreatedAt, &t.UpdatedAt, &t.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contracts.ErrNoData
		}
		return nil, err
	}
	return &t, nil
}

// UpdateProgress updates the free-form progress text
func (r *TaskRepository) UpdateProgress(ctx context.Context, id, progress string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE task_status SET progress = $2, updated_at = now() WHERE task_id = $1
	`, id, progress)
	return err
}

// Complete marks a task completed
func (r *TaskRepository) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE task_status SET status = 'completed', updated_at = now() WHERE task_id = $1
	`, id)
	return err
}

// Fail marks a task failed with an error message
func (r *TaskRepository) Fail(ctx context.Context, id, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE task_status SET status = 'failed', error = $2, updated_at = now() WHERE task_id = $1
	`, id, errMsg)
	return err
}

// List retrieves tasks, optionally filtered by type and status,
// newest first
func (r *TaskRepository) List(ctx context.Context, taskType contracts.TaskType, status contracts.TaskStatus, limit int) ([]*contracts.Task, error) {
	query := `
		SELECT task_id, task_type, target, COALESCE(symbol, ''), status,
		       COALESCE(progress, ''), created_at, updated_at, COALESCE(error, '')
		FROM task_status
		WHERE 1=1
	`
	args := []interface{}{}

	if taskType != "" {
		args = append(args, string(taskType))
		query += fmt.Sprintf(" AND task_type = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*contracts.Task
	for rows.Next() {
		var t contracts.Task
		if err := rows.Scan(
			&t.ID, &t.Type, &t.Target, &t.Symbol, &t.Status,
			&t.Progress, &t.CreatedAt, &t.UpdatedAt, &t.Error,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// Stats returns task counts grouped by type
func (r *TaskRepository) Stats(ctx context.Context) ([]*contracts.TaskStats, error) {
	query := `
		SELECT task_type,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'running') AS running,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		       COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM task_status
		GROUP BY task_type
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*contracts.TaskStats
	for rows.Next() {
		var s contracts.TaskStats
		if err := rows.Scan(&s.Type, &s.Total, &s.Running, &s.Completed, &s.Failed); err != nil {
			return nil, err
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// CountFailed returns how many of the listed tasks have failed
func (r *TaskRepository) CountFailed(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_status WHERE task_id = ANY($1) AND status = 'failed'
	`, ids).Scan(&n)
	return n, err
}

// CountRunning returns how many of the listed tasks are still running
func (r *TaskRepository) CountRunning(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_status WHERE task_id = ANY($1) AND status = 'running'
	`, ids).Scan(&n)
	return n, err
}

// ClearAll removes every task row. Called on startup so stale tasks
// from a previous run never block a new pipeline.
func (r *TaskRepository) ClearAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM task_status`)
	return err
}

// DeleteOldTerminal removes completed and failed tasks older than the
// retention window and returns how many rows were deleted.
func (r *TaskRepository) DeleteOldTerminal(ctx context.Context, days int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM task_status
		WHERE status IN ('completed', 'failed')
		  AND updated_at < now() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
