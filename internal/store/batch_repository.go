package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// BatchRepository implements contracts.BatchRepository
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

// Create inserts a new batch row
func (r *BatchRepository) Create(ctx context.Context, batch *contracts.Batch) error {
	query := `
		INSERT INTO batch_tasks (batch_id, stage, status, price_tasks, return_tasks, rs_task, started_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now())
	`

	_, err := r.pool.Exec(ctx, query,
		batch.ID, int(batch.Stage), string(batch.Status),
		taskList(batch.PriceTasks), taskList(batch.ReturnTasks), batch.RSTask,
	)
	return err
}

// taskList normalizes a nil slice so JSONB columns always hold an array.
func taskList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Get retrieves a batch by ID
func (r *BatchRepository) Get(ctx context.Context, id string) (*contracts.Batch, error) {
	return r.queryOne(ctx, `
		SELECT batch_id, stage, status, price_tasks, return_tasks,
		       COALESCE(rs_task, ''), started_at, completed_at, COALESCE(error, '')
		FROM batch_tasks
		WHERE batch_id = $1
	`, id)
}

// Active returns the most recent batch that has not reached a
// terminal status, or contracts.ErrNoData.
func (r *BatchRepository) Active(ctx context.Context) (*contracts.Batch, error) {
	return r.queryOne(ctx, `
		SELECT batch_id, stage, status, price_tasks, return_tasks,
		       COALESCE(rs_task, ''), started_at, completed_at, COALESCE(error, '')
		FROM batch_tasks
		WHERE status NOT IN ('completed', 'error')
		ORDER BY started_at DESC
		LIMIT 1
	`)
}

func (r *BatchRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*contracts.Batch, error) {
	var b contracts.Batch
	var stage int
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&b.ID, &stage, &b.Status, &b.PriceTasks, &b.ReturnTasks,
		&b.RSTask, &b.StartedAt, &b.CompletedAt, &b.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contracts.ErrNoData
		}
		return nil, err
	}
	b.Stage = contracts.BatchStage(stage)
	return &b, nil
}

// UpdateStage advances the batch to a new stage, recording the task
// IDs the stage spawned.
func (r *BatchRepository) UpdateStage(ctx context.Context, id string, stage contracts.BatchStage, returnTasks []string, rsTask string) error {
	query := `
		UPDATE batch_tasks
		SET stage = $2,
		    return_tasks = CASE WHEN $3::jsonb IS NOT NULL THEN $3::jsonb ELSE return_tasks END,
		    rs_task = COALESCE(NULLIF($4, ''), rs_task)
		WHERE batch_id = $1
	`

	var rt interface{}
	if returnTasks != nil {
		rt = returnTasks
	}
	_, err := r.pool.Exec(ctx, query, id, int(stage), rt, rsTask)
	return err
}

// Complete marks the batch completed
func (r *BatchRepository) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_tasks SET status = 'completed', completed_at = now() WHERE batch_id = $1
	`, id)
	return err
}

// Fail marks the batch failed with an error message
func (r *BatchRepository) Fail(ctx context.Context, id, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_tasks SET status = 'error', error = $2, completed_at = now() WHERE batch_id = $1
	`, id, errMsg)
	return err
}

// ClearStale removes batches that never reached a terminal status.
// Called on startup.
func (r *BatchRepository) ClearStale(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM batch_tasks WHERE status NOT IN ('completed', 'error')
	`)
	return err
}
