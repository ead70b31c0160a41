package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// ScoreRepository implements contracts.ScoreRepository
type ScoreRepository struct {
	pool *pgxpool.Pool
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(pool *pgxpool.Pool) *ScoreRepository {
	return &ScoreRepository{pool: pool}
}

// SaveBatch upserts RS scores using a pipelined batch
func (r *ScoreRepository) SaveBatch(ctx context.Context, scores []*contracts.RSScore) error {
	if len(scores) == 0 {
		return nil
	}

	query := `
		INSERT INTO rs_scores (entity_type, entity_name, date, rs_score, percentile, weighted_return)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		ON CONFLICT (entity_type, entity_name, date) DO UPDATE SET
			rs_score = EXCLUDED.rs_score,
			percentile = EXCLUDED.percentile,
			weighted_return = EXCLUDED.weighted_return
	`

	batch := &pgx.Batch{}
	for _, s := range scores {
		batch.Queue(query, string(s.EntityType), s.EntityName, s.Date, s.Score, s.Percentile, s.WeightedReturn)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// Latest returns the scores for the most recent date of an entity
// type, ordered by score descending.
func (r *ScoreRepository) Latest(ctx context.Context, entityType contracts.EntityType) ([]*contracts.RSScore, error) {
	query := `
		SELECT entity_type, entity_name, to_char(date, 'YYYY-MM-DD'), rs_score, percentile, weighted_return
		FROM rs_scores
		WHERE entity_type = $1
		  AND date = (SELECT MAX(date) FROM rs_scores WHERE entity_type = $1)
		ORDER BY rs_score DESC
	`
	return r.query(ctx, query, string(entityType))
}

// History returns all scores for one entity from a date onward,
// ascending by date.
func (r *ScoreRepository) History(ctx context.Context, entityType contracts.EntityType, name, from string) ([]*contracts.RSScore, error) {
	query := `
		SELECT entity_type, entity_name, to_char(date, 'YYYY-MM-DD'), rs_score, percentile, weighted_return
		FROM rs_scores
		WHERE entity_type = $1 AND entity_name = $2 AND date >= $3::date
		ORDER BY date ASC
	`
	return r.query(ctx, query, string(entityType), name, from)
}

func (r *ScoreRepository) query(ctx context.Context, query string, args ...interface{}) ([]*contracts.RSScore, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.RSScore
	for rows.Next() {
		var s contracts.RSScore
		if err := rows.Scan(&s.EntityType, &s.EntityName, &s.Date, &s.Score, &s.Percentile, &s.WeightedReturn); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DistinctDates returns the number of distinct dates with scores for
// an entity type
func (r *ScoreRepository) DistinctDates(ctx context.Context, entityType contracts.EntityType) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT date) FROM rs_scores WHERE entity_type = $1
	`, string(entityType)).Scan(&n)
	return n, err
}

// Clear removes all RS scores
func (r *ScoreRepository) Clear(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM rs_scores`)
	return err
}

// DeleteByEntity removes all scores for one entity
func (r *ScoreRepository) DeleteByEntity(ctx context.Context, entityType contracts.EntityType, name string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM rs_scores WHERE entity_type = $1 AND entity_name = $2
	`, string(entityType), name)
	return err
}
