package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// ReturnRepository implements contracts.ReturnRepository for both
// sector and industry daily returns.
type ReturnRepository struct {
	pool *pgxpool.Pool
}

// NewReturnRepository creates a new return repository
func NewReturnRepository(pool *pgxpool.Pool) *ReturnRepository {
	return &ReturnRepository{pool: pool}
}

// SaveSectorBatch upserts sector returns
func (r *ReturnRepository) SaveSectorBatch(ctx context.Context, returns []*contracts.GroupReturn) error {
	return r.saveBatch(ctx, `
		INSERT INTO sector_returns (sector, date, avg_return, stock_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (sector, date) DO UPDATE SET
			avg_return = EXCLUDED.avg_return,
			stock_count = EXCLUDED.stock_count
	`, returns)
}

// SaveIndustryBatch upserts industry returns
func (r *ReturnRepository) SaveIndustryBatch(ctx context.Context, returns []*contracts.GroupReturn) error {
	return r.saveBatch(ctx, `
		INSERT INTO industry_returns (industry, date, avg_return, stock_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (industry, date) DO UPDATE SET
			avg_return = EXCLUDED.avg_return,
			stock_count = EXCLUDED.stock_count
	`, returns)
}

func (r *ReturnRepository) saveBatch(ctx context.Context, query string, returns []*contracts.GroupReturn) error {
	if len(returns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ret := range returns {
		batch.Queue(query, ret.Name, ret.Date, ret.AvgReturn, ret.StockCount)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// SectorReturnsSince retrieves sector returns from a date onward,
// ordered by sector then date
func (r *ReturnRepository) SectorReturnsSince(ctx context.Context, from string) ([]*contracts.GroupReturn, error) {
	return r.returnsSince(ctx, `
		SELECT sector, to_char(date, 'YYYY-MM-DD'), avg_return, stock_count
		FROM sector_returns
		WHERE date >= $1::date
		ORDER BY sector, date ASC
	`, from)
}

// IndustryReturnsSince retrieves industry returns from a date onward,
// ordered by industry then date
func (r *ReturnRepository) IndustryReturnsSince(ctx context.Context, from string) ([]*contracts.GroupReturn, error) {
	return r.returnsSince(ctx, `
		SELECT industry, to_char(date, 'YYYY-MM-DD'), avg_return, stock_count
		FROM industry_returns
		WHERE date >= $1::date
		ORDER BY industry, date ASC
	`, from)
}

func (r *ReturnRepository) returnsSince(ctx context.Context, query, from string) ([]*contracts.GroupReturn, error) {
	rows, err := r.pool.Query(ctx, query, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.GroupReturn
	for rows.Next() {
		var g contracts.GroupReturn
		if err := rows.Scan(&g.Name, &g.Date, &g.AvgReturn, &g.StockCount); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// SectorDates returns the number of distinct dates with sector returns
func (r *ReturnRepository) SectorDates(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT date) FROM sector_returns`).Scan(&n)
	return n, err
}

// IndustryDates returns the number of distinct dates with industry returns
func (r *ReturnRepository) IndustryDates(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT date) FROM industry_returns`).Scan(&n)
	return n, err
}

// ClearSectors removes all sector returns
func (r *ReturnRepository) ClearSectors(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sector_returns`)
	return err
}

// ClearIndustries removes all industry returns
func (r *ReturnRepository) ClearIndustries(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM industry_returns`)
	return err
}
