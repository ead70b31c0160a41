package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// PriceRepository implements contracts.PriceRepository
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

const priceColumns = `symbol, to_char(date, 'YYYY-MM-DD'), open, high, low, close, adjclose, volume, daily_return`

func scanBar(rows pgx.Rows) (*contracts.PriceBar, error) {
	var b contracts.PriceBar
	if err := rows.Scan(
		&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume, &b.DailyReturn,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBySymbol retrieves the full history for a symbol, ascending by date
func (r *PriceRepository) GetBySymbol(ctx context.Context, symbol string) ([]*contracts.PriceBar, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM prices
		WHERE symbol = $1
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []*contracts.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// GetRange retrieves bars for a symbol within [from, to], ascending by date
func (r *PriceRepository) GetRange(ctx context.Context, symbol, from, to string) ([]*contracts.PriceBar, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM prices
		WHERE symbol = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []*contracts.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// GetAllSince retrieves bars for all symbols from a date onward,
// ordered by symbol then date. Used to build the calculation matrix.
func (r *PriceRepository) GetAllSince(ctx context.Context, from string) ([]*contracts.PriceBar, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM prices
		WHERE date >= $1::date
		ORDER BY symbol, date ASC
	`

	rows, err := r.pool.Query(ctx, query, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []*contracts.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestDate returns the most recent stored date for a symbol, or
// contracts.ErrNoData when the symbol has no cached bars.
func (r *PriceRepository) LatestDate(ctx context.Context, symbol string) (string, error) {
	var date string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(to_char(MAX(date), 'YYYY-MM-DD'), '') FROM prices WHERE symbol = $1
	`, symbol).Scan(&date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", contracts.ErrNoData
		}
		return "", err
	}
	if date == "" {
		return "", contracts.ErrNoData
	}
	return date, nil
}

// LastBar returns the most recent bar for a symbol, or contracts.ErrNoData.
// Used to bridge daily returns across the cache boundary.
func (r *PriceRepository) LastBar(ctx context.Context, symbol string) (*contracts.PriceBar, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM prices
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`

	rows, err := r.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, contracts.ErrNoData
	}
	return scanBar(rows)
}

// SaveBatch upserts bars using a pipelined batch
func (r *PriceRepository) SaveBatch(ctx context.Context, bars []*contracts.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO prices (symbol, date, open, high, low, close, adjclose, volume, daily_return)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			adjclose = EXCLUDED.adjclose,
			volume = EXCLUDED.volume,
			daily_return = EXCLUDED.daily_return
	`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, b.DailyReturn)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

// Dates returns every distinct trading day stored, ascending
func (r *PriceRepository) Dates(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT to_char(date, 'YYYY-MM-DD') FROM prices ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan trading date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// DistinctDates returns the number of distinct trading days stored
func (r *PriceRepository) DistinctDates(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT date) FROM prices`).Scan(&n)
	return n, err
}

// DeleteBySymbol removes all bars for a symbol
func (r *PriceRepository) DeleteBySymbol(ctx context.Context, symbol string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM prices WHERE symbol = $1`, symbol)
	return err
}
