package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// TickerRepository implements contracts.TickerRepository
type TickerRepository struct {
	pool *pgxpool.Pool
}

// NewTickerRepository creates a new ticker repository
func NewTickerRepository(pool *pgxpool.Pool) *TickerRepository {
	return &TickerRepository{pool: pool}
}

// Get retrieves a ticker by symbol
func (r *TickerRepository) Get(ctx context.Context, symbol string) (*contracts.Ticker, error) {
	query := `
		SELECT symbol, COALESCE(name, ''), COALESCE(sector, ''), COALESCE(industry, ''), created_at, updated_at
		FROM tickers
		WHERE symbol = $1
	`

	var t contracts.Ticker
	err := r.pool.QueryRow(ctx, query, strings.ToUpper(symbol)).Scan(
		&t.Symbol, &t.Name, &t.Sector, &t.Industry, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contracts.ErrNoData
		}
		return nil, err
	}
	return &t, nil
}

// GetAll retrieves all tickers ordered by symbol
func (r *TickerRepository) GetAll(ctx context.Context) ([]*contracts.Ticker, error) {
	query := `
		SELECT symbol, COALESCE(name, ''), COALESCE(sector, ''), COALESCE(industry, ''), created_at, updated_at
		FROM tickers
		ORDER BY symbol
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []*contracts.Ticker
	for rows.Next() {
		var t contracts.Ticker
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Sector, &t.Industry, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tickers = append(tickers, &t)
	}
	return tickers, rows.Err()
}

// Save upserts a ticker
func (r *TickerRepository) Save(ctx context.Context, t *contracts.Ticker) error {
	query := `
		INSERT INTO tickers (symbol, name, sector, industry)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			sector = EXCLUDED.sector,
			industry = EXCLUDED.industry,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query, strings.ToUpper(t.Symbol), t.Name, t.Sector, t.Industry)
	return err
}

// Delete removes a ticker from the universe
func (r *TickerRepository) Delete(ctx context.Context, symbol string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tickers WHERE symbol = $1`, strings.ToUpper(symbol))
	return err
}

// SymbolsBySector returns all symbols classified under a sector
func (r *TickerRepository) SymbolsBySector(ctx context.Context, sector string) ([]string, error) {
	return r.symbols(ctx, `SELECT symbol FROM tickers WHERE sector = $1 ORDER BY symbol`, sector)
}

// SymbolsByIndustry returns all symbols classified under an industry
func (r *TickerRepository) SymbolsByIndustry(ctx context.Context, industry string) ([]string, error) {
	return r.symbols(ctx, `SELECT symbol FROM tickers WHERE industry = $1 ORDER BY symbol`, industry)
}

// Sectors returns the distinct sectors, excluding the benchmark's Index class
func (r *TickerRepository) Sectors(ctx context.Context) ([]string, error) {
	return r.symbols(ctx, `
		SELECT DISTINCT sector FROM tickers
		WHERE sector IS NOT NULL AND sector != '' AND sector != 'Index'
		ORDER BY sector
	`)
}

// Industries returns the distinct industries, excluding the benchmark's Index class
func (r *TickerRepository) Industries(ctx context.Context) ([]string, error) {
	return r.symbols(ctx, `
		SELECT DISTINCT industry FROM tickers
		WHERE industry IS NOT NULL AND industry != '' AND industry != 'Index'
		ORDER BY industry
	`)
}

// Counts returns the number of non-benchmark stocks, sectors and industries
func (r *TickerRepository) Counts(ctx context.Context) (stocks, sectors, industries int, err error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM tickers WHERE sector != 'Index' OR sector IS NULL),
			(SELECT COUNT(DISTINCT sector) FROM tickers WHERE sector IS NOT NULL AND sector != '' AND sector != 'Index'),
			(SELECT COUNT(DISTINCT industry) FROM tickers WHERE industry IS NOT NULL AND industry != '' AND industry != 'Index')
	`
	err = r.pool.QueryRow(ctx, query).Scan(&stocks, &sectors, &industries)
	return stocks, sectors, industries, err
}

func (r *TickerRepository) symbols(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
