package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// createStatements holds the full schema in creation order.
var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS task_status (
		task_id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		target TEXT NOT NULL,
		symbol TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		progress TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tickers (
		symbol TEXT PRIMARY KEY,
		name TEXT,
		sector TEXT,
		industry TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		date DATE NOT NULL,
		open DOUBLE PRECISION,
		high DOUBLE PRECISION,
		low DOUBLE PRECISION,
		close DOUBLE PRECISION,
		adjclose DOUBLE PRECISION,
		volume BIGINT,
		daily_return DOUBLE PRECISION,
		PRIMARY KEY (symbol, date)
	)`,
	`CREATE TABLE IF NOT EXISTS sector_returns (
		sector TEXT NOT NULL,
		date DATE NOT NULL,
		avg_return DOUBLE PRECISION,
		stock_count INTEGER,
		PRIMARY KEY (sector, date)
	)`,
	`CREATE TABLE IF NOT EXISTS industry_returns (
		industry TEXT NOT NULL,
		date DATE NOT NULL,
		avg_return DOUBLE PRECISION,
		stock_count INTEGER,
		PRIMARY KEY (industry, date)
	)`,
	`CREATE TABLE IF NOT EXISTS rs_scores (
		entity_type TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		date DATE NOT NULL,
		rs_score DOUBLE PRECISION,
		percentile INTEGER,
		weighted_return DOUBLE PRECISION,
		PRIMARY KEY (entity_type, entity_name, date)
	)`,
	`CREATE TABLE IF NOT EXISTS batch_tasks (
		batch_id TEXT PRIMARY KEY,
		stage INTEGER,
		status TEXT,
		price_tasks JSONB,
		return_tasks JSONB,
		rs_task TEXT,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_type_status ON task_status (task_type, status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_updated_at ON task_status (updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_symbol ON task_status (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_prices_symbol_date ON prices (symbol, date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_rs_scores_date ON rs_scores (date)`,
	`CREATE INDEX IF NOT EXISTS idx_rs_scores_type_date ON rs_scores (entity_type, date)`,
}

// Bootstrap creates all tables and indexes if they do not exist and
// seeds default settings and the benchmark ticker.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range createStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}

	settings := NewSettingsRepository(pool)
	if err := settings.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	// The benchmark must always be present in the universe so its
	// prices are fetched alongside the stocks.
	_, err := pool.Exec(ctx, `
		INSERT INTO tickers (symbol, name, sector, industry)
		VALUES ('SPY', 'SPDR S&P 500 ETF Trust', 'Index', 'Index')
		ON CONFLICT (symbol) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to seed benchmark ticker: %w", err)
	}

	return nil
}
