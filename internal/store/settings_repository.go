package store

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankforge/rsengine/internal/contracts"
)

// SettingsRepository implements contracts.SettingsRepository
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

var defaultRows = [][2]string{
	{"benchmark", "SPY"},
	{"q1_weight", "0.4"},
	{"q2_weight", "0.2"},
	{"q3_weight", "0.2"},
	{"q4_weight", "0.2"},
	{"lookback_days", "252"},
	{"backfill_days", "63"},
	{"min_data_points", "120"},
	{"start_date", "2024-01-01"},
}

// SeedDefaults inserts the default settings, leaving existing values alone
func (r *SettingsRepository) SeedDefaults(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, row := range defaultRows {
		batch.Queue(`
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`, row[0], row[1])
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// Set upserts one setting value
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

// Load reads all settings, falling back to defaults for missing or
// malformed values.
func (r *SettingsRepository) Load(ctx context.Context) (contracts.Settings, error) {
	s := contracts.DefaultSettings()

	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return s, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, err
		}
		applySetting(&s, key, value)
	}
	return s, rows.Err()
}

func applySetting(s *contracts.Settings, key, value string) {
	switch key {
	case "benchmark":
		if value != "" {
			s.Benchmark = value
		}
	case "q1_weight", "q2_weight", "q3_weight", "q4_weight":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			idx := int(key[1] - '1')
			s.Weights[idx] = f
		}
	case "lookback_days":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.LookbackDays = n
		}
	case "backfill_days":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.BackfillDays = n
		}
	case "min_data_points":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.MinDataPoints = n
		}
	case "start_date":
		if value != "" {
			s.StartDate = value
		}
	}
}
