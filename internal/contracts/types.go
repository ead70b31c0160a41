package contracts

import "time"

// DateLayout is the canonical date format for all domain dates.
// Prices, returns and scores are keyed by trading day, never by time of day.
const DateLayout = "2006-01-02"

// Ticker represents a tracked symbol with its classification
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Sector    string    `json:"sector"`
	Industry  string    `json:"industry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasClassification reports whether the ticker carries a usable
// sector and industry. "Unknown" counts as missing.
func (t *Ticker) HasClassification() bool {
	return t.Sector != "" && t.Sector != "Unknown" &&
		t.Industry != "" && t.Industry != "Unknown"
}

// PriceBar represents one daily OHLCV record for a symbol.
// DailyReturn is computed from consecutive adjusted closes and is nil
// for the first bar ever stored for a symbol.
type PriceBar struct {
	Symbol      string   `json:"symbol"`
	Date        string   `json:"date"`
	Open        float64  `json:"open"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	Close       float64  `json:"close"`
	AdjClose    float64  `json:"adjclose"`
	Volume      int64    `json:"volume"`
	DailyReturn *float64 `json:"daily_return,omitempty"`
}

// GroupReturn represents the equal-weighted average daily return of a
// sector or industry on one date.
type GroupReturn struct {
	Name       string  `json:"name"`
	Date       string  `json:"date"`
	AvgReturn  float64 `json:"avg_return"`
	StockCount int     `json:"stock_count"`
}

// EntityType partitions RS scores by what kind of entity was ranked.
type EntityType string

const (
	EntityStock    EntityType = "stock"
	EntitySector   EntityType = "sector"
	EntityIndustry EntityType = "industry"
)

// RSScore is one relative-strength result for an entity on a date.
type RSScore struct {
	EntityType     EntityType `json:"entity_type"`
	EntityName     string     `json:"entity_name"`
	Date           string     `json:"date"`
	Score          float64    `json:"rs_score"`
	Percentile     int        `json:"percentile"`
	WeightedReturn float64    `json:"weighted_return"`
}

// Settings holds the runtime-tunable calculation parameters.
// These live in the settings table, not in environment config, so they
// can be changed through the API without a restart.
type Settings struct {
	Benchmark     string     `json:"benchmark"`
	Weights       [4]float64 `json:"weights"` // most recent quarter first
	LookbackDays  int        `json:"lookback_days"`
	BackfillDays  int        `json:"backfill_days"`
	MinDataPoints int        `json:"min_data_points"`
	StartDate     string     `json:"start_date"`
}

// DefaultSettings returns the seeded defaults.
func DefaultSettings() Settings {
	return Settings{
		Benchmark:     "SPY",
		Weights:       [4]float64{0.4, 0.2, 0.2, 0.2},
		LookbackDays:  252,
		BackfillDays:  63,
		MinDataPoints: 120,
		StartDate:     "2024-01-01",
	}
}
