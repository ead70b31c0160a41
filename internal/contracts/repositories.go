package contracts

import (
	"context"
	"errors"
)

// ErrNoData is returned when a requested row or series does not exist.
var ErrNoData = errors.New("no data")

// Repository interfaces are defined here and implemented in internal/store.
// Workers and the pipeline depend on these, never on pgx directly.

// TickerRepository manages the tracked universe
type TickerRepository interface {
	Get(ctx context.Context, symbol string) (*Ticker, error)
	GetAll(ctx context.Context) ([]*Ticker, error)
	Save(ctx context.Context, t *Ticker) error
	Delete(ctx context.Context, symbol string) error
	SymbolsBySector(ctx context.Context, sector string) ([]string, error)
	SymbolsByIndustry(ctx context.Context, industry string) ([]string, error)
	Sectors(ctx context.Context) ([]string, error)
	Industries(ctx context.Context) ([]string, error)
	Counts(ctx context.Context) (stocks, sectors, industries int, err error)
}

// PriceRepository manages daily price bars
type PriceRepository interface {
	GetBySymbol(ctx context.Context, symbol string) ([]*PriceBar, error)
	GetRange(ctx context.Context, symbol, from, to string) ([]*PriceBar, error)
	GetAllSince(ctx context.Context, from string) ([]*PriceBar, error)
	LatestDate(ctx context.Context, symbol string) (string, error)
	LastBar(ctx context.Context, symbol string) (*PriceBar, error)
	SaveBatch(ctx context.Context, bars []*PriceBar) error
	Dates(ctx context.Context) ([]string, error)
	DistinctDates(ctx context.Context) (int, error)
	DeleteBySymbol(ctx context.Context, symbol string) error
}

// ReturnRepository manages sector and industry daily returns
type ReturnRepository interface {
	SaveSectorBatch(ctx context.Context, returns []*GroupReturn) error
	SaveIndustryBatch(ctx context.Context, returns []*GroupReturn) error
	SectorReturnsSince(ctx context.Context, from string) ([]*GroupReturn, error)
	IndustryReturnsSince(ctx context.Context, from string) ([]*GroupReturn, error)
	SectorDates(ctx context.Context) (int, error)
	IndustryDates(ctx context.Context) (int, error)
	ClearSectors(ctx context.Context) error
	ClearIndustries(ctx context.Context) error
}

// ScoreRepository manages RS scores
type ScoreRepository interface {
	SaveBatch(ctx context.Context, scores []*RSScore) error
	Latest(ctx context.Context, entityType EntityType) ([]*RSScore, error)
	History(ctx context.Context, entityType EntityType, name, from string) ([]*RSScore, error)
	DistinctDates(ctx context.Context, entityType EntityType) (int, error)
	Clear(ctx context.Context) error
	DeleteByEntity(ctx context.Context, entityType EntityType, name string) error
}

// TaskRepository manages persisted task status rows
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	UpdateProgress(ctx context.Context, id, progress string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errMsg string) error
	List(ctx context.Context, taskType TaskType, status TaskStatus, limit int) ([]*Task, error)
	Stats(ctx context.Context) ([]*TaskStats, error)
	CountFailed(ctx context.Context, ids []string) (int, error)
	CountRunning(ctx context.Context, ids []string) (int, error)
	ClearAll(ctx context.Context) error
	DeleteOldTerminal(ctx context.Context, days int) (int, error)
}

// BatchRepository manages pipeline batch rows
type BatchRepository interface {
	Create(ctx context.Context, batch *Batch) error
	Get(ctx context.Context, id string) (*Batch, error)
	Active(ctx context.Context) (*Batch, error)
	UpdateStage(ctx context.Context, id string, stage BatchStage, returnTasks []string, rsTask string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errMsg string) error
	ClearStale(ctx context.Context) error
}

// SettingsRepository manages calculation parameters
type SettingsRepository interface {
	Load(ctx context.Context) (Settings, error)
	Set(ctx context.Context, key, value string) error
	SeedDefaults(ctx context.Context) error
}
