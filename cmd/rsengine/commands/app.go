package commands

import (
	"context"
	"fmt"

	"github.com/rankforge/rsengine/internal/aggregate"
	"github.com/rankforge/rsengine/internal/external/yahoo"
	"github.com/rankforge/rsengine/internal/fetch"
	"github.com/rankforge/rsengine/internal/pipeline"
	"github.com/rankforge/rsengine/internal/rs"
	"github.com/rankforge/rsengine/internal/store"
	"github.com/rankforge/rsengine/internal/task"
	"github.com/rankforge/rsengine/pkg/config"
	"github.com/rankforge/rsengine/pkg/database"
	"github.com/rankforge/rsengine/pkg/logger"
	"github.com/rankforge/rsengine/pkg/ratelimit"
)


// app wires the full engine: config, database, repositories, the
// market data source and the pipeline orchestrator.
type app struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB

	tickers  *store.TickerRepository
	prices   *store.PriceRepository
	returns  *store.ReturnRepository
	scores   *store.ScoreRepository
	tasks    *store.TaskRepository
	batches  *store.BatchRepository
	settings *store.SettingsRepository

	fetcher   *fetch.Worker
	fetchExec *task.Executor
	calcExec  *task.Executor
	orch      *pipeline.Orchestrator
}

// newApp builds the engine. The caller owns the returned app and must
// call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := store.Bootstrap(ctx, db.Pool); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		tickers:  store.NewTickerRepository(db.Pool),
		prices:   store.NewPriceRepository(db.Pool),
		returns:  store.NewReturnRepository(db.Pool),
		scores:   store.NewScoreRepository(db.Pool),
		tasks:    store.NewTaskRepository(db.Pool),
		batches:  store.NewBatchRepository(db.Pool),
		settings: store.NewSettingsRepository(db.Pool),
	}

	limiter := ratelimit.NewInterval(cfg.Fetch.MinRequestInterval)
	source := yahoo.NewClient(cfg.Yahoo, limiter, log)

	a.fetcher = fetch.NewWorker(source, a.tickers, a.prices, a.settings, cfg.Fetch, log)
	agg := aggregate.New(a.tickers, a.prices, a.returns, log)
	calc := rs.NewCalculator(a.prices, a.returns, a.scores, a.settings, log)

	// The market data source cannot be hit concurrently and the
	// calculators race on the same upsert keys, so each side gets its
	// own single worker.
	a.fetchExec = task.NewExecutor(ctx, 1, a.tasks, log)
	a.calcExec = task.NewExecutor(ctx, 1, a.tasks, log)
	a.orch = pipeline.New(pipeline.Deps{
		Tickers:   a.tickers,
		Prices:    a.prices,
		Returns:   a.returns,
		Scores:    a.scores,
		Settings:  a.settings,
		Tasks:     a.tasks,
		Batches:   a.batches,
		Fetcher:   a.fetcher,
		Agg:       agg,
		Calc:      calc,
		FetchExec: a.fetchExec,
		CalcExec:  a.calcExec,
		Logger:    log,
	})

	return a, nil
}

// close drains the task pools and releases the database.
func (a *app) close() {
	a.fetchExec.Close()
	a.calcExec.Close()
	a.db.Close()
}
