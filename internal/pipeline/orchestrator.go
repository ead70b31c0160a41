// Package pipeline orchestrates the three-stage refresh: fetch prices,
// aggregate sector and industry returns, then score relative strength.
// Stages advance by polling task state, so a restart mid-run never
// leaves work half-tracked in memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rankforge/rsengine/internal/aggregate"
	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/internal/fetch"
	"github.com/rankforge/rsengine/internal/rs"
	"github.com/rankforge/rsengine/internal/task"
	"github.com/rankforge/rsengine/pkg/logger"
)

// Orchestrator drives pipeline batches across their stages.
type Orchestrator struct {
	tickers  contracts.TickerRepository
	prices   contracts.PriceRepository
	returns  contracts.ReturnRepository
	scores   contracts.ScoreRepository
	settings contracts.SettingsRepository
	tasks    contracts.TaskRepository
	batches  contracts.BatchRepository

	fetcher   *fetch.Worker
	agg       *aggregate.Aggregator
	calc      *rs.Calculator
	fetchExec *task.Executor
	calcExec  *task.Executor
	logger    *logger.Logger

	mu sync.Mutex // serializes stage transitions
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Tickers   contracts.TickerRepository
	Prices    contracts.PriceRepository
	Returns   contracts.ReturnRepository
	Scores    contracts.ScoreRepository
	Settings  contracts.SettingsRepository
	Tasks     contracts.TaskRepository
	Batches   contracts.BatchRepository
	Fetcher   *fetch.Worker
	Agg       *aggregate.Aggregator
	Calc      *rs.Calculator
	FetchExec *task.Executor
	CalcExec  *task.Executor
	Logger    *logger.Logger
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		tickers:   d.Tickers,
		prices:    d.Prices,
		returns:   d.Returns,
		scores:    d.Scores,
		settings:  d.Settings,
		tasks:     d.Tasks,
		batches:   d.Batches,
		fetcher:   d.Fetcher,
		agg:       d.Agg,
		calc:      d.Calc,
		fetchExec: d.FetchExec,
		calcExec:  d.CalcExec,
		logger:    d.Logger,
	}
}

// ErrBatchActive is returned when a new batch is requested while
// another is still running.
var ErrBatchActive = errors.New("a pipeline batch is already running")

// Recover clears task and batch state left over from a previous
// process. Tasks only run inside one process lifetime, so anything
// still marked running after a restart is stale.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if err := o.tasks.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear stale tasks: %w", err)
	}
	if err := o.batches.ClearStale(ctx); err != nil {
		return fmt.Errorf("failed to clear stale batches: %w", err)
	}
	o.logger.Info("Cleared stale pipeline state")
	return nil
}

// StartRefreshAll starts a full batch at stage 1, queueing one price
// fetch task per tracked symbol. It returns the new batch ID.
func (o *Orchestrator) StartRefreshAll(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ensureNoActiveBatch(ctx); err != nil {
		return "", err
	}
	if err := o.tasks.ClearAll(ctx); err != nil {
		return "", fmt.Errorf("failed to clear task history: %w", err)
	}

	tickers, err := o.tickers.GetAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load tickers: %w", err)
	}
	if len(tickers) == 0 {
		return "", fmt.Errorf("no tickers to refresh")
	}

	priceTasks := make([]string, 0, len(tickers))
	for _, t := range tickers {
		symbol := t.Symbol
		id, err := o.fetchExec.Submit(ctx, contracts.TaskFetchTicker, symbol, symbol,
			func(runCtx context.Context, taskID string) error {
				_, err := o.fetcher.FetchSymbol(runCtx, symbol, o.progressFor(taskID))
				return err
			})
		if err != nil {
			return "", fmt.Errorf("failed to queue fetch for %s: %w", symbol, err)
		}
		priceTasks = append(priceTasks, id)
	}

	batch := &contracts.Batch{
		ID:         uuid.NewString(),
		Stage:      contracts.StageFetchPrices,
		Status:     contracts.BatchRunning,
		PriceTasks: priceTasks,
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"batch_id": batch.ID,
		"symbols":  len(priceTasks),
	}).Info("Refresh pipeline started")

	return batch.ID, nil
}

// StartRecalculate starts a batch at stage 2, rebuilding group returns
// and RS scores from the prices already cached.
func (o *Orchestrator) StartRecalculate(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ensureNoActiveBatch(ctx); err != nil {
		return "", err
	}
	if err := o.tasks.ClearAll(ctx); err != nil {
		return "", fmt.Errorf("failed to clear task history: %w", err)
	}

	returnTasks, err := o.queueReturnTasks(ctx)
	if err != nil {
		return "", err
	}

	batch := &contracts.Batch{
		ID:          uuid.NewString(),
		Stage:       contracts.StageAggregate,
		Status:      contracts.BatchRunning,
		ReturnTasks: returnTasks,
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"batch_id": batch.ID,
		"groups":   len(returnTasks),
	}).Info("Recalculate pipeline started")

	return batch.ID, nil
}

// QueueFetch queues standalone price fetch tasks for the given
// symbols, outside of any batch.
func (o *Orchestrator) QueueFetch(ctx context.Context, symbols []string) ([]string, error) {
	ids := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		id, err := o.fetchExec.Submit(ctx, contracts.TaskFetchTicker, symbol, symbol,
			func(runCtx context.Context, taskID string) error {
				_, err := o.fetcher.FetchSymbol(runCtx, symbol, o.progressFor(taskID))
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("failed to queue fetch for %s: %w", symbol, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// QueueRSCalculation queues a standalone RS run over the trailing
// backfill window, outside of any batch.
func (o *Orchestrator) QueueRSCalculation(ctx context.Context) (string, error) {
	dates, err := o.backfillDates(ctx)
	if err != nil {
		return "", err
	}
	return o.queueAllRS(ctx, dates)
}

// QueueEntityRS queues a standalone RS run for a single entity class
// over the trailing backfill window.
func (o *Orchestrator) QueueEntityRS(ctx context.Context, entity contracts.EntityType) (string, error) {
	var (
		taskType contracts.TaskType
		run      func(context.Context, []string, rs.Progress) (int, error)
	)
	switch entity {
	case contracts.EntityStock:
		taskType, run = contracts.TaskCalcStockRS, o.calc.CalculateStockRS
	case contracts.EntitySector:
		taskType, run = contracts.TaskCalcSectorRS, o.calc.CalculateSectorRS
	case contracts.EntityIndustry:
		taskType, run = contracts.TaskCalcIndustryRS, o.calc.CalculateIndustryRS
	default:
		return "", fmt.Errorf("unknown entity type %q", entity)
	}

	dates, err := o.backfillDates(ctx)
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("%d dates", len(dates))
	id, err := o.calcExec.Submit(ctx, taskType, target, "",
		func(runCtx context.Context, taskID string) error {
			_, err := run(runCtx, dates, o.progressFor(taskID))
			return err
		})
	if err != nil {
		return "", fmt.Errorf("failed to queue %s RS calculation: %w", entity, err)
	}
	return id, nil
}

// Advance checks the active batch and moves it to the next stage when
// the current stage's tasks have all finished. A stage with failed
// tasks fails the whole batch once nothing is left running.
func (o *Orchestrator) Advance(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	batch, err := o.batches.Active(ctx)
	if errors.Is(err, contracts.ErrNoData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active batch: %w", err)
	}

	switch batch.Stage {
	case contracts.StageFetchPrices:
		return o.advanceStage(ctx, batch, batch.PriceTasks, o.startAggregateStage)
	case contracts.StageAggregate:
		return o.advanceStage(ctx, batch, batch.ReturnTasks, o.startScoreStage)
	case contracts.StageCalculateRS:
		var ids []string
		if batch.RSTask != "" {
			ids = []string{batch.RSTask}
		}
		return o.advanceStage(ctx, batch, ids, o.completeBatch)
	default:
		return fmt.Errorf("batch %s has unknown stage %d", batch.ID, batch.Stage)
	}
}

// advanceStage waits for the stage's tasks to drain, then either fails
// the batch or invokes the next stage.
func (o *Orchestrator) advanceStage(ctx context.Context, batch *contracts.Batch, ids []string, next func(context.Context, *contracts.Batch) error) error {
	running, err := o.tasks.CountRunning(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to count running tasks: %w", err)
	}
	if running > 0 {
		return nil
	}

	failed, err := o.tasks.CountFailed(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to count failed tasks: %w", err)
	}
	if failed > 0 {
		msg := fmt.Sprintf("%d tasks failed in stage %d", failed, batch.Stage)
		if err := o.batches.Fail(ctx, batch.ID, msg); err != nil {
			return fmt.Errorf("failed to mark batch failed: %w", err)
		}
		o.logger.WithFields(map[string]interface{}{
			"batch_id": batch.ID,
			"stage":    int(batch.Stage),
			"failed":   failed,
		}).Error("Pipeline batch failed")
		return nil
	}

	return next(ctx, batch)
}

func (o *Orchestrator) startAggregateStage(ctx context.Context, batch *contracts.Batch) error {
	returnTasks, err := o.queueReturnTasks(ctx)
	if err != nil {
		return err
	}
	if err := o.batches.UpdateStage(ctx, batch.ID, contracts.StageAggregate, returnTasks, ""); err != nil {
		return fmt.Errorf("failed to advance batch to aggregation: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"batch_id": batch.ID,
		"groups":   len(returnTasks),
	}).Info("Pipeline advanced to return aggregation")
	return nil
}

func (o *Orchestrator) startScoreStage(ctx context.Context, batch *contracts.Batch) error {
	dates, err := o.backfillDates(ctx)
	if err != nil {
		return err
	}
	rsTask, err := o.queueAllRS(ctx, dates)
	if err != nil {
		return err
	}
	if err := o.batches.UpdateStage(ctx, batch.ID, contracts.StageCalculateRS, nil, rsTask); err != nil {
		return fmt.Errorf("failed to advance batch to scoring: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"batch_id": batch.ID,
		"dates":    len(dates),
	}).Info("Pipeline advanced to RS scoring")
	return nil
}

func (o *Orchestrator) completeBatch(ctx context.Context, batch *contracts.Batch) error {
	if err := o.batches.Complete(ctx, batch.ID); err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	o.logger.WithField("batch_id", batch.ID).Info("Pipeline batch completed")
	return nil
}

// queueReturnTasks queues one aggregation task per sector and industry.
func (o *Orchestrator) queueReturnTasks(ctx context.Context) ([]string, error) {
	sectors, err := o.tickers.Sectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sectors: %w", err)
	}
	industries, err := o.tickers.Industries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load industries: %w", err)
	}

	var ids []string
	for _, sector := range sectors {
		if sector == "Unknown" {
			continue
		}
		id, err := o.calcExec.Submit(ctx, contracts.TaskCalcSector, sector, "",
			func(runCtx context.Context, taskID string) error {
				_, err := o.agg.CalculateSectorReturns(runCtx, sector, o.progressFor(taskID))
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("failed to queue sector task: %w", err)
		}
		ids = append(ids, id)
	}
	for _, industry := range industries {
		if industry == "Unknown" {
			continue
		}
		id, err := o.calcExec.Submit(ctx, contracts.TaskCalcIndustry, industry, "",
			func(runCtx context.Context, taskID string) error {
				_, err := o.agg.CalculateIndustryReturns(runCtx, industry, o.progressFor(taskID))
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("failed to queue industry task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// queueAllRS queues the combined stock, sector and industry RS run.
func (o *Orchestrator) queueAllRS(ctx context.Context, dates []string) (string, error) {
	target := fmt.Sprintf("%d dates", len(dates))
	id, err := o.calcExec.Submit(ctx, contracts.TaskCalcAllRS, target, "",
		func(runCtx context.Context, taskID string) error {
			_, err := o.calc.CalculateAllRS(runCtx, dates, o.progressFor(taskID))
			return err
		})
	if err != nil {
		return "", fmt.Errorf("failed to queue RS calculation: %w", err)
	}
	return id, nil
}

// backfillDates returns the trailing backfill window of trading days.
func (o *Orchestrator) backfillDates(ctx context.Context) ([]string, error) {
	settings, err := o.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	dates, err := o.prices.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trading dates: %w", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no price data available")
	}
	if len(dates) > settings.BackfillDays {
		dates = dates[len(dates)-settings.BackfillDays:]
	}
	return dates, nil
}

func (o *Orchestrator) ensureNoActiveBatch(ctx context.Context) error {
	_, err := o.batches.Active(ctx)
	if err == nil {
		return ErrBatchActive
	}
	if errors.Is(err, contracts.ErrNoData) {
		return nil
	}
	return fmt.Errorf("failed to check active batch: %w", err)
}

// progressFor adapts the task's progress column to a report callback.
// Progress writes are best effort.
func (o *Orchestrator) progressFor(taskID string) func(msg string) {
	return func(msg string) {
		if err := o.tasks.UpdateProgress(context.Background(), taskID, msg); err != nil {
			o.logger.WithError(err).WithField("task_id", taskID).Debug("Progress update failed")
		}
	}
}

// ClearRSScores deletes all stored RS scores.
func (o *Orchestrator) ClearRSScores(ctx context.Context) error {
	return o.scores.Clear(ctx)
}

// ClearReturns deletes all stored sector and industry returns.
func (o *Orchestrator) ClearReturns(ctx context.Context) error {
	if err := o.returns.ClearSectors(ctx); err != nil {
		return err
	}
	return o.returns.ClearIndustries(ctx)
}
