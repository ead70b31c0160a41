package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rankforge/rsengine/internal/contracts"
)

// Status advances the active batch if its current stage has finished,
// then returns a snapshot of where every data product stands.
func (o *Orchestrator) Status(ctx context.Context) (*contracts.PipelineStatus, error) {
	if err := o.Advance(ctx); err != nil {
		o.logger.WithError(err).Warn("Pipeline advance failed")
	}

	activeStage := contracts.BatchStage(0)
	var active *contracts.Batch
	batch, err := o.batches.Active(ctx)
	switch {
	case err == nil:
		active = batch
		activeStage = batch.Stage
	case errors.Is(err, contracts.ErrNoData):
	default:
		return nil, fmt.Errorf("failed to load active batch: %w", err)
	}

	stats, err := o.tasks.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load task stats: %w", err)
	}
	byType := make(map[contracts.TaskType]*contracts.TaskStats, len(stats))
	for _, s := range stats {
		byType[s.Type] = s
	}

	// A combined RS run covers all three entity classes, so its
	// running count surfaces on each of them.
	if all := byType[contracts.TaskCalcAllRS]; all != nil && all.Running > 0 {
		for _, tt := range []contracts.TaskType{
			contracts.TaskCalcStockRS,
			contracts.TaskCalcSectorRS,
			contracts.TaskCalcIndustryRS,
		} {
			s := byType[tt]
			if s == nil {
				s = &contracts.TaskStats{Type: tt}
				byType[tt] = s
			}
			s.Running += all.Running
		}
	}

	stockCount, sectorCount, industryCount, err := o.tickers.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	priceDays, err := o.prices.DistinctDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count price days: %w", err)
	}
	sectorReturnDays, err := o.returns.SectorDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sector return days: %w", err)
	}
	industryReturnDays, err := o.returns.IndustryDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count industry return days: %w", err)
	}
	stockRSDays, err := o.scores.DistinctDates(ctx, contracts.EntityStock)
	if err != nil {
		return nil, fmt.Errorf("failed to count stock RS days: %w", err)
	}
	sectorRSDays, err := o.scores.DistinctDates(ctx, contracts.EntitySector)
	if err != nil {
		return nil, fmt.Errorf("failed to count sector RS days: %w", err)
	}
	industryRSDays, err := o.scores.DistinctDates(ctx, contracts.EntityIndustry)
	if err != nil {
		return nil, fmt.Errorf("failed to count industry RS days: %w", err)
	}

	item := func(stage contracts.BatchStage, days int, taskType contracts.TaskType, fallbackTotal int) *contracts.ItemStatus {
		s := byType[taskType]
		if s == nil {
			s = &contracts.TaskStats{Type: taskType}
		}
		total := s.Total
		if total == 0 {
			total = fallbackTotal
		}
		return &contracts.ItemStatus{
			Status:    itemState(activeStage, stage, days > 0, s.Running),
			Days:      days,
			Completed: s.Completed,
			Failed:    s.Failed,
			TaskTotal: total,
		}
	}

	return &contracts.PipelineStatus{
		Stocks: contracts.EntityStatus{
			Total:   stockCount,
			Prices:  item(contracts.StageFetchPrices, priceDays, contracts.TaskFetchTicker, stockCount),
			RSScore: item(contracts.StageCalculateRS, stockRSDays, contracts.TaskCalcStockRS, 1),
		},
		Sectors: contracts.EntityStatus{
			Total:   sectorCount,
			Returns: item(contracts.StageAggregate, sectorReturnDays, contracts.TaskCalcSector, sectorCount),
			RSScore: item(contracts.StageCalculateRS, sectorRSDays, contracts.TaskCalcSectorRS, 1),
		},
		Industries: contracts.EntityStatus{
			Total:   industryCount,
			Returns: item(contracts.StageAggregate, industryReturnDays, contracts.TaskCalcIndustry, industryCount),
			RSScore: item(contracts.StageCalculateRS, industryRSDays, contracts.TaskCalcIndustryRS, 1),
		},
		Batch: active,
	}, nil
}

// itemState classifies one data product against the active batch
// stage. Running tasks always win; otherwise the stage's position
// relative to the active stage decides, with existing data marking a
// stage complete.
func itemState(activeStage, itemStage contracts.BatchStage, hasData bool, running int) contracts.ItemState {
	if running > 0 {
		return contracts.ItemRunning
	}
	switch {
	case activeStage == 0:
		if hasData {
			return contracts.ItemComplete
		}
		return contracts.ItemPending
	case activeStage < itemStage:
		return contracts.ItemPending
	case activeStage == itemStage:
		if hasData {
			return contracts.ItemComplete
		}
		return contracts.ItemRunning
	default:
		return contracts.ItemComplete
	}
}
