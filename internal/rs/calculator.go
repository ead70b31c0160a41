// Package rs implements the relative-strength calculation engine.
// Scores compare each entity's weighted quarterly return against the
// benchmark's over a trailing lookback window, rebased so 100 means
// parity.
package rs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

const (
	// saveBatchSize flushes accumulated score rows to keep memory flat
	// on long backfills.
	saveBatchSize = 10000

	// lookbackPad widens the load window in calendar days so weekends
	// and holidays do not starve the trailing lookback of trading days.
	lookbackPad = 50

	// absoluteMinPoints is the floor for the effective minimum
	// observation threshold.
	absoluteMinPoints = 60
)

// Progress receives free-form progress text for the running task.
type Progress func(msg string)

// Calculator computes RS scores from stored prices and group returns.
type Calculator struct {
	prices   contracts.PriceRepository
	returns  contracts.ReturnRepository
	scores   contracts.ScoreRepository
	settings contracts.SettingsRepository
	logger   *logger.Logger
}

// NewCalculator creates a calculator over the given repositories.
func NewCalculator(
	prices contracts.PriceRepository,
	returns contracts.ReturnRepository,
	scores contracts.ScoreRepository,
	settings contracts.SettingsRepository,
	log *logger.Logger,
) *Calculator {
	return &Calculator{
		prices:   prices,
		returns:  returns,
		scores:   scores,
		settings: settings,
		logger:   log,
	}
}

// effectiveMinPoints relaxes the configured threshold when the stored
// history is short, but never below the absolute floor.
func effectiveMinPoints(configured, availableDays int) int {
	eff := configured
	if half := availableDays / 2; half < eff {
		eff = half
	}
	if eff < absoluteMinPoints {
		eff = absoluteMinPoints
	}
	return eff
}

// loadBounds returns the sorted target dates plus the widened load
// window start.
func loadBounds(dates []string, lookbackDays int) (sorted []string, loadStart string, err error) {
	if len(dates) == 0 {
		return nil, "", fmt.Errorf("no target dates given")
	}

	sorted = append([]string(nil), dates...)
	sort.Strings(sorted)

	earliest, err := time.Parse(contracts.DateLayout, sorted[0])
	if err != nil {
		return nil, "", fmt.Errorf("invalid date %q: %w", sorted[0], err)
	}

	loadStart = earliest.AddDate(0, 0, -(lookbackDays + lookbackPad)).Format(contracts.DateLayout)
	return sorted, loadStart, nil
}

// loadBenchmarkReturns loads the benchmark's daily returns over the
// window as a series, with missing returns as NaN.
func (c *Calculator) loadBenchmarkReturns(ctx context.Context, benchmark, from, to string) (*Series, error) {
	bars, err := c.prices.GetRange(ctx, benchmark, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark prices: %w", err)
	}

	s := &Series{}
	for _, b := range bars {
		s.Dates = append(s.Dates, b.Date)
		if b.DailyReturn != nil {
			s.Values = append(s.Values, *b.DailyReturn)
		} else {
			s.Values = append(s.Values, math.NaN())
		}
	}
	return s, nil
}

// CalculateStockRS computes and stores stock RS scores for the target
// dates, returning how many rows were written.
func (c *Calculator) CalculateStockRS(ctx context.Context, dates []string, report Progress) (int, error) {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load settings: %w", err)
	}

	sorted, loadStart, err := loadBounds(dates, settings.LookbackDays)
	if err != nil {
		return 0, err
	}
	last := sorted[len(sorted)-1]

	report("Loading price data")

	bars, err := c.prices.GetAllSince(ctx, loadStart)
	if err != nil {
		return 0, fmt.Errorf("failed to load prices: %w", err)
	}

	cells := make([]cell, 0, len(bars))
	for _, b := range bars {
		if b.Date > last {
			continue
		}
		cells = append(cells, cell{date: b.Date, name: b.Symbol, value: b.Close})
	}

	matrix := newMatrix(cells)
	matrix.DropColumn(settings.Benchmark)

	if matrix.Empty() {
		return 0, fmt.Errorf("no price data found")
	}

	bench, err := c.loadBenchmarkReturns(ctx, settings.Benchmark, loadStart, last)
	if err != nil {
		return 0, err
	}
	if bench.Empty() {
		return 0, fmt.Errorf("no benchmark (%s) data found", settings.Benchmark)
	}

	report(fmt.Sprintf("Processing %d dates, %d stocks", len(sorted), len(matrix.Names)))

	return c.runPrices(ctx, contracts.EntityStock, matrix, bench, sorted, settings, report)
}

// CalculateSectorRS computes and stores sector RS scores.
func (c *Calculator) CalculateSectorRS(ctx context.Context, dates []string, report Progress) (int, error) {
	return c.calculateGroupRS(ctx, contracts.EntitySector, dates, report)
}

// CalculateIndustryRS computes and stores industry RS scores.
func (c *Calculator) CalculateIndustryRS(ctx context.Context, dates []string, report Progress) (int, error) {
	return c.calculateGroupRS(ctx, contracts.EntityIndustry, dates, report)
}

func (c *Calculator) calculateGroupRS(ctx context.Context, entityType contracts.EntityType, dates []string, report Progress) (int, error) {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load settings: %w", err)
	}

	sorted, loadStart, err := loadBounds(dates, settings.LookbackDays)
	if err != nil {
		return 0, err
	}
	last := sorted[len(sorted)-1]

	report(fmt.Sprintf("Loading %s returns", entityType))

	var groupReturns []*contracts.GroupReturn
	if entityType == contracts.EntitySector {
		groupReturns, err = c.returns.SectorReturnsSince(ctx, loadStart)
	} else {
		groupReturns, err = c.returns.IndustryReturnsSince(ctx, loadStart)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load %s returns: %w", entityType, err)
	}

	cells := make([]cell, 0, len(groupReturns))
	for _, g := range groupReturns {
		if g.Date > last {
			continue
		}
		cells = append(cells, cell{date: g.Date, name: g.Name, value: g.AvgReturn})
	}

	matrix := newMatrix(cells)
	if matrix.Empty() {
		// An empty class is not an error: the task completes with a
		// zero count.
		report(fmt.Sprintf("No %s return data found", entityType))
		return 0, nil
	}

	bench, err := c.loadBenchmarkReturns(ctx, settings.Benchmark, loadStart, last)
	if err != nil {
		return 0, err
	}
	if bench.Empty() {
		return 0, fmt.Errorf("no benchmark (%s) returns found", settings.Benchmark)
	}

	return c.runReturns(ctx, entityType, matrix, bench, sorted, settings, report)
}

func (c *Calculator) runPrices(
	ctx context.Context,
	entityType contracts.EntityType,
	matrix *Matrix,
	bench *Series,
	dates []string,
	settings contracts.Settings,
	report Progress,
) (int, error) {
	return c.run(ctx, entityType, matrix, bench, dates, settings, report, quarterlyFromPrices)
}

func (c *Calculator) runReturns(
	ctx context.Context,
	entityType contracts.EntityType,
	matrix *Matrix,
	bench *Series,
	dates []string,
	settings contracts.Settings,
	report Progress,
) (int, error) {
	return c.run(ctx, entityType, matrix, bench, dates, settings, report, quarterlyFromReturns)
}

type quarterFunc func(window [][]float64, nCols int) [numQuarters][]float64

func (c *Calculator) run(
	ctx context.Context,
	entityType contracts.EntityType,
	matrix *Matrix,
	bench *Series,
	dates []string,
	settings contracts.Settings,
	report Progress,
	quarters quarterFunc,
) (int, error) {
	effMin := effectiveMinPoints(settings.MinDataPoints, len(matrix.Dates))
	names := matrix.Names

	var batch []*contracts.RSScore
	totalSaved := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.scores.SaveBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to save RS scores: %w", err)
		}
		totalSaved += len(batch)
		batch = batch[:0]
		return nil
	}

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return totalSaved, err
		}
		if (i+1)%10 == 0 {
			report(fmt.Sprintf("Processing %d/%d: %s", i+1, len(dates), date))
		}

		window := matrix.Window(date, settings.LookbackDays)
		benchWindow := bench.Window(date, settings.LookbackDays)

		if len(window) < effMin || len(benchWindow) < effMin {
			continue
		}

		entityQuarters := quarters(window, len(names))
		entityWeighted := weightedReturns(entityQuarters, settings.Weights, len(names))
		benchWeighted := benchmarkWeighted(benchWindow, settings.Weights)

		var validNames []string
		var validScores []float64
		var validWeighted []float64

		for j, name := range names {
			score := rsScore(entityWeighted[j], benchWeighted)
			if !validScore(score) {
				continue
			}
			validNames = append(validNames, name)
			validScores = append(validScores, score)
			validWeighted = append(validWeighted, entityWeighted[j])
		}

		if len(validScores) == 0 {
			continue
		}

		pctls := percentiles(validScores)

		for k := range validNames {
			batch = append(batch, &contracts.RSScore{
				EntityType:     entityType,
				EntityName:     validNames[k],
				Date:           date,
				Score:          round2(validScores[k]),
				Percentile:     pctls[k],
				WeightedReturn: round6(validWeighted[k]),
			})
		}

		if len(batch) >= saveBatchSize {
			if err := flush(); err != nil {
				return totalSaved, err
			}
		}
	}

	if err := flush(); err != nil {
		return totalSaved, err
	}

	report(fmt.Sprintf("Calculated %d %s RS scores", totalSaved, entityType))
	c.logger.WithFields(map[string]interface{}{
		"entity_type": string(entityType),
		"dates":       len(dates),
		"saved":       totalSaved,
	}).Info("RS calculation finished")

	return totalSaved, nil
}

// CalculateAllRS runs the stock, sector and industry calculations in
// sequence, stopping at the first failure.
func (c *Calculator) CalculateAllRS(ctx context.Context, dates []string, report Progress) (int, error) {
	total := 0

	report("Calculating stock RS")
	n, err := c.CalculateStockRS(ctx, dates, report)
	total += n
	if err != nil {
		return total, fmt.Errorf("stock RS failed: %w", err)
	}

	report("Calculating sector RS")
	n, err = c.CalculateSectorRS(ctx, dates, report)
	total += n
	if err != nil {
		return total, fmt.Errorf("sector RS failed: %w", err)
	}

	report("Calculating industry RS")
	n, err = c.CalculateIndustryRS(ctx, dates, report)
	total += n
	if err != nil {
		return total, fmt.Errorf("industry RS failed: %w", err)
	}

	report(fmt.Sprintf("Calculated %d RS scores", total))
	return total, nil
}
