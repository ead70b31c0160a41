// Package aggregate computes equal-weighted daily returns for sectors
// and industries from the stored per-stock returns.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// Aggregator builds sector and industry return series.
type Aggregator struct {
	tickers contracts.TickerRepository
	prices  contracts.PriceRepository
	returns contracts.ReturnRepository
	logger  *logger.Logger
}

// New creates an aggregator over the given repositories.
func New(
	tickers contracts.TickerRepository,
	prices contracts.PriceRepository,
	returns contracts.ReturnRepository,
	log *logger.Logger,
) *Aggregator {
	return &Aggregator{
		tickers: tickers,
		prices:  prices,
		returns: returns,
		logger:  log,
	}
}

// Progress receives free-form progress text for the running task.
type Progress func(msg string)

// CalculateSectorReturns aggregates one sector and stores its daily
// return series, returning the number of dates written. A sector
// with no member symbols completes with zero dates.
func (a *Aggregator) CalculateSectorReturns(ctx context.Context, sector string, report Progress) (int, error) {
	symbols, err := a.tickers.SymbolsBySector(ctx, sector)
	if err != nil {
		return 0, fmt.Errorf("failed to load sector symbols: %w", err)
	}
	report(fmt.Sprintf("Found %d symbols", len(symbols)))

	if len(symbols) == 0 {
		report("No symbols found")
		return 0, nil
	}

	report("Calculating returns")
	returns, err := a.equalWeightedReturns(ctx, sector, symbols)
	if err != nil {
		return 0, err
	}

	if len(returns) > 0 {
		if err := a.returns.SaveSectorBatch(ctx, returns); err != nil {
			return 0, fmt.Errorf("failed to save sector returns: %w", err)
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"sector": sector,
		"dates":  len(returns),
	}).Info("Sector returns aggregated")

	report(fmt.Sprintf("Calculated %d dates", len(returns)))
	return len(returns), nil
}

// CalculateIndustryReturns aggregates one industry and stores its
// daily return series.
func (a *Aggregator) CalculateIndustryReturns(ctx context.Context, industry string, report Progress) (int, error) {
	symbols, err := a.tickers.SymbolsByIndustry(ctx, industry)
	if err != nil {
		return 0, fmt.Errorf("failed to load industry symbols: %w", err)
	}
	report(fmt.Sprintf("Found %d symbols", len(symbols)))

	if len(symbols) == 0 {
		report("No symbols found")
		return 0, nil
	}

	report("Calculating returns")
	returns, err := a.equalWeightedReturns(ctx, industry, symbols)
	if err != nil {
		return 0, err
	}

	if len(returns) > 0 {
		if err := a.returns.SaveIndustryBatch(ctx, returns); err != nil {
			return 0, fmt.Errorf("failed to save industry returns: %w", err)
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"industry": industry,
		"dates":    len(returns),
	}).Info("Industry returns aggregated")

	report(fmt.Sprintf("Calculated %d dates", len(returns)))
	return len(returns), nil
}

// equalWeightedReturns averages the daily returns of the member
// symbols per date. Bars without a stored daily return (the first bar
// of a series) are left out of both the mean and the count.
func (a *Aggregator) equalWeightedReturns(ctx context.Context, group string, symbols []string) ([]*contracts.GroupReturn, error) {
	type acc struct {
		sum   float64
		count int
	}
	byDate := make(map[string]*acc)

	for _, symbol := range symbols {
		bars, err := a.prices.GetBySymbol(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}
		for _, b := range bars {
			if b.DailyReturn == nil {
				continue
			}
			cur, ok := byDate[b.Date]
			if !ok {
				cur = &acc{}
				byDate[b.Date] = cur
			}
			cur.sum += *b.DailyReturn
			cur.count++
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]*contracts.GroupReturn, 0, len(dates))
	for _, d := range dates {
		cur := byDate[d]
		out = append(out, &contracts.GroupReturn{
			Name:       group,
			Date:       d,
			AvgReturn:  round6(cur.sum / float64(cur.count)),
			StockCount: cur.count,
		})
	}
	return out, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
