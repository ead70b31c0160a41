// Package fetch pulls daily price history from the market data
// provider and maintains the local price cache incrementally.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/config"
	"github.com/rankforge/rsengine/pkg/logger"
)

// Progress receives free-form progress text for the running task.
type Progress func(msg string)

// Worker fetches one symbol at a time and persists the new bars.
type Worker struct {
	source   contracts.PriceSource
	tickers  contracts.TickerRepository
	prices   contracts.PriceRepository
	settings contracts.SettingsRepository
	cfg      config.FetchConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewWorker creates a fetch worker over the given source and repositories.
func NewWorker(
	source contracts.PriceSource,
	tickers contracts.TickerRepository,
	prices contracts.PriceRepository,
	settings contracts.SettingsRepository,
	cfg config.FetchConfig,
	log *logger.Logger,
) *Worker {
	return &Worker{
		source:   source,
		tickers:  tickers,
		prices:   prices,
		settings: settings,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// FetchSymbol updates the price cache for one symbol and returns the
// number of bars written. The fetch is incremental: it resumes the
// day after the latest cached bar, or at the configured start date
// when the cache is empty. A symbol that is already up to date
// completes with zero bars.
func (w *Worker) FetchSymbol(ctx context.Context, symbol string, report Progress) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}

	settings, err := w.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := w.ensureMetadata(ctx, symbol); err != nil {
		return 0, err
	}

	from, err := w.fetchStart(ctx, symbol, settings.StartDate)
	if err != nil {
		return 0, err
	}
	to := w.now().Format(contracts.DateLayout)
	if from > to {
		report("Already up to date")
		return 0, nil
	}

	report(fmt.Sprintf("Fetching %s to %s", from, to))
	bars, err := w.historyWithRetry(ctx, symbol, from, to, report)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		report("No new bars")
		return 0, nil
	}

	if err := w.attachReturns(ctx, symbol, bars); err != nil {
		return 0, err
	}

	if err := w.prices.SaveBatch(ctx, bars); err != nil {
		return 0, fmt.Errorf("failed to save prices for %s: %w", symbol, err)
	}

	w.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(bars),
		"from":   bars[0].Date,
		"to":     bars[len(bars)-1].Date,
	}).Info("Price history updated")

	report(fmt.Sprintf("Saved %d bars", len(bars)))
	return len(bars), nil
}

// ensureMetadata fills in name, sector and industry for symbols the
// universe does not know yet, or knows only as Unknown. Classification
// lookups are best effort: a provider miss keeps the symbol fetchable.
func (w *Worker) ensureMetadata(ctx context.Context, symbol string) error {
	existing, err := w.tickers.Get(ctx, symbol)
	if err != nil && !errors.Is(err, contracts.ErrNoData) {
		return fmt.Errorf("failed to load ticker %s: %w", symbol, err)
	}
	if existing != nil && existing.HasClassification() {
		return nil
	}

	info, err := w.source.Info(ctx, symbol)
	if err != nil {
		w.logger.WithError(err).WithField("symbol", symbol).Warn("Ticker metadata lookup failed")
		if existing != nil {
			return nil
		}
		info = &contracts.TickerInfo{Symbol: symbol, Name: symbol, Sector: "Unknown", Industry: "Unknown"}
	}

	t := &contracts.Ticker{
		Symbol:   symbol,
		Name:     info.Name,
		Sector:   info.Sector,
		Industry: info.Industry,
	}
	if t.Name == "" {
		t.Name = symbol
	}
	if existing != nil && t.Name == symbol && existing.Name != "" {
		t.Name = existing.Name
	}
	if err := w.tickers.Save(ctx, t); err != nil {
		return fmt.Errorf("failed to save ticker %s: %w", symbol, err)
	}
	return nil
}

// fetchStart returns the first date to request: the day after the
// latest cached bar, or the configured start date for a cold cache.
func (w *Worker) fetchStart(ctx context.Context, symbol, startDate string) (string, error) {
	latest, err := w.prices.LatestDate(ctx, symbol)
	if errors.Is(err, contracts.ErrNoData) {
		return startDate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find latest date for %s: %w", symbol, err)
	}
	day, err := time.Parse(contracts.DateLayout, latest)
	if err != nil {
		return "", fmt.Errorf("bad cached date %q for %s: %w", latest, symbol, err)
	}
	return day.AddDate(0, 0, 1).Format(contracts.DateLayout), nil
}

// attachReturns computes daily returns from consecutive adjusted
// closes. The first new bar is bridged against the last cached bar so
// incremental fetches do not leave a gap in the return series.
func (w *Worker) attachReturns(ctx context.Context, symbol string, bars []*contracts.PriceBar) error {
	prevAdj := 0.0

	last, err := w.prices.LastBar(ctx, symbol)
	switch {
	case err == nil:
		prevAdj = last.AdjClose
	case errors.Is(err, contracts.ErrNoData):
	default:
		return fmt.Errorf("failed to load last bar for %s: %w", symbol, err)
	}

	for _, b := range bars {
		if prevAdj > 0 {
			r := b.AdjClose/prevAdj - 1
			b.DailyReturn = &r
		}
		prevAdj = b.AdjClose
	}
	return nil
}

// historyWithRetry fetches history, retrying only on errors that look
// like provider throttling. Other failures surface immediately.
func (w *Worker) historyWithRetry(ctx context.Context, symbol, from, to string, report Progress) ([]*contracts.PriceBar, error) {
	attempts := w.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		bars, err := w.source.History(ctx, symbol, from, to)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if !isRateLimited(err) || attempt == attempts {
			return nil, err
		}

		delay := w.cfg.RetryDelay * time.Duration(attempt)
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"symbol":  symbol,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Rate limited, backing off")
		report(fmt.Sprintf("Rate limited, retry %d/%d", attempt, attempts))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") ||
		strings.Contains(msg, "too many") ||
		strings.Contains(msg, "429")
}
