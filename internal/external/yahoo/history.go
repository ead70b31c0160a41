package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/httputil"
)

// chartResponse mirrors the Yahoo Finance v8 chart API payload.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// History fetches daily bars for a symbol in [from, to], ascending by
// date. Bars with a missing close are dropped. DailyReturn is left
// nil; the fetch worker computes it against the cached history.
func (c *Client) History(ctx context.Context, symbol, from, to string) ([]*contracts.PriceBar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	fromT, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	toT, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if fromT.After(toT) {
		return nil, fmt.Errorf("from date %s is after to date %s", from, to)
	}

	crumb, err := c.ensureCrumb(ctx)
	if err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	chunks := splitRange(fromT, toT, chunkDays)
	results := make([][]*contracts.PriceBar, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkWorkers)

	for i, ch := range chunks {
		i, ch := i, ch
		g.Go(func() error {
			bars, err := c.fetchChart(gctx, symbol, crumb, ch.from, ch.to)
			if err != nil {
				return err
			}
			results[i] = bars
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*contracts.PriceBar
	for _, bars := range results {
		all = append(all, bars...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date < all[j].Date })
	return all, nil
}

type dateChunk struct {
	from, to time.Time
}

func splitRange(from, to time.Time, days int) []dateChunk {
	var chunks []dateChunk
	for cur := from; !cur.After(to); {
		end := cur.AddDate(0, 0, days)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, dateChunk{from: cur, to: end})
		cur = end.AddDate(0, 0, 1)
	}
	return chunks
}

func (c *Client) fetchChart(ctx context.Context, symbol, crumb string, from, to time.Time) ([]*contracts.PriceBar, error) {
	// period2 is exclusive of the final day unless pushed past it.
	reqURL := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d&events=div%%2Csplits&crumb=%s",
		c.cfg.ChartBaseURL,
		url.PathEscape(symbol),
		from.Unix(),
		to.AddDate(0, 0, 1).Unix(),
		url.QueryEscape(crumb),
	)

	var resp chartResponse
	if err := c.http.GetJSON(ctx, reqURL, &resp); err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == 401 || statusErr.StatusCode == 403) {
			c.invalidateCrumb()
		}
		return nil, err
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %s: %s",
			symbol, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}

	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]*contracts.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal := at(quote.Close, i)
		if closeVal == nil {
			continue
		}

		bar := &contracts.PriceBar{
			Symbol:   symbol,
			Date:     time.Unix(ts, 0).UTC().Format(dateLayout),
			Close:    *closeVal,
			AdjClose: *closeVal,
		}
		if v := at(quote.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(quote.High, i); v != nil {
			bar.High = *v
		}
		if v := at(quote.Low, i); v != nil {
			bar.Low = *v
		}
		if v := at(quote.Volume, i); v != nil {
			bar.Volume = *v
		}
		if v := at(adj, i); v != nil {
			bar.AdjClose = *v
		}
		bars = append(bars, bar)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
		"count":  len(bars),
	}).Debug("Retrieved Yahoo chart data")

	return bars, nil
}

func at[T any](s []*T, i int) *T {
	if i < len(s) {
		return s[i]
	}
	return nil
}
