package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankforge/rsengine/pkg/config"
	"github.com/rankforge/rsengine/pkg/logger"
	"github.com/rankforge/rsengine/pkg/ratelimit"
)

// newTestClient returns a Client wired against a mock Yahoo server
// serving cookie, crumb, chart and quoteSummary endpoints.
func newTestClient(t *testing.T, chartJSON, summaryJSON, profileHTML string) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "test-session"})
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "test-crumb-123")
	})
	mux.HandleFunc("/chart/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "test-crumb-123", q.Get("crumb"))
		assert.Equal(t, "1d", q.Get("interval"))
		fmt.Fprint(w, chartJSON)
	})
	mux.HandleFunc("/summary/", func(w http.ResponseWriter, r *http.Request) {
		if summaryJSON == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, summaryJSON)
	})
	mux.HandleFunc("/quote/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, profileHTML)
	})

	ts := httptest.NewServer(mux)

	cfg := config.YahooConfig{
		ChartBaseURL:   ts.URL + "/chart",
		SummaryBaseURL: ts.URL + "/summary",
		ProfileBaseURL: ts.URL + "/quote",
		CookieURL:      ts.URL + "/cookie",
		CrumbURL:       ts.URL + "/crumb",
	}

	return ts, NewClient(cfg, ratelimit.NewInterval(0), logger.NewNop())
}

const chartTwoDays = `{"chart":{"result":[{"timestamp":[1704153600,1704240000],
	"indicators":{"quote":[{"open":[184.0,185.5],"high":[186.0,186.2],"low":[183.1,184.0],
	"close":[185.01,184.25],"volume":[1000,2000]}],
	"adjclose":[{"adjclose":[184.5,183.9]}]}}],"error":null}}`

func TestHistory(t *testing.T) {
	ts, c := newTestClient(t, chartTwoDays, "", "")
	defer ts.Close()

	bars, err := c.History(context.Background(), "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "2024-01-02", bars[0].Date)
	assert.Equal(t, 185.01, bars[0].Close)
	assert.Equal(t, 184.5, bars[0].AdjClose)
	assert.Equal(t, int64(1000), bars[0].Volume)
	assert.Nil(t, bars[0].DailyReturn)
	assert.Equal(t, "2024-01-03", bars[1].Date)
}

func TestHistorySkipsNullCloses(t *testing.T) {
	chart := `{"chart":{"result":[{"timestamp":[1704153600,1704240000,1704326400],
		"indicators":{"quote":[{"close":[185.01,null,184.25]}]}}],"error":null}}`

	ts, c := newTestClient(t, chart, "", "")
	defer ts.Close()

	bars, err := c.History(context.Background(), "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// With no adjclose indicator, adjclose falls back to close.
	assert.Equal(t, 185.01, bars[0].AdjClose)
}

func TestHistoryChartError(t *testing.T) {
	chart := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`

	ts, c := newTestClient(t, chart, "", "")
	defer ts.Close()

	_, err := c.History(context.Background(), "NOPE", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Found")
}

func TestHistoryValidation(t *testing.T) {
	ts, c := newTestClient(t, "{}", "", "")
	defer ts.Close()

	_, err := c.History(context.Background(), "", "2024-01-01", "2024-01-31")
	assert.Error(t, err)

	_, err = c.History(context.Background(), "AAPL", "2024-02-01", "2024-01-01")
	assert.Error(t, err)

	_, err = c.History(context.Background(), "AAPL", "bogus", "2024-01-01")
	assert.Error(t, err)
}

func TestInfoFromQuoteSummary(t *testing.T) {
	summary := `{"quoteSummary":{"result":[{"assetProfile":{"sector":"Technology","industry":"Consumer Electronics"},
		"price":{"longName":"Apple Inc.","shortName":"Apple"}}],"error":null}}`

	ts, c := newTestClient(t, "{}", summary, "")
	defer ts.Close()

	info, err := c.Info(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", info.Symbol)
	assert.Equal(t, "Apple Inc.", info.Name)
	assert.Equal(t, "Technology", info.Sector)
	assert.Equal(t, "Consumer Electronics", info.Industry)
}

func TestInfoFallsBackToProfilePage(t *testing.T) {
	profile := `<html><body>
		<h1>Apple Inc. (AAPL)</h1>
		<a href="/sectors/technology/">Technology</a>
		<a href="/sectors/technology/consumer-electronics/">Consumer Electronics</a>
	</body></html>`

	ts, c := newTestClient(t, "{}", "", profile)
	defer ts.Close()

	info, err := c.Info(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "Apple Inc. (AAPL)", info.Name)
	assert.Equal(t, "Technology", info.Sector)
	assert.Equal(t, "Consumer Electronics", info.Industry)
}

func TestInfoMissingProfileDefaultsUnknown(t *testing.T) {
	summary := `{"quoteSummary":{"result":[{"price":{"shortName":"SPDR S&P 500"}}],"error":null}}`

	ts, c := newTestClient(t, "{}", summary, "")
	defer ts.Close()

	info, err := c.Info(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, "SPDR S&P 500", info.Name)
	assert.Equal(t, "Unknown", info.Sector)
	assert.Equal(t, "Unknown", info.Industry)
}
