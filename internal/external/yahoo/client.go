// Package yahoo implements a price source backed by the Yahoo Finance
// v8 chart API with cookie and crumb authentication, the same scheme
// the yfinance Python library uses.
package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rankforge/rsengine/pkg/config"
	"github.com/rankforge/rsengine/pkg/httputil"
	"github.com/rankforge/rsengine/pkg/logger"
	"github.com/rankforge/rsengine/pkg/ratelimit"
)

const (
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	dateLayout = "2006-01-02"

	// chunkDays bounds one chart request; longer ranges are split and
	// fetched concurrently.
	chunkDays = 1250

	chunkWorkers = 3
)

// Client fetches price history and ticker metadata from Yahoo Finance.
// All requests pass through the shared rate limiter, so concurrent
// fetches are still spaced at the provider's pace.
type Client struct {
	http   *httputil.Client
	cfg    config.YahooConfig
	logger *logger.Logger

	mu    sync.Mutex
	crumb string
}

// NewClient creates a Yahoo client. Retries are handled by the fetch
// worker so the underlying HTTP client does not retry on its own.
func NewClient(cfg config.YahooConfig, limiter *ratelimit.Limiter, log *logger.Logger) *Client {
	jar, _ := cookiejar.New(nil)

	httpClient := httputil.NewWithTimeout(log, 30*time.Second).
		DisableRetry().
		WithRateLimiter(limiter).
		WithUserAgent(userAgent).
		WithCookieJar(jar)

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: log,
	}
}

// ensureCrumb obtains a session cookie and crumb token once and
// caches it until a request invalidates it.
func (c *Client) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return c.crumb, nil
	}

	// A request to fc.yahoo.com sets the session cookie in the jar.
	cookieRes, err := c.http.Get(ctx, c.cfg.CookieURL)
	if err == nil {
		cookieRes.Body.Close()
	}

	crumbRes, err := c.http.Get(ctx, c.cfg.CrumbURL)
	if err != nil {
		return "", fmt.Errorf("fetch crumb: %w", err)
	}
	defer crumbRes.Body.Close()

	if crumbRes.StatusCode != 200 {
		return "", fmt.Errorf("crumb endpoint returned HTTP %d", crumbRes.StatusCode)
	}

	body, err := io.ReadAll(crumbRes.Body)
	if err != nil {
		return "", fmt.Errorf("read crumb: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return "", fmt.Errorf("empty crumb received")
	}

	c.crumb = crumb
	c.logger.WithField("crumb_len", len(crumb)).Debug("Obtained Yahoo crumb")
	return crumb, nil
}

// invalidateCrumb drops the cached crumb so the next request
// re-authenticates.
func (c *Client) invalidateCrumb() {
	c.mu.Lock()
	c.crumb = ""
	c.mu.Unlock()
}
