package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rankforge/rsengine/internal/contracts"
)

// quoteSummaryResponse mirrors the quoteSummary API payload for the
// assetProfile and price modules.
type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile *struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
			} `json:"assetProfile"`
			Price *struct {
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
			} `json:"price"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Info fetches ticker metadata. The quoteSummary API is tried first;
// on failure the public profile page is scraped as a fallback.
// Missing fields come back as "Unknown" so callers can store a row
// and enrich it later.
func (c *Client) Info(ctx context.Context, symbol string) (*contracts.TickerInfo, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	info, err := c.fetchQuoteSummary(ctx, symbol)
	if err == nil {
		return info, nil
	}

	c.logger.WithError(err).WithField("symbol", symbol).Warn("quoteSummary failed, scraping profile page")

	info, scrapeErr := c.scrapeProfile(ctx, symbol)
	if scrapeErr != nil {
		return nil, fmt.Errorf("quoteSummary failed (%v) and profile scrape failed: %w", err, scrapeErr)
	}
	return info, nil
}

func (c *Client) fetchQuoteSummary(ctx context.Context, symbol string) (*contracts.TickerInfo, error) {
	crumb, err := c.ensureCrumb(ctx)
	if err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s?modules=assetProfile%%2Cprice&crumb=%s",
		c.cfg.SummaryBaseURL, url.PathEscape(symbol), url.QueryEscape(crumb))

	var resp quoteSummaryResponse
	if err := c.http.GetJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	if resp.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("quoteSummary error for %s: %s: %s",
			symbol, resp.QuoteSummary.Error.Code, resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("quoteSummary returned no result for %s", symbol)
	}

	result := resp.QuoteSummary.Result[0]
	info := &contracts.TickerInfo{
		Symbol:   strings.ToUpper(symbol),
		Name:     symbol,
		Sector:   "Unknown",
		Industry: "Unknown",
	}

	if result.Price != nil {
		if result.Price.LongName != "" {
			info.Name = result.Price.LongName
		} else if result.Price.ShortName != "" {
			info.Name = result.Price.ShortName
		}
	}
	if result.AssetProfile != nil {
		if result.AssetProfile.Sector != "" {
			info.Sector = result.AssetProfile.Sector
		}
		if result.AssetProfile.Industry != "" {
			info.Industry = result.AssetProfile.Industry
		}
	}

	return info, nil
}

// scrapeProfile parses the public profile page. Sector and industry
// appear as labelled links in the company overview section.
func (c *Client) scrapeProfile(ctx context.Context, symbol string) (*contracts.TickerInfo, error) {
	reqURL := fmt.Sprintf("%s/%s/profile", c.cfg.ProfileBaseURL, url.PathEscape(symbol))

	res, err := c.http.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		return nil, fmt.Errorf("profile page returned HTTP %d for %s", res.StatusCode, symbol)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse profile page: %w", err)
	}

	info := &contracts.TickerInfo{
		Symbol:   strings.ToUpper(symbol),
		Name:     symbol,
		Sector:   "Unknown",
		Industry: "Unknown",
	}

	if name := strings.TrimSpace(doc.Find("h1").First().Text()); name != "" {
		info.Name = name
	}

	// Sector links look like /sectors/<sector>/, industry links like
	// /sectors/<sector>/<industry>/.
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}

		idx := strings.Index(href, "/sectors/")
		if idx < 0 {
			return
		}
		path := strings.Trim(href[idx+len("/sectors/"):], "/")
		if path == "" {
			return
		}

		switch len(strings.Split(path, "/")) {
		case 1:
			if info.Sector == "Unknown" {
				info.Sector = text
			}
		case 2:
			if info.Industry == "Unknown" {
				info.Industry = text
			}
		}
	})

	return info, nil
}
