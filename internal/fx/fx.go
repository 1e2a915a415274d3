// Package fx resolves the USD to INR reference rate.
package fx

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/fetch"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/prices"
)

const rateHeader = "INR for 1 USD"

type Registry interface {
	GetBySiteKey(ctx context.Context, key string) (*jobs.JobDefinition, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

// Cache stores the last good rate. A miss is (zero, false, nil).
type Cache interface {
	GetRate(ctx context.Context) (decimal.Decimal, bool, error)
	SetRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error
}

type Converter struct {
	Registry Registry
	Fetcher  Fetcher
	Cache    Cache // optional
	TTL      time.Duration
	Logger   *zap.SugaredLogger
}

// USDINR returns the current rate, or false when it cannot be determined.
// It never fails the caller.
func (c *Converter) USDINR(ctx context.Context) (decimal.Decimal, bool) {
	if c.Cache != nil {
		rate, ok, err := c.Cache.GetRate(ctx)
		switch {
		case err != nil:
			c.log().Warnw("fx cache read failed, fetching live", "err", err)
		case ok:
			return rate, true
		}
	}
	return c.Refresh(ctx)
}

// Refresh fetches the rate from its source, bypassing and then repopulating the cache.
func (c *Converter) Refresh(ctx context.Context) (decimal.Decimal, bool) {
	job, err := c.Registry.GetBySiteKey(ctx, jobs.SiteUSDINR)
	if err != nil || !job.Configured() {
		c.log().Warnw("usd-inr not configured", "err", err)
		return decimal.Decimal{}, false
	}

	resp, err := c.Fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		c.log().Warnw("usd-inr fetch failed", "url", job.SourceURL, "err", err)
		return decimal.Decimal{}, false
	}

	rate, ok := ParseRate(resp.Body)
	if !ok {
		c.log().Warnw("usd-inr rate not found in page", "url", job.SourceURL)
		return decimal.Decimal{}, false
	}

	if c.Cache != nil {
		if err := c.Cache.SetRate(ctx, rate, c.TTL); err != nil {
			c.log().Warnw("fx cache write failed", "err", err)
		}
	}
	return rate, true
}

func (c *Converter) log() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

// ParseRate finds the first table whose header mentions "INR for 1 USD" and
// reads the third cell of its first data row.
func ParseRate(body []byte) (decimal.Decimal, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return decimal.Decimal{}, false
	}

	var (
		rate       decimal.Decimal
		found, hit bool
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if !hasRateHeader(table) {
			return true
		}
		table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			tds := tr.Find("td")
			if tds.Length() < 3 {
				return true
			}
			// only the first data row of a matching table counts
			hit = true
			rate, found = prices.ParseAmount(tds.Eq(2).Text())
			return false
		})
		return !hit
	})
	return rate, found
}

func hasRateHeader(table *goquery.Selection) bool {
	head := table.Find("thead").First()
	if head.Length() == 0 {
		return false
	}
	match := false
	head.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		match = strings.Contains(strings.TrimSpace(th.Text()), rateHeader)
		return !match
	})
	return match
}
