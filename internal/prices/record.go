// Package prices holds the normalized price record and its Postgres store.
package prices

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type Material string

const (
	RSS4   Material = "RSS4"
	RSS5   Material = "RSS5"
	ISNR20 Material = "ISNR20"
	TSR20  Material = "TSR20"
)

type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
)

type MarketType string

const (
	Domestic      MarketType = "DOMESTIC"
	International MarketType = "INTERNATIONAL"
)

const CategoryNaturalRubber = "NATURAL RUBBER"

const dateLayout = "2006-01-02"

// Record is one observed price for one material in one market on one day.
type Record struct {
	Date             time.Time           `json:"date"`
	Material         Material            `json:"material"`
	MaterialCategory string              `json:"material_category"`
	Price            decimal.Decimal     `json:"price"`
	Currency         Currency            `json:"currency"`
	MarketType       MarketType          `json:"market_type"`
	Market           string              `json:"market"`
	ConversionRate   decimal.NullDecimal `json:"conversion_rate"`
	Organisation     string              `json:"organisation"`
	MasterID         int64               `json:"master_id"`
}

// Key is sha256(date + material + market + currency + master_id), the
// natural key the store upserts on.
func (r Record) Key() string {
	payload := strings.Join([]string{
		r.Date.Format(dateLayout),
		string(r.Material),
		r.Market,
		string(r.Currency),
		strconv.FormatInt(r.MasterID, 10),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (r Record) Validate() error {
	if !r.Price.IsPositive() {
		return errors.Newf("%s/%s/%s: price %s is not positive", r.Market, r.Material, r.Currency, r.Price)
	}
	if r.Date.IsZero() {
		return errors.Newf("%s/%s: missing date", r.Market, r.Material)
	}
	return nil
}

// ParseAmount reads a price cell such as "18,500" or " 2.10 ". Only
// positive values are accepted.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dedupe keeps the last record for every key, in first-seen order.
func Dedupe(recs []Record) []Record {
	idx := make(map[string]int, len(recs))
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		k := r.Key()
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
