// Package market extracts price rows from the rubber board price page and
// the SGX settlement feed.
package market

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/rishansujesh/rubber-prices/internal/prices"
)

// Market names one price table on the page: which layout container holds
// it, which section inside that container, and how its rows are labelled.
type Market struct {
	Layout  string // space separated class list of the container div
	Section string // id of the section div inside the container
	Type    prices.MarketType
	Name    string
}

// RubberIndiaMarkets is the fixed set of tables read from the price page.
var RubberIndiaMarkets = []Market{
	{Layout: "col-lg-13 rb-div-style1", Section: "loc1", Type: prices.Domestic, Name: "KOTTAYAM"},
	{Layout: "col-lg-13 rb-div-style1", Section: "loc2", Type: prices.Domestic, Name: "KOCHI"},
	{Layout: "col-lg-13 rb-div-style1", Section: "loc3", Type: prices.Domestic, Name: "AGARTALA"},
	{Layout: "col-lg-18 rb-div-style1", Section: "exloc1", Type: prices.International, Name: "BANGKOK"},
	{Layout: "col-lg-18 rb-div-style1", Section: "exloc2", Type: prices.International, Name: "KUALALUMPUR"},
}

var tableMaterials = map[prices.Material]bool{
	prices.RSS4:   true,
	prices.RSS5:   true,
	prices.ISNR20: true,
}

var datePattern = regexp.MustCompile(`on (\d{2}-\d{2}-\d{4})`)

// Options carries the per-harvest values stamped onto every record.
type Options struct {
	HarvestDate    time.Time
	ConversionRate decimal.NullDecimal
	Organisation   string
	MasterID       int64
}

// Stats counts table rows seen, records emitted and rows dropped.
type Stats struct {
	Rows    int `json:"rows"`
	Emitted int `json:"emitted"`
	Skipped int `json:"skipped"`
}

func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.Emitted += o.Emitted
	s.Skipped += o.Skipped
}

func ParseMarkup(body []byte, m Market, opt Options) ([]prices.Record, Stats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "parse markup")
	}
	recs, st := ParseDocument(doc, m, opt)
	return recs, st, nil
}

// ParsePage parses body once and reads every market in order.
func ParsePage(body []byte, markets []Market, opt Options) ([]prices.Record, Stats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "parse markup")
	}
	var (
		all []prices.Record
		st  Stats
	)
	for _, m := range markets {
		recs, s := ParseDocument(doc, m, opt)
		all = append(all, recs...)
		st.Add(s)
	}
	return all, st, nil
}

// ParseDocument reads one market table. A missing container, section or
// table yields no records and zero stats.
func ParseDocument(doc *goquery.Document, m Market, opt Options) ([]prices.Record, Stats) {
	var st Stats

	container := doc.Find(containerSelector(m.Layout)).First()
	if container.Length() == 0 {
		return nil, st
	}
	date := tableDate(container, opt.HarvestDate)

	table := container.Find(`div[id="` + m.Section + `"]`).First().Find("table.price-table").First()
	if table.Length() == 0 {
		return nil, st
	}

	var out []prices.Record
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 3 {
			return
		}
		st.Rows++

		material := normalizeMaterial(tds.Eq(0).Text())
		if !tableMaterials[material] {
			st.Skipped++
			return
		}
		inr, inrOK := prices.ParseAmount(tds.Eq(1).Text())
		usd, usdOK := prices.ParseAmount(tds.Eq(2).Text())
		if !inrOK && !usdOK {
			st.Skipped++
			return
		}

		base := prices.Record{
			Date:             date,
			Material:         material,
			MaterialCategory: prices.CategoryNaturalRubber,
			MarketType:       m.Type,
			Market:           m.Name,
			ConversionRate:   opt.ConversionRate,
			Organisation:     opt.Organisation,
			MasterID:         opt.MasterID,
		}
		if inrOK {
			r := base
			r.Price, r.Currency = inr, prices.INR
			out = append(out, r)
		}
		if usdOK {
			r := base
			r.Price, r.Currency = usd, prices.USD
			out = append(out, r)
		}
	})
	st.Emitted = len(out)
	return out, st
}

func containerSelector(layout string) string {
	return "div." + strings.Join(strings.Fields(layout), ".")
}

func tableDate(container *goquery.Selection, fallback time.Time) time.Time {
	var found time.Time
	container.Find("h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		m := datePattern.FindStringSubmatch(h.Text())
		if m == nil {
			return true
		}
		d, err := time.Parse("02-01-2006", m[1])
		if err != nil {
			return true
		}
		found = d
		return false
	})
	if found.IsZero() {
		return prices.Day(fallback)
	}
	return found
}

// normalizeMaterial turns labels such as "RSS 4" or "ISNR-20" into RSS4 and ISNR20.
func normalizeMaterial(s string) prices.Material {
	s = strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	return prices.Material(strings.Join(strings.Fields(s), ""))
}
