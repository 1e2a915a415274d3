package harvest

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/market"
	"github.com/rishansujesh/rubber-prices/internal/prices"
)

var one = decimal.NewFromInt(1)

func (r *Runner) rubberIndia(ctx context.Context, log *zap.SugaredLogger, res *Result) error {
	job, body, ok, err := r.load(ctx, log, res)
	if !ok {
		return err
	}

	// A missing rate is recorded as 1 on this page's rows.
	rate := decimal.NewNullDecimal(one)
	if usdinr, ok := r.Rates.USDINR(ctx); ok {
		rate = decimal.NewNullDecimal(usdinr)
	} else {
		log.Warnw("usd-inr rate unavailable, using 1")
	}

	recs, st, err := market.ParsePage(body, market.RubberIndiaMarkets, market.Options{
		HarvestDate:    res.StartedAt,
		ConversionRate: rate,
		Organisation:   job.Organisation,
		MasterID:       job.ID,
	})
	if err != nil {
		log.Warnw("page unreadable", "err", err)
		res.Status, res.Error = StatusNoData, err.Error()
		return nil
	}
	res.Rows, res.Skipped = len(recs), st.Skipped
	if st.Skipped > 0 {
		log.Debugw("rows skipped", "skipped", st.Skipped, "seen", st.Rows)
	}
	return r.persist(ctx, log, res, recs)
}

func (r *Runner) sgxRubber(ctx context.Context, log *zap.SugaredLogger, res *Result) error {
	job, body, ok, err := r.load(ctx, log, res)
	if !ok {
		return err
	}

	price, err := market.ParseSettlement(body)
	if err != nil {
		log.Warnw("no settlement price found", "err", err)
		res.Status, res.Error = StatusNoData, err.Error()
		return nil
	}

	// A missing rate is stored as NULL on the settlement row.
	var rate decimal.NullDecimal
	if usdinr, ok := r.Rates.USDINR(ctx); ok {
		rate = decimal.NewNullDecimal(usdinr)
	} else {
		log.Warnw("usd-inr rate unavailable, storing NULL")
	}

	rec := prices.Record{
		Date:             prices.Day(res.StartedAt).AddDate(0, 0, -1),
		Material:         prices.TSR20,
		MaterialCategory: prices.CategoryNaturalRubber,
		Price:            price,
		Currency:         prices.USD,
		MarketType:       prices.International,
		Market:           "SINGAPORE",
		ConversionRate:   rate,
		Organisation:     job.Organisation,
		MasterID:         job.ID,
	}
	res.Rows = 1
	return r.persist(ctx, log, res, []prices.Record{rec})
}

// usdINR refreshes the cached rate on the job's own schedule.
func (r *Runner) usdINR(ctx context.Context, log *zap.SugaredLogger, res *Result) error {
	if _, err := r.siteJob(ctx, res.SiteKey); err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			return err
		}
		log.Warnw("site not configured")
		res.Status, res.Error = StatusNotConfigured, err.Error()
		return nil
	}
	rate, ok := r.Rates.Refresh(ctx)
	if !ok {
		res.Status = StatusNoData
		return nil
	}
	res.Status, res.Rate = StatusOK, rate.String()
	log.Infow("usd-inr rate refreshed", "rate", res.Rate)
	return nil
}
