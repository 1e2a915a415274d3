// Package harvest fetches one site, turns its payload into price records
// and hands them to the price store.
package harvest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/fetch"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/prices"
)

var (
	ErrUnknownSite   = errors.New("unknown site")
	ErrNotConfigured = errors.New("site not configured")
)

// Sites harvested by RunAll, in order.
var Sites = []string{jobs.SiteRubberIndia, jobs.SiteSGXRubber}

type Registry interface {
	GetBySiteKey(ctx context.Context, key string) (*jobs.JobDefinition, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

type RateSource interface {
	USDINR(ctx context.Context) (decimal.Decimal, bool)
	Refresh(ctx context.Context) (decimal.Decimal, bool)
}

type Saver interface {
	Save(ctx context.Context, recs []prices.Record) (int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, v any) error
}

type Status string

const (
	StatusOK            Status = "ok"
	StatusNotConfigured Status = "not_configured"
	StatusFetchFailed   Status = "fetch_failed"
	StatusNoData        Status = "no_data"
	StatusFailed        Status = "failed"
)

// Result describes one harvest attempt. It is also the harvest event payload.
type Result struct {
	RunID     string        `json:"run_id"`
	SiteKey   string        `json:"site"`
	Trigger   string        `json:"trigger,omitempty"`
	Status    Status        `json:"status"`
	Rows      int           `json:"rows"`
	Skipped   int           `json:"skipped"`
	Persisted int           `json:"persisted"`
	Rate      string        `json:"rate,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

type Runner struct {
	Registry Registry
	Fetcher  Fetcher
	Rates    RateSource
	Store    Saver
	Events   EventPublisher // optional
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

type siteFunc func(ctx context.Context, log *zap.SugaredLogger, res *Result) error

// Run harvests one site. Fetch failures, missing configuration and absent
// data are reported in the Result with a nil error. Persistence failures,
// panics and unknown sites are returned as errors.
func (r *Runner) Run(ctx context.Context, site string) (Result, error) {
	return r.run(ctx, site, "scheduled")
}

// RunTriggered is Run with the trigger recorded on the result.
func (r *Runner) RunTriggered(ctx context.Context, site, trigger string) (Result, error) {
	return r.run(ctx, site, trigger)
}

// RunAll harvests every site in Sites, continuing past failures.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	var (
		out  []Result
		errs error
	)
	for _, site := range Sites {
		if err := ctx.Err(); err != nil {
			return out, errors.CombineErrors(errs, err)
		}
		res, err := r.run(ctx, site, "all")
		out = append(out, res)
		errs = errors.CombineErrors(errs, err)
	}
	return out, errs
}

func (r *Runner) run(ctx context.Context, site, trigger string) (res Result, err error) {
	res = Result{
		RunID:     uuid.NewString(),
		SiteKey:   site,
		Trigger:   trigger,
		StartedAt: r.now(),
	}
	log := r.log().With("site", site, "run_id", res.RunID)

	var fn siteFunc
	switch site {
	case jobs.SiteRubberIndia:
		fn = r.rubberIndia
	case jobs.SiteSGXRubber:
		fn = r.sgxRubber
	case jobs.SiteUSDINR:
		fn = r.usdINR
	default:
		err = errors.Wrapf(ErrUnknownSite, "%q", site)
		res.Status, res.Error = StatusFailed, err.Error()
		return res, err
	}

	defer func() {
		if p := recover(); p != nil {
			log.Errorw("harvest panicked", "panic", p, "stack", string(debug.Stack()))
			err = errors.Newf("harvest %s panicked: %v", site, p)
		}
		res.Duration = r.now().Sub(res.StartedAt)
		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
		}
		r.publish(ctx, log, res)
	}()

	err = fn(ctx, log, &res)
	return res, err
}

// siteJob resolves a registry entry. A missing row or an empty URL is
// ErrNotConfigured; any other lookup failure is returned as is.
func (r *Runner) siteJob(ctx context.Context, site string) (*jobs.JobDefinition, error) {
	job, err := r.Registry.GetBySiteKey(ctx, site)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, errors.Wrapf(err, "look up %s", site)
	}
	if !job.Configured() {
		return nil, ErrNotConfigured
	}
	return job, nil
}

// load resolves and fetches the site. ok=false means the result has been
// filled in and the harvest should stop without error.
func (r *Runner) load(ctx context.Context, log *zap.SugaredLogger, res *Result) (*jobs.JobDefinition, []byte, bool, error) {
	job, err := r.siteJob(ctx, res.SiteKey)
	if errors.Is(err, ErrNotConfigured) {
		log.Warnw("site not configured")
		res.Status, res.Error = StatusNotConfigured, err.Error()
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	resp, err := r.Fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		log.Warnw("fetch failed", "url", job.SourceURL, "status", resp.Status, "err", err)
		res.Status, res.Error = StatusFetchFailed, err.Error()
		return nil, nil, false, nil
	}
	return job, resp.Body, true, nil
}

func (r *Runner) persist(ctx context.Context, log *zap.SugaredLogger, res *Result, recs []prices.Record) error {
	n, err := r.Store.Save(ctx, recs)
	if err != nil {
		return errors.Wrapf(err, "persist %d rows", len(recs))
	}
	res.Persisted = n
	res.Status = StatusOK
	log.Infow("rows saved", "rows", res.Rows, "persisted", n, "skipped", res.Skipped)
	return nil
}

func (r *Runner) publish(ctx context.Context, log *zap.SugaredLogger, res Result) {
	if r.Events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.Events.Publish(pctx, res); err != nil {
		log.Warnw("publish harvest event failed", "err", err)
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}

func (res Result) String() string {
	return fmt.Sprintf("%s %s rows=%d persisted=%d skipped=%d", res.SiteKey, res.Status, res.Rows, res.Persisted, res.Skipped)
}
