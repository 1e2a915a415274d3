// Package scheduler owns the polling loop that decides which sites are due
// and advances their next_run after each harvest.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/schedule"
	"github.com/rishansujesh/rubber-prices/internal/worker"
)

// Session is a registry handle valid for one cycle.
type Session interface {
	ListActive(ctx context.Context) ([]jobs.JobDefinition, error)
	SetNextRun(ctx context.Context, id int64, t *time.Time) error
	Close() error
}

type Harvester interface {
	RunTriggered(ctx context.Context, site, trigger string) (harvest.Result, error)
}

type AdhocSource interface {
	Pull(ctx context.Context) ([]worker.Request, error)
	Ack(ctx context.Context, req worker.Request) error
}

var errAcquire = errors.New("registry unavailable")

type Loop struct {
	Open   func(ctx context.Context) (Session, error)
	Runner Harvester
	Adhoc  AdhocSource // optional

	Interval     time.Duration
	RetryBackoff time.Duration // wait after a failed registry acquire
	Logger       *zap.SugaredLogger
	Now          func() time.Time

	mu     sync.Mutex
	status Status
}

// Status is a snapshot of loop progress for the status API.
type Status struct {
	Cycles    int64                     `json:"cycles"`
	LastCycle time.Time                 `json:"last_cycle"`
	LastError string                    `json:"last_error,omitempty"`
	Results   map[string]harvest.Result `json:"results"`
}

// Run polls until ctx is cancelled. A cancelled context lets the job in
// flight finish and stops before the next poll.
func (l *Loop) Run(ctx context.Context) error {
	log := l.log()
	log.Infow("scheduler loop started", "interval", l.Interval)
	for {
		wait := l.Interval
		if err := l.RunOnce(ctx); errors.Is(err, errAcquire) && l.RetryBackoff > 0 {
			wait = l.RetryBackoff
		}
		if !sleep(ctx, wait) {
			log.Infow("scheduler loop stopped")
			return nil
		}
	}
}

// RunOnce performs a single cycle.
func (l *Loop) RunOnce(ctx context.Context) error {
	now := l.now()
	err := l.cycle(ctx, now)
	l.drainAdhoc(ctx)

	l.mu.Lock()
	l.status.Cycles++
	l.status.LastCycle = now
	l.status.LastError = ""
	if err != nil {
		l.status.LastError = err.Error()
	}
	l.mu.Unlock()
	return err
}

func (l *Loop) cycle(ctx context.Context, now time.Time) error {
	log := l.log()

	sess, err := l.Open(ctx)
	if err != nil {
		log.Errorw("registry unavailable, skipping cycle", "err", err)
		return errors.Mark(errors.Wrap(err, "open registry session"), errAcquire)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warnw("release registry session", "err", cerr)
		}
	}()

	active, err := sess.ListActive(ctx)
	if err != nil {
		log.Errorw("list active jobs failed", "err", err)
		return errors.Wrap(err, "list active jobs")
	}

	for _, j := range active {
		if ctx.Err() != nil {
			return nil
		}
		if !j.Due(now) {
			log.Debugw("job not due", "site", j.SiteKey, "next_run", j.NextRun)
			continue
		}
		if err := l.runJob(ctx, sess, j, now); err != nil {
			log.Errorw("cycle aborted", "site", j.SiteKey, "err", err)
			return err
		}
	}
	return nil
}

// runJob harvests one due job and persists its next run. Only a failure to
// persist the schedule is returned.
func (l *Loop) runJob(ctx context.Context, sess Session, j jobs.JobDefinition, now time.Time) error {
	log := l.log().With("site", j.SiteKey, "job_id", j.ID)

	next, err := schedule.NextRun(j.CronExpr, j.FrequencyHours, now)
	if err != nil {
		log.Errorw("job has no usable schedule, skipping", "frequency_hours", j.FrequencyHours, "err", err)
		return nil
	}

	// the job in flight is allowed to finish after shutdown starts
	jctx := context.WithoutCancel(ctx)
	res, err := l.harvest(jctx, j.SiteKey, "scheduled")
	if err != nil {
		log.Errorw("harvest failed", "err", err)
	}

	if err := sess.SetNextRun(jctx, j.ID, &next); err != nil {
		return errors.Wrapf(err, "advance %s", j.SiteKey)
	}
	log.Infow("harvest done", "status", res.Status, "persisted", res.Persisted, "next_run", next)
	return nil
}

// drainAdhoc runs operator requests. They never touch next_run.
func (l *Loop) drainAdhoc(ctx context.Context) {
	if l.Adhoc == nil || ctx.Err() != nil {
		return
	}
	log := l.log()

	reqs, err := l.Adhoc.Pull(ctx)
	if err != nil {
		log.Warnw("read ad-hoc requests failed", "err", err)
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		jctx := context.WithoutCancel(ctx)
		res, err := l.harvest(jctx, req.Site, "adhoc")
		if err != nil {
			log.Errorw("ad-hoc harvest failed", "site", req.Site, "request", req.ID, "err", err)
		} else {
			log.Infow("ad-hoc harvest done", "site", req.Site, "request", req.ID, "status", res.Status)
		}
		if err := l.Adhoc.Ack(jctx, req); err != nil {
			log.Warnw("ack ad-hoc request failed", "request", req.ID, "err", err)
		}
	}
}

func (l *Loop) harvest(ctx context.Context, site, trigger string) (res harvest.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			l.log().Errorw("harvest panicked", "site", site, "panic", p, "stack", string(debug.Stack()))
			err = errors.Newf("harvest %s panicked: %v", site, p)
			res = harvest.Result{SiteKey: site, Trigger: trigger, Status: harvest.StatusFailed, Error: err.Error()}
		}
		l.record(site, res)
	}()
	return l.Runner.RunTriggered(ctx, site, trigger)
}

func (l *Loop) record(site string, res harvest.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.Results == nil {
		l.status.Results = map[string]harvest.Result{}
	}
	l.status.Results[site] = res
}

// Status returns a copy of the current loop state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.status
	out.Results = make(map[string]harvest.Result, len(l.status.Results))
	for k, v := range l.status.Results {
		out.Results[k] = v
	}
	return out
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) log() *zap.SugaredLogger {
	if l.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return l.Logger
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
