package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/logging"
	"github.com/rishansujesh/rubber-prices/internal/worker"
)

var cycleTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSession struct {
	mu      sync.Mutex
	jobs    []jobs.JobDefinition
	listErr error
	setErr  error
	next    map[int64]time.Time
	closed  int
}

func (s *fakeSession) ListActive(context.Context) ([]jobs.JobDefinition, error) {
	return s.jobs, s.listErr
}

func (s *fakeSession) SetNextRun(_ context.Context, id int64, t *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if s.next == nil {
		s.next = map[int64]time.Time{}
	}
	s.next[id] = *t
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	panics map[string]bool
	onRun  func(site string)
}

func (r *fakeRunner) RunTriggered(_ context.Context, site, trigger string) (harvest.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, site+"/"+trigger)
	r.mu.Unlock()
	if r.onRun != nil {
		r.onRun(site)
	}
	if r.panics[site] {
		panic("parser exploded")
	}
	if err := r.fail[site]; err != nil {
		return harvest.Result{SiteKey: site, Status: harvest.StatusFailed}, err
	}
	return harvest.Result{SiteKey: site, Status: harvest.StatusOK, Persisted: 2}, nil
}

type fakeAdhoc struct {
	reqs  []worker.Request
	acked []string
}

func (a *fakeAdhoc) Pull(context.Context) ([]worker.Request, error) {
	out := a.reqs
	a.reqs = nil
	return out, nil
}

func (a *fakeAdhoc) Ack(_ context.Context, req worker.Request) error {
	a.acked = append(a.acked, req.ID)
	return nil
}

func ptr[T any](v T) *T { return &v }

func newLoop(sess *fakeSession, runner *fakeRunner) *Loop {
	return &Loop{
		Open:     func(context.Context) (Session, error) { return sess, nil },
		Runner:   runner,
		Interval: 10 * time.Millisecond,
		Logger:   logging.Nop(),
		Now:      func() time.Time { return cycleTime },
	}
}

func TestRunOnce_NeverRunJobIsDueAndAdvanced(t *testing.T) {
	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, Active: true, FrequencyHours: 6},
	}}
	runner := &fakeRunner{}

	require.NoError(t, newLoop(sess, runner).RunOnce(context.Background()))

	assert.Equal(t, []string{"rubber-india/scheduled"}, runner.calls)
	assert.Equal(t, cycleTime.Add(6*time.Hour), sess.next[1])
	assert.Equal(t, 1, sess.closed)
}

func TestRunOnce_SkipsJobsNotDue(t *testing.T) {
	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, FrequencyHours: 6, NextRun: ptr(cycleTime.Add(time.Minute))},
		{ID: 2, SiteKey: jobs.SiteSGXRubber, FrequencyHours: 0.5, NextRun: ptr(cycleTime)},
	}}
	runner := &fakeRunner{}

	require.NoError(t, newLoop(sess, runner).RunOnce(context.Background()))

	assert.Equal(t, []string{"sgx-rubber/scheduled"}, runner.calls)
	assert.NotContains(t, sess.next, int64(1))
	assert.Equal(t, cycleTime.Add(30*time.Minute), sess.next[2])
}

func TestRunOnce_NextRunCountsFromCycleTimeNotOldSchedule(t *testing.T) {
	// a job overdue by days is not replayed; it moves to cycle time + frequency
	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteSGXRubber, FrequencyHours: 24, NextRun: ptr(cycleTime.AddDate(0, 0, -5))},
	}}
	runner := &fakeRunner{}

	require.NoError(t, newLoop(sess, runner).RunOnce(context.Background()))
	assert.Len(t, runner.calls, 1)
	assert.Equal(t, cycleTime.Add(24*time.Hour), sess.next[1])
}

func TestRunOnce_FailuresStillAdvanceAndContinue(t *testing.T) {
	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, FrequencyHours: 6},
		{ID: 2, SiteKey: jobs.SiteSGXRubber, FrequencyHours: 12},
		{ID: 3, SiteKey: jobs.SiteUSDINR, FrequencyHours: 1},
	}}
	runner := &fakeRunner{
		fail:   map[string]error{jobs.SiteRubberIndia: errors.New("persist failed")},
		panics: map[string]bool{jobs.SiteSGXRubber: true},
	}
	loop := newLoop(sess, runner)

	require.NoError(t, loop.RunOnce(context.Background()))

	assert.Len(t, runner.calls, 3)
	assert.Equal(t, cycleTime.Add(6*time.Hour), sess.next[1])
	assert.Equal(t, cycleTime.Add(12*time.Hour), sess.next[2])
	assert.Equal(t, cycleTime.Add(time.Hour), sess.next[3])

	st := loop.Status()
	assert.Equal(t, harvest.StatusFailed, st.Results[jobs.SiteSGXRubber].Status)
	assert.Equal(t, harvest.StatusOK, st.Results[jobs.SiteUSDINR].Status)
}

func TestRunOnce_InvalidScheduleIsSkipped(t *testing.T) {
	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, FrequencyHours: 0},
		{ID: 2, SiteKey: jobs.SiteSGXRubber, CronExpr: ptr("bogus")},
		{ID: 3, SiteKey: jobs.SiteUSDINR, CronExpr: ptr("0 * * * *")},
	}}
	runner := &fakeRunner{}

	require.NoError(t, newLoop(sess, runner).RunOnce(context.Background()))
	assert.Equal(t, []string{"usd-inr/scheduled"}, runner.calls)
	require.Len(t, sess.next, 1)
	assert.True(t, cycleTime.Add(time.Hour).Equal(sess.next[3]), sess.next[3])
}

func TestRunOnce_AcquireFailureSkipsCycle(t *testing.T) {
	runner := &fakeRunner{}
	loop := newLoop(nil, runner)
	loop.Open = func(context.Context) (Session, error) { return nil, errors.New("dial tcp: refused") }

	err := loop.RunOnce(context.Background())
	require.ErrorIs(t, err, errAcquire)
	assert.Empty(t, runner.calls)
	assert.Contains(t, loop.Status().LastError, "refused")
}

func TestRunOnce_ListFailureReleasesSession(t *testing.T) {
	sess := &fakeSession{listErr: errors.New("relation does not exist")}
	err := newLoop(sess, &fakeRunner{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sess.closed)
}

func TestRunOnce_SetNextRunFailureAbortsCycle(t *testing.T) {
	sess := &fakeSession{
		jobs: []jobs.JobDefinition{
			{ID: 1, SiteKey: jobs.SiteRubberIndia, FrequencyHours: 6},
			{ID: 2, SiteKey: jobs.SiteSGXRubber, FrequencyHours: 6},
		},
		setErr: errors.New("connection lost"),
	}
	runner := &fakeRunner{}

	require.Error(t, newLoop(sess, runner).RunOnce(context.Background()))
	assert.Equal(t, []string{"rubber-india/scheduled"}, runner.calls)
	assert.Equal(t, 1, sess.closed)
}

func TestRunOnce_CancelFinishesCurrentJobOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{jobs: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, FrequencyHours: 6},
		{ID: 2, SiteKey: jobs.SiteSGXRubber, FrequencyHours: 6},
	}}
	runner := &fakeRunner{onRun: func(string) { cancel() }}

	require.NoError(t, newLoop(sess, runner).RunOnce(ctx))
	assert.Equal(t, []string{"rubber-india/scheduled"}, runner.calls)
	assert.Contains(t, sess.next, int64(1), "job in flight still advances")
	assert.NotContains(t, sess.next, int64(2))
}

func TestRunOnce_AdhocRequestsLeaveScheduleAlone(t *testing.T) {
	sess := &fakeSession{}
	runner := &fakeRunner{}
	adhoc := &fakeAdhoc{reqs: []worker.Request{
		{ID: "r1", Site: jobs.SiteSGXRubber},
		{ID: "r2", Site: "unknown"},
	}}
	runner.fail = map[string]error{"unknown": harvest.ErrUnknownSite}
	loop := newLoop(sess, runner)
	loop.Adhoc = adhoc

	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Equal(t, []string{"sgx-rubber/adhoc", "unknown/adhoc"}, runner.calls)
	assert.Equal(t, []string{"r1", "r2"}, adhoc.acked)
	assert.Empty(t, sess.next)
}

func TestRun_StopsOnCancelAndRetriesAcquire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var opens int
	loop := newLoop(nil, &fakeRunner{})
	loop.RetryBackoff = time.Millisecond
	loop.Open = func(context.Context) (Session, error) {
		opens++
		if opens == 3 {
			cancel()
		}
		return nil, errors.New("db down")
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.Equal(t, 3, opens)
	assert.Equal(t, int64(3), loop.Status().Cycles)
}
