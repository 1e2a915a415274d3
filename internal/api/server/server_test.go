package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/logging"
	"github.com/rishansujesh/rubber-prices/internal/scheduler"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeJobs struct {
	list []jobs.JobDefinition
	err  error
}

func (f fakeJobs) List(context.Context) ([]jobs.JobDefinition, error) { return f.list, f.err }

type fakeLoop struct{ st scheduler.Status }

func (f fakeLoop) Status() scheduler.Status { return f.st }

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func newServer(j fakeJobs, db fakeDB) http.Handler {
	s := &Server{
		Jobs: j,
		Loop: fakeLoop{st: scheduler.Status{
			Cycles:    4,
			LastCycle: now,
			Results:   map[string]harvest.Result{"sgx-rubber": {SiteKey: "sgx-rubber", Status: harvest.StatusOK, Persisted: 1}},
		}},
		DB:     db,
		Logger: logging.Nop(),
		Now:    func() time.Time { return now },
	}
	return s.Routes()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newServer(fakeJobs{}, fakeDB{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newServer(fakeJobs{}, fakeDB{}), "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		get(t, newServer(fakeJobs{}, fakeDB{err: errors.New("down")}), "/readyz").Code)
}

func TestListJobs(t *testing.T) {
	later := now.Add(time.Hour)
	h := newServer(fakeJobs{list: []jobs.JobDefinition{
		{ID: 1, SiteKey: jobs.SiteRubberIndia, Active: true, FrequencyHours: 6},
		{ID: 2, SiteKey: jobs.SiteSGXRubber, Active: true, FrequencyHours: 6, NextRun: &later},
		{ID: 3, SiteKey: jobs.SiteUSDINR, Active: false, FrequencyHours: 1},
	}}, fakeDB{})

	rec := get(t, h, "/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []struct {
			ID      int64  `json:"id"`
			SiteKey string `json:"site_key"`
			Due     bool   `json:"due"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 3)
	assert.True(t, body.Jobs[0].Due)
	assert.False(t, body.Jobs[1].Due)
	assert.False(t, body.Jobs[2].Due, "inactive jobs are never due")
}

func TestListJobs_Error(t *testing.T) {
	rec := get(t, newServer(fakeJobs{err: errors.New("boom")}, fakeDB{}), "/v1/jobs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatus(t *testing.T) {
	rec := get(t, newServer(fakeJobs{}, fakeDB{}), "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(4), st.Cycles)
	assert.Equal(t, 1, st.Results["sgx-rubber"].Persisted)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", newServer(fakeJobs{}, fakeDB{})) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
