package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseURL() string {
	if v := os.Getenv("SCHEDULER_URL"); v != "" {
		return v
	}
	return "http://localhost:8081"
}

func skipUnlessE2E(t *testing.T) {
	if os.Getenv("E2E") == "" {
		t.Skip("set E2E=1 to run end-to-end tests")
	}
}

func TestSchedulerHealthz(t *testing.T) {
	skipUnlessE2E(t)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSchedulerJobsListed(t *testing.T) {
	skipUnlessE2E(t)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL() + "/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotNil(t, body.Jobs)
}
