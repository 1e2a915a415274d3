package jobs

import (
	"time"
)

// Site keys understood by the harvest runner.
const (
	SiteRubberIndia = "rubber-india"
	SiteSGXRubber   = "sgx-rubber"
	SiteUSDINR      = "usd-inr"
)

// JobDefinition is one row of scraper_master.
type JobDefinition struct {
	ID             int64      `json:"id"`
	SiteKey        string     `json:"site_key"`
	Active         bool       `json:"active"`
	FrequencyHours float64    `json:"frequency_hours"`
	CronExpr       *string    `json:"cron_expr,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	SourceURL      string     `json:"source_url"`
	Organisation   string     `json:"organisation"`
	DisplayName    string     `json:"display_name"`
}

// Due reports whether the job should run at now. A job that never ran is due.
func (j JobDefinition) Due(now time.Time) bool {
	if j.NextRun == nil {
		return true
	}
	return !now.Before(*j.NextRun)
}

// Configured reports whether the job has somewhere to fetch from.
func (j JobDefinition) Configured() bool { return j.SourceURL != "" }
