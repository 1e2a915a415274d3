package schedule

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes when a job should next fire, counted from "from" (the
// cycle time, not the previously scheduled time). A non-empty cron
// expression wins over the fixed frequency.
func NextRun(cronExpr *string, frequencyHours float64, from time.Time) (time.Time, error) {
	switch {
	case cronExpr != nil && *cronExpr != "":
		sched, err := parser.Parse(*cronExpr)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid cron %q", *cronExpr)
		}
		return sched.Next(from), nil

	case frequencyHours > 0 && !math.IsInf(frequencyHours, 0) && !math.IsNaN(frequencyHours):
		return from.Add(time.Duration(frequencyHours * float64(time.Hour))), nil

	default:
		return time.Time{}, errors.Newf("no usable schedule: frequency %v hours", frequencyHours)
	}
}
