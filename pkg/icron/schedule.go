package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as "@every 1s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule expression")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression: %w", err)
	}
	return schedule, nil
}

// Interval is a fixed-delay schedule. Unlike cron.Every it keeps
// sub-second precision.
type Interval time.Duration

func (i Interval) Next(t time.Time) time.Time {
	d := time.Duration(i)
	if d <= 0 {
		d = time.Second
	}
	return t.Add(d)
}

// Wait returns the duration from now until the schedule next fires.
func Wait(schedule cron.Schedule, now time.Time) time.Duration {
	next := schedule.Next(now)
	if next.IsZero() || !next.After(now) {
		return 0
	}
	return next.Sub(now)
}
