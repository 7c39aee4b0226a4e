package cloudlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/cloudml-magic/pkg/icron"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// ErrJobFailed is returned when the job logs its failure message.
var ErrJobFailed = errors.New("remote job failed")

const (
	completedPrefix = "Job completed"
	failedPrefix    = "Job failed"

	defaultResourceType = "ml_job"
	pageSize            = 1000
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Lister is the subset of Client used by Tailer.
type Lister interface {
	ListEntries(ctx context.Context, req ListRequest) (*ListResponse, error)
}

// Result summarizes a finished tail.
type Result struct {
	Outcome   Outcome
	Watermark time.Time
	Entries   int
	Polls     int
}

// Watermark is the newest timestamp already printed. It only moves forward.
type Watermark struct {
	t time.Time
}

func (w *Watermark) Advance(t time.Time) {
	if t.After(w.t) {
		w.t = t
	}
}

func (w *Watermark) Time() time.Time {
	return w.t
}

type Tailer struct {
	lister       Lister
	schedule     cron.Schedule
	resourceType string
	out          io.Writer
	errOut       io.Writer
	now          func() time.Time
}

type TailerOption func(*Tailer)

// WithSchedule sets the poll cadence.
func WithSchedule(s cron.Schedule) TailerOption {
	return func(t *Tailer) {
		t.schedule = s
	}
}

func WithResourceType(resourceType string) TailerOption {
	return func(t *Tailer) {
		if resourceType != "" {
			t.resourceType = resourceType
		}
	}
}

// NewTailer prints entries to out, and error severities to errOut.
func NewTailer(lister Lister, out, errOut io.Writer, opts ...TailerOption) *Tailer {
	t := &Tailer{
		lister:       lister,
		schedule:     icron.Interval(time.Second),
		resourceType: defaultResourceType,
		out:          out,
		errOut:       errOut,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tail polls the job's log entries newer than since until a terminal message
// is seen or ctx is done. A zero since reads the job's logs from the start.
func (t *Tailer) Tail(ctx context.Context, projectID, jobID string, since time.Time) (Result, error) {
	mark := &Watermark{t: since}
	res := Result{}

	for {
		res.Polls++
		entries, err := t.poll(ctx, projectID, jobID, mark.Time())
		if err != nil {
			res.Watermark = mark.Time()
			return res, err
		}

		for _, e := range entries {
			mark.Advance(e.Timestamp)
			res.Entries++
			t.print(e)

			if outcome, done := terminal(e.Message()); done {
				res.Outcome = outcome
				res.Watermark = mark.Time()
				if outcome == OutcomeFailed {
					return res, ErrJobFailed
				}
				return res, nil
			}
		}
		if len(entries) == 0 {
			log.Debug("No new log entries for job %s after %s", jobID, mark.Time().Format(time.RFC3339Nano))
		}

		timer := time.NewTimer(icron.Wait(t.schedule, t.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Watermark = mark.Time()
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Tailer) poll(ctx context.Context, projectID, jobID string, after time.Time) ([]Entry, error) {
	req := ListRequest{
		ResourceNames: []string{"projects/" + projectID},
		Filter:        Filter(t.resourceType, jobID, after),
		OrderBy:       "timestamp asc",
		PageSize:      pageSize,
	}

	var all []Entry
	for {
		resp, err := t.lister.ListEntries(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Entries...)
		if resp.NextPageToken == "" {
			return all, nil
		}
		req.PageToken = resp.NextPageToken
	}
}

func (t *Tailer) print(e Entry) {
	w := t.out
	if e.IsError() {
		w = t.errOut
	}
	fmt.Fprintf(w, "%s %s\n", e.Timestamp.Format(time.RFC3339), e.Message())
}

// Filter selects the job's entries strictly newer than after.
func Filter(resourceType, jobID string, after time.Time) string {
	parts := []string{
		fmt.Sprintf("resource.type=%q", resourceType),
		fmt.Sprintf("resource.labels.job_id=%q", jobID),
	}
	if !after.IsZero() {
		parts = append(parts, fmt.Sprintf("timestamp>%q", after.UTC().Format(time.RFC3339Nano)))
	}
	return strings.Join(parts, " AND ")
}

func terminal(message string) (Outcome, bool) {
	switch {
	case strings.HasPrefix(message, completedPrefix):
		return OutcomeCompleted, true
	case strings.HasPrefix(message, failedPrefix):
		return OutcomeFailed, true
	}
	return "", false
}
