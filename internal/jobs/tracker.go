package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// Tracker moves submissions through their statuses and persists every change.
// Persistence failures are logged, never returned: tracking must not abort a run.
type Tracker struct {
	store Store

	mu   sync.Mutex
	subs map[string]*Submission
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		subs:  make(map[string]*Submission),
	}
}

func (t *Tracker) Begin(ctx context.Context, jobID, sessionID, packageURI string) *Submission {
	now := time.Now()
	sub := &Submission{
		JobID:      jobID,
		SessionID:  sessionID,
		PackageURI: packageURI,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	if existing, ok := t.subs[jobID]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if t.store != nil {
		if stored, err := t.store.GetSubmission(ctx, jobID); err == nil && stored != nil {
			sub.CreatedAt = stored.CreatedAt
		}
	}
	t.subs[jobID] = sub
	snapshot := cloneSubmission(sub)
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	return snapshot
}

// Adopt tracks a submission loaded from the store, unless it is already tracked.
func (t *Tracker) Adopt(sub *Submission) {
	if sub == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub.JobID]; !ok {
		t.subs[sub.JobID] = cloneSubmission(sub)
	}
}

// Mark sets the status and, when non-empty, the remote job state.
func (t *Tracker) Mark(ctx context.Context, jobID string, status Status, state string) {
	t.update(ctx, jobID, func(sub *Submission) {
		sub.Status = status
		if state != "" {
			sub.State = state
		}
		if status != StatusFailed {
			sub.Error = ""
		}
	})
}

func (t *Tracker) Fail(ctx context.Context, jobID string, err error) {
	t.update(ctx, jobID, func(sub *Submission) {
		sub.Status = StatusFailed
		if err != nil {
			sub.Error = err.Error()
		}
	})
}

func (t *Tracker) Get(jobID string) (*Submission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[jobID]
	if !ok {
		return nil, false
	}
	return cloneSubmission(sub), true
}

// List returns tracked submissions ordered by creation time.
func (t *Tracker) List() []*Submission {
	t.mu.Lock()
	ret := make([]*Submission, 0, len(t.subs))
	for _, sub := range t.subs {
		ret = append(ret, cloneSubmission(sub))
	}
	t.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

func (t *Tracker) update(ctx context.Context, jobID string, fn func(*Submission)) {
	t.mu.Lock()
	sub, ok := t.subs[jobID]
	if !ok {
		t.mu.Unlock()
		log.Warn("Submission %s is not tracked", jobID)
		return
	}
	fn(sub)
	sub.UpdatedAt = time.Now()
	snapshot := cloneSubmission(sub)
	t.mu.Unlock()

	t.persist(ctx, snapshot)
}

func (t *Tracker) persist(ctx context.Context, sub *Submission) {
	if t.store == nil || sub == nil {
		return
	}
	if err := t.store.UpsertSubmission(ctx, sub); err != nil {
		log.Error("Failed to persist submission %s: %v", sub.JobID, err)
	}
}

func cloneSubmission(sub *Submission) *Submission {
	if sub == nil {
		return nil
	}
	tmp := *sub
	return &tmp
}
