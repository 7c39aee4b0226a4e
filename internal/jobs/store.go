package jobs

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("submission not found")

// Store persists submission records.
type Store interface {
	UpsertSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, jobID string) (*Submission, error)
	ListSubmissions(ctx context.Context, sessionID string) ([]*Submission, error)
}
