package jobs

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusDetached marks a job whose logs stopped being followed before it finished.
	StatusDetached Status = "detached"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Submission records one remote run of a session.
type Submission struct {
	JobID      string    `json:"job_id"`
	SessionID  string    `json:"session_id"`
	PackageURI string    `json:"package_uri"`
	Status     Status    `json:"status"`
	State      string    `json:"state,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
