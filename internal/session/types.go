package session

import (
	"context"
	"errors"
	"time"

	"github.com/MimeLyc/cloudml-magic/internal/config"
)

// ErrNoSession is returned when no session has been initialized yet.
var ErrNoSession = errors.New("no active session, run init first")

type Kind string

const (
	KindCode Kind = "code"
	KindRun  Kind = "run"
)

// Fragment is one submitted piece of training source.
type Fragment struct {
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"kind"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the explicit state shared by the init, code and run commands.
type Session struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Settings   config.Settings `json:"settings"`
	StagingDir string          `json:"staging_dir"`
	Fragments  []Fragment      `json:"fragments"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store persists sessions between command invocations.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	AppendFragment(ctx context.Context, sessionID string, f Fragment) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	// CurrentSession returns the most recently activated session or ErrNoSession.
	CurrentSession(ctx context.Context) (*Session, error)
	SetCurrent(ctx context.Context, id string) error
}
