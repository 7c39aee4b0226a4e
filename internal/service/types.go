package service

import (
	"io"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/cloudml-magic/internal/cloudlog"
	"github.com/MimeLyc/cloudml-magic/internal/gcp"
	"github.com/MimeLyc/cloudml-magic/internal/jobs"
	"github.com/MimeLyc/cloudml-magic/internal/mlengine"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/internal/toolchain"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// Deps are the collaborators of a Service. Nil tools and a nil authenticator
// are built from the config.
type Deps struct {
	Sessions    session.Store
	Submissions jobs.Store
	Packager    toolchain.Packager
	Uploader    toolchain.Uploader
	Interpreter toolchain.Interpreter
	Auth        gcp.Authenticator
	// Kernel, when set, runs each fragment once in a long-lived interpreter
	// instead of rerunning the whole program through Interpreter.
	Kernel toolchain.Kernel
	// PollSchedule overrides the configured log poll schedule.
	PollSchedule cron.Schedule
	Out          io.Writer
	ErrOut       io.Writer
}

// RunResult describes one run command.
type RunResult struct {
	JobID      string
	Cloud      bool
	PackageURI string
	Archive    string
	Job        *mlengine.Job
	Tail       cloudlog.Result
	// Warnings are the packaging and upload failures the run continued past.
	Warnings []error
	// Shared is set when the submission was joined from a concurrent run.
	Shared bool
}

func (r *RunResult) warn(err *MagicError) {
	log.Warn("%v", err)
	r.Warnings = append(r.Warnings, err)
}
