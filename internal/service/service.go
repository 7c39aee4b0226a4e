package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/cloudml-magic/internal/cloudlog"
	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/gcp"
	"github.com/MimeLyc/cloudml-magic/internal/jobs"
	"github.com/MimeLyc/cloudml-magic/internal/mlengine"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/internal/staging"
	"github.com/MimeLyc/cloudml-magic/internal/toolchain"
	"github.com/MimeLyc/cloudml-magic/pkg/file"
	"github.com/MimeLyc/cloudml-magic/pkg/icron"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// Service implements the init, code and run commands on an explicit session.
type Service struct {
	cfg      config.Config
	deps     Deps
	tracker  *jobs.Tracker
	schedule cron.Schedule
	now      func() time.Time

	group singleflight.Group
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Sessions == nil {
		return nil, NewError(ErrConfig, "session store is required")
	}
	if deps.Packager == nil {
		deps.Packager = toolchain.NewPackager(cfg.Tools.PackagerCmd)
	}
	if deps.Uploader == nil {
		deps.Uploader = toolchain.NewUploader(cfg.Tools.UploaderCmd)
	}
	if deps.Interpreter == nil {
		deps.Interpreter = toolchain.NewInterpreter(cfg.Tools.InterpreterCmd)
	}
	if deps.Auth == nil {
		deps.Auth = gcp.NewAuthenticator(cfg.API.AccessToken, cfg.API.Timeout)
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.ErrOut == nil {
		deps.ErrOut = os.Stderr
	}

	schedule := deps.PollSchedule
	if schedule == nil {
		parsed, err := icron.ParseSchedule(cfg.Tail.PollSchedule)
		if err != nil {
			return nil, WrapError(err, ErrConfig, "invalid poll schedule")
		}
		schedule = parsed
	}

	return &Service{
		cfg:      cfg,
		deps:     deps,
		tracker:  jobs.NewTracker(deps.Submissions),
		schedule: schedule,
		now:      time.Now,
	}, nil
}

// Init validates settings, checks credentials and starts a new current session.
func (s *Service) Init(ctx context.Context, settings config.Settings) (*session.Session, error) {
	settings = settings.WithDefaults(s.cfg.Defaults)
	if err := settings.Validate(); err != nil {
		return nil, WrapError(err, ErrValidation, "invalid init settings")
	}

	if _, err := s.deps.Auth.HTTPClient(ctx); err != nil {
		return nil, WrapError(err, ErrAuth, "failed to obtain credentials")
	}

	sess := session.New(settings, s.cfg.Session.StagingRoot, s.now())
	if err := staging.Prepare(sess); err != nil {
		return nil, WrapError(err, ErrPackaging, "failed to create staging directory").
			WithContext("dir", sess.StagingDir)
	}
	if err := s.deps.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, WrapError(err, ErrConfig, "failed to save session")
	}
	if err := s.deps.Sessions.SetCurrent(ctx, sess.ID); err != nil {
		return nil, WrapError(err, ErrConfig, "failed to activate session")
	}

	log.Info("Initialized job %s for %s (bucket %s, region %s, tier %s)",
		sess.JobID, settings.Parent(), settings.Bucket, settings.Region, settings.ScaleTier)
	return sess, nil
}

// Current loads the active session.
func (s *Service) Current(ctx context.Context) (*session.Session, error) {
	sess, err := s.deps.Sessions.CurrentSession(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, WrapError(err, ErrValidation, "no session")
		}
		return nil, WrapError(err, ErrConfig, "failed to load session")
	}
	return sess, nil
}

// Code appends a fragment and runs it locally. With a kernel only the new
// fragment runs, otherwise the whole accumulated program is rerun.
// The fragment is kept even when local execution fails.
func (s *Service) Code(ctx context.Context, sess *session.Session, code string) error {
	f, err := s.append(ctx, sess, code, session.KindCode)
	if err != nil {
		return err
	}
	return s.execLocal(ctx, sess, f)
}

// Run executes a run cell locally, or submits the accumulated program when
// cloud is set. Concurrent cloud runs of one job join the first one; the
// joining callers' cells are not appended.
func (s *Service) Run(ctx context.Context, sess *session.Session, code string, cloud bool) (*RunResult, error) {
	if sess == nil {
		return nil, WrapError(session.ErrNoSession, ErrValidation, "no session")
	}
	if !cloud {
		f, err := s.append(ctx, sess, code, session.KindRun)
		if err != nil {
			return nil, err
		}
		return &RunResult{JobID: sess.JobID}, s.execLocal(ctx, sess, f)
	}

	v, err, shared := s.group.Do(sess.JobID, func() (any, error) {
		if strings.TrimSpace(code) != "" {
			if _, err := s.append(ctx, sess, code, session.KindRun); err != nil {
				return nil, err
			}
		}
		if sess.Empty() {
			return nil, WrapError(ErrNoFragments, ErrValidation, "nothing to submit").
				WithContext("job_id", sess.JobID)
		}
		return s.submit(ctx, sess.Clone())
	})
	res, _ := v.(*RunResult)
	if res != nil && shared {
		tmp := *res
		tmp.Shared = true
		res = &tmp
	}
	return res, err
}

// Logs tails an already submitted job from the beginning of its logs. A
// recorded submission that is not finished yet gets its outcome.
func (s *Service) Logs(ctx context.Context, sess *session.Session, jobID string) (cloudlog.Result, error) {
	if jobID == "" {
		jobID = sess.JobID
	}
	httpClient, err := s.deps.Auth.HTTPClient(ctx)
	if err != nil {
		return cloudlog.Result{}, WrapError(err, ErrAuth, "failed to obtain credentials")
	}
	mlClient, err := mlengine.NewClient(s.cfg.API.MLURL, httpClient)
	if err != nil {
		return cloudlog.Result{}, WrapError(err, ErrConfig, "invalid training API configuration")
	}
	tailer, err := s.newTailer(httpClient)
	if err != nil {
		return cloudlog.Result{}, err
	}

	s.adopt(ctx, jobID)
	res, err := tailer.Tail(ctx, sess.Settings.ProjectID, jobID, time.Time{})
	s.settle(context.WithoutCancel(ctx), jobID, s.refreshJob(ctx, mlClient, sess.Settings.Parent(), jobID), err)
	return res, s.tailError(err, jobID)
}

// Jobs lists submissions recorded for the session, oldest first.
func (s *Service) Jobs(ctx context.Context, sess *session.Session) ([]*jobs.Submission, error) {
	if s.deps.Submissions == nil {
		return s.tracker.List(), nil
	}
	subs, err := s.deps.Submissions.ListSubmissions(ctx, sess.ID)
	if err != nil {
		return nil, WrapError(err, ErrConfig, "failed to list submissions")
	}
	return subs, nil
}

func (s *Service) append(ctx context.Context, sess *session.Session, code string, kind session.Kind) (session.Fragment, error) {
	if sess == nil {
		return session.Fragment{}, WrapError(session.ErrNoSession, ErrValidation, "no session")
	}
	f := sess.Append(code, kind)
	if err := s.deps.Sessions.AppendFragment(ctx, sess.ID, f); err != nil {
		return f, WrapError(err, ErrConfig, "failed to persist fragment").WithContext("seq", f.Seq)
	}
	log.Debug("Appended %s fragment #%d to job %s", kind, f.Seq, sess.JobID)
	return f, nil
}

func (s *Service) execLocal(ctx context.Context, sess *session.Session, f session.Fragment) error {
	if !s.cfg.Tools.LocalExec {
		return nil
	}

	var err error
	if s.deps.Kernel != nil {
		err = s.deps.Kernel.Exec(ctx, sess.StagingDir, f.Code+"\n", s.deps.Out, s.deps.ErrOut)
	} else {
		err = s.deps.Interpreter.Exec(ctx, sess.StagingDir, sess.Source(), s.deps.Out, s.deps.ErrOut)
	}
	if err != nil {
		return WrapError(err, ErrExecution, "local execution failed").WithContext("seq", f.Seq)
	}
	return nil
}

func (s *Service) submit(ctx context.Context, sess *session.Session) (*RunResult, error) {
	res := &RunResult{
		JobID:      sess.JobID,
		Cloud:      true,
		PackageURI: sess.PackageURI(),
	}
	// Status changes are recorded even after ctx is cancelled.
	track := context.WithoutCancel(ctx)
	s.tracker.Begin(track, sess.JobID, sess.ID, res.PackageURI)

	layout, err := staging.Write(sess)
	if err != nil {
		s.tracker.Fail(track, sess.JobID, err)
		return res, WrapError(err, ErrPackaging, "failed to stage package").WithContext("dir", sess.StagingDir)
	}

	res.Archive = s.buildArchive(ctx, layout, res)
	s.upload(ctx, res.Archive, res.PackageURI, res)

	httpClient, err := s.deps.Auth.HTTPClient(ctx)
	if err != nil {
		s.tracker.Fail(track, sess.JobID, err)
		return res, WrapError(err, ErrAuth, "failed to obtain credentials")
	}

	mlClient, err := mlengine.NewClient(s.cfg.API.MLURL, httpClient)
	if err != nil {
		s.tracker.Fail(track, sess.JobID, err)
		return res, WrapError(err, ErrConfig, "invalid training API configuration")
	}
	tailer, err := s.newTailer(httpClient)
	if err != nil {
		s.tracker.Fail(track, sess.JobID, err)
		return res, err
	}

	job, err := mlClient.CreateJob(ctx, sess.Settings.Parent(), mlengine.Job{
		JobID: sess.JobID,
		TrainingInput: &mlengine.TrainingInput{
			ScaleTier:      sess.Settings.ScaleTier,
			PackageURIs:    []string{res.PackageURI},
			PythonModule:   session.ModuleName,
			Region:         sess.Settings.Region,
			RuntimeVersion: sess.Settings.RuntimeVersion,
			Args:           sess.Settings.Args,
		},
	})
	if err != nil {
		s.tracker.Fail(track, sess.JobID, err)
		return res, classifyRemote(err, "failed to create job").WithContext("job_id", sess.JobID)
	}
	res.Job = job
	s.tracker.Mark(track, sess.JobID, jobs.StatusSubmitted, job.State)
	fmt.Fprintf(s.deps.Out, "Job %s submitted (state %s)\n", sess.JobID, job.State)

	s.tracker.Mark(track, sess.JobID, jobs.StatusRunning, "")
	res.Tail, err = tailer.Tail(ctx, sess.Settings.ProjectID, sess.JobID, time.Time{})
	s.settle(track, sess.JobID, s.refreshJob(ctx, mlClient, sess.Settings.Parent(), sess.JobID), err)
	return res, s.tailError(err, sess.JobID)
}

// adopt starts tracking a stored submission that has not finished.
func (s *Service) adopt(ctx context.Context, jobID string) {
	if s.deps.Submissions == nil {
		return
	}
	if _, ok := s.tracker.Get(jobID); ok {
		return
	}
	sub, err := s.deps.Submissions.GetSubmission(ctx, jobID)
	if err != nil {
		if !errors.Is(err, jobs.ErrNotFound) {
			log.Warn("Failed to load submission %s: %v", jobID, err)
		}
		return
	}
	if !sub.Status.Terminal() {
		s.tracker.Adopt(sub)
	}
}

// settle records how following the job's logs ended. When the tail stopped
// early the job's own state decides, and a job still in flight is detached.
func (s *Service) settle(ctx context.Context, jobID string, job *mlengine.Job, tailErr error) {
	sub, ok := s.tracker.Get(jobID)
	if !ok || sub.Status.Terminal() {
		return
	}
	state := ""
	if job != nil {
		state = job.State
	}

	switch {
	case tailErr == nil:
		s.tracker.Mark(ctx, jobID, jobs.StatusSucceeded, state)
	case errors.Is(tailErr, cloudlog.ErrJobFailed):
		s.tracker.Fail(ctx, jobID, tailErr)
		if state != "" {
			s.tracker.Mark(ctx, jobID, jobs.StatusFailed, state)
		}
	case job != nil && job.Terminal():
		s.tracker.Mark(ctx, jobID, StatusOf(job), state)
	default:
		log.Warn("Stopped following job %s: %v", jobID, tailErr)
		s.tracker.Mark(ctx, jobID, jobs.StatusDetached, state)
	}
}

// StatusOf maps a remote job state to a submission status.
func StatusOf(job *mlengine.Job) jobs.Status {
	switch job.State {
	case mlengine.StateSucceeded:
		return jobs.StatusSucceeded
	case mlengine.StateFailed, mlengine.StateCancelled:
		return jobs.StatusFailed
	case mlengine.StateRunning:
		return jobs.StatusRunning
	case mlengine.StateQueued, mlengine.StatePreparing:
		return jobs.StatusSubmitted
	}
	return jobs.StatusDetached
}

// buildArchive runs the packager and returns the archive to upload. A failed
// packaging step only adds a warning, the expected archive path is used instead.
func (s *Service) buildArchive(ctx context.Context, layout staging.Layout, res *RunResult) string {
	started := s.now()
	out, err := s.deps.Packager.Package(ctx, layout.Root)
	if err != nil {
		res.warn(WrapError(err, ErrPackaging, "packaging failed").
			WithContext("dir", layout.Root).
			WithContext("exit", out.ExitCode))
		if out.Output != "" {
			log.Debug("Packager output:\n%s", out.Output)
		}
	} else {
		log.Info("Packaged %s in %s", layout.Root, out.Duration)
	}

	if archive, ok := file.NewestMatch(layout.DistDir, layout.ArchivePattern(), started); ok {
		return archive
	}
	return layout.Archive
}

func (s *Service) upload(ctx context.Context, archive, uri string, res *RunResult) {
	out, err := s.deps.Uploader.Upload(ctx, archive, uri)
	if err != nil {
		res.warn(WrapError(err, ErrUpload, "upload failed").
			WithContext("archive", archive).
			WithContext("uri", uri).
			WithContext("exit", out.ExitCode))
		if out.Output != "" {
			log.Debug("Uploader output:\n%s", out.Output)
		}
		return
	}
	log.Info("Uploaded %s to %s", archive, uri)
}

func (s *Service) newTailer(httpClient *http.Client) (*cloudlog.Tailer, error) {
	logClient, err := cloudlog.NewClient(s.cfg.API.LoggingURL, httpClient)
	if err != nil {
		return nil, WrapError(err, ErrConfig, "invalid logging API configuration")
	}
	return cloudlog.NewTailer(logClient, s.deps.Out, s.deps.ErrOut,
		cloudlog.WithSchedule(s.schedule),
		cloudlog.WithResourceType(s.cfg.Tail.ResourceType),
	), nil
}

func (s *Service) refreshJob(ctx context.Context, client *mlengine.Client, parent, jobID string) *mlengine.Job {
	if ctx.Err() != nil {
		return nil
	}
	job, err := client.GetJob(ctx, parent, jobID)
	if err != nil {
		log.Warn("Failed to refresh state of job %s: %v", jobID, err)
		return nil
	}
	return job
}

func (s *Service) tailError(err error, jobID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cloudlog.ErrJobFailed):
		return WrapError(err, ErrExecution, "remote job failed").WithContext("job_id", jobID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return classifyRemote(err, "failed to read job logs").WithContext("job_id", jobID)
	}
}
