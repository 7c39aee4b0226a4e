package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/magic"
	"github.com/MimeLyc/cloudml-magic/internal/service"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/internal/toolchain"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Factory builds a service on top of a session store. A nil kernel makes
// local execution rerun the whole program.
type Factory func(sessions session.Store, kernel toolchain.Kernel) (*service.Service, error)

// Env is everything a command needs from the process.
type Env struct {
	Config   config.Config
	Sessions session.Store
	Factory  Factory
	// NewKernel starts the interpreter shared by the cells of a notebook.
	NewKernel func() toolchain.Kernel
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

const usage = `
mlmagic - build a training program cell by cell, then run it on the cloud.

Usage:
  mlmagic init -projectId ID -bucket BUCKET [-region R] [-scaleTier T] [-runtimeVersion V] [-packages a,b] [-args "A B"] [-metadata FILE]
  mlmagic code [-f FILE]         append a fragment (stdin by default) and run it locally
  mlmagic run [-cloud] [-f FILE] run locally, or package, submit and follow the job
  mlmagic notebook SCRIPT        execute a script of %ml_init, %%ml_code and %%ml_run magics
  mlmagic jobs                   list submissions of the current session
  mlmagic logs [JOB_ID]          follow the logs of a submitted job
`

// Run dispatches args (without the program name) to a command.
func Run(ctx context.Context, args []string, env Env) error {
	if len(args) == 0 {
		fmt.Fprint(env.Stderr, usage)
		return &ExitError{Code: 2, Message: "missing command"}
	}

	cmd, rest := args[0], args[1:]
	log.Debug("Running command %q with %d args", cmd, len(rest))

	switch cmd {
	case "init":
		return runInit(ctx, rest, env)
	case "code":
		return runCode(ctx, rest, env)
	case "run":
		return runRun(ctx, rest, env)
	case "notebook":
		return runNotebook(ctx, rest, env)
	case "jobs":
		return runJobs(ctx, rest, env)
	case "logs":
		return runLogs(ctx, rest, env)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(env.Stdout, usage)
		return nil
	default:
		fmt.Fprint(env.Stderr, usage)
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", cmd)}
	}
}

func runInit(ctx context.Context, args []string, env Env) error {
	settings, err := config.ParseInitArgs(args, env.Config.Defaults, env.Stderr)
	if err != nil {
		return flagError(err)
	}
	svc, err := env.Factory(env.Sessions, nil)
	if err != nil {
		return err
	}
	sess, err := svc.Init(ctx, settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Session %s: job %s staged in %s\n", sess.ID, sess.JobID, sess.StagingDir)
	return nil
}

func runCode(ctx context.Context, args []string, env Env) error {
	fs := newFlagSet("code", env.Stderr)
	path := fs.String("f", "", "Read the fragment from this file instead of stdin.")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}
	code, err := readFragment(*path, env.Stdin)
	if err != nil {
		return err
	}

	svc, sess, err := current(ctx, env)
	if err != nil {
		return err
	}
	return svc.Code(ctx, sess, code)
}

func runRun(ctx context.Context, args []string, env Env) error {
	fs := newFlagSet("run", env.Stderr)
	cloud := fs.Bool("cloud", false, "Package the accumulated program and submit it as a training job.")
	path := fs.String("f", "", "Read the run cell from this file instead of stdin.")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}
	// Matches the notebook spelling `%%ml_run cloud`.
	if fs.NArg() == 1 && fs.Arg(0) == "cloud" {
		*cloud = true
	} else if fs.NArg() > 0 {
		return &ExitError{Code: 2, Message: "unexpected arguments: " + strings.Join(fs.Args(), " ")}
	}

	code, err := readFragment(*path, env.Stdin)
	if err != nil {
		return err
	}
	svc, sess, err := current(ctx, env)
	if err != nil {
		return err
	}
	res, err := svc.Run(ctx, sess, code, *cloud)
	if err != nil {
		return err
	}
	if res.Cloud {
		fmt.Fprintf(env.Stdout, "Job %s finished: %s\n", res.JobID, res.Tail.Outcome)
	}
	return nil
}

func runNotebook(ctx context.Context, args []string, env Env) error {
	if len(args) != 1 {
		return &ExitError{Code: 2, Message: "notebook expects exactly one script path"}
	}
	f, err := os.Open(args[0])
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	defer f.Close()

	cmds, err := magic.Parse(f)
	if err != nil {
		return &ExitError{Code: 2, Message: fmt.Sprintf("%s: %v", args[0], err)}
	}

	newKernel := env.NewKernel
	if newKernel == nil {
		newKernel = func() toolchain.Kernel {
			return toolchain.NewKernel(env.Config.Tools.InterpreterCmd)
		}
	}
	kernel := newKernel()
	defer kernel.Close()

	svc, err := env.Factory(session.NewMemoryStore(), kernel)
	if err != nil {
		return err
	}
	return Execute(ctx, svc, cmds, env)
}

// Execute runs parsed magics in order against a fresh session. A failing
// local execution is reported and the script continues, like a notebook cell.
func Execute(ctx context.Context, svc *service.Service, cmds []magic.Command, env Env) error {
	var sess *session.Session
	for _, cmd := range cmds {
		if cmd.Name != magic.Init && sess == nil {
			return service.WrapError(session.ErrNoSession, service.ErrValidation, "no session").
				WithContext("line", cmd.Line)
		}

		var err error
		switch cmd.Name {
		case magic.Init:
			var settings config.Settings
			settings, err = config.ParseInitArgs(cmd.Args, env.Config.Defaults, env.Stderr)
			if err != nil {
				return flagError(err)
			}
			sess, err = svc.Init(ctx, settings)
		case magic.Code:
			err = svc.Code(ctx, sess, cmd.Body)
		case magic.Run:
			var res *service.RunResult
			res, err = svc.Run(ctx, sess, cmd.Body, cmd.Cloud())
			if err == nil && res.Cloud {
				fmt.Fprintf(env.Stdout, "Job %s finished: %s\n", res.JobID, res.Tail.Outcome)
			}
		}

		if service.IsErrorType(err, service.ErrExecution) && !cmd.Cloud() {
			log.Warn("Cell at line %d failed: %v", cmd.Line, err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func runJobs(ctx context.Context, args []string, env Env) error {
	if len(args) > 0 {
		return &ExitError{Code: 2, Message: "jobs takes no arguments"}
	}
	svc, sess, err := current(ctx, env)
	if err != nil {
		return err
	}
	subs, err := svc.Jobs(ctx, sess)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATUS\tSTATE\tPACKAGE\tUPDATED")
	for _, sub := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sub.JobID, sub.Status, orDash(sub.State), sub.PackageURI, sub.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runLogs(ctx context.Context, args []string, env Env) error {
	if len(args) > 1 {
		return &ExitError{Code: 2, Message: "logs takes at most one job id"}
	}
	svc, sess, err := current(ctx, env)
	if err != nil {
		return err
	}
	jobID := ""
	if len(args) == 1 {
		jobID = args[0]
	}
	_, err = svc.Logs(ctx, sess, jobID)
	return err
}

func current(ctx context.Context, env Env) (*service.Service, *session.Session, error) {
	svc, err := env.Factory(env.Sessions, nil)
	if err != nil {
		return nil, nil, err
	}
	sess, err := svc.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	return svc, sess, nil
}

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

// flagError maps a parse failure to exit code 2; -h is not a failure.
func flagError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return &ExitError{Code: 2, Message: err.Error()}
}

func readFragment(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", &ExitError{Code: 2, Message: fmt.Sprintf("read fragment: %v", err)}
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
