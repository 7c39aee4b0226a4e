package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/gcp"
	"github.com/MimeLyc/cloudml-magic/internal/persistence"
	"github.com/MimeLyc/cloudml-magic/internal/service"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/internal/toolchain"
	"github.com/MimeLyc/cloudml-magic/pkg/icron"
)

type nopTool struct {
	sources []string
	closed  bool
}

func (n *nopTool) Package(context.Context, string) (toolchain.Result, error) {
	return toolchain.Result{}, nil
}

func (n *nopTool) Upload(context.Context, string, string) (toolchain.Result, error) {
	return toolchain.Result{}, nil
}

func (n *nopTool) Exec(_ context.Context, _, source string, stdout, _ io.Writer) error {
	n.sources = append(n.sources, source)
	return nil
}

func (n *nopTool) Close() error {
	n.closed = true
	return nil
}

func newEnv(t *testing.T, stdin string) (Env, *nopTool, *bytes.Buffer) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/projects/proj/jobs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = fmt.Fprintf(w, `{"jobId":%q,"state":"QUEUED"}`, body["jobId"])
	})
	mux.HandleFunc("GET /v1/projects/proj/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"jobId":%q,"state":"SUCCEEDED"}`, r.PathValue("id"))
	})
	mux.HandleFunc("POST /v2/entries:list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entries":[{"timestamp":"2024-01-01T00:00:00Z","textPayload":"Job completed successfully."}]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.Config{
		API:      config.APIConfig{MLURL: server.URL, LoggingURL: server.URL, Timeout: 5 * time.Second},
		Tools:    config.ToolsConfig{LocalExec: true},
		Session:  config.SessionConfig{StagingRoot: t.TempDir()},
		Defaults: config.DefaultsConfig{Region: "us-central1", ScaleTier: "BASIC", RuntimeVersion: "1.15"},
		Tail:     config.TailConfig{PollSchedule: "@every 1s", ResourceType: "ml_job"},
	}
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tool := &nopTool{}
	stdout := &bytes.Buffer{}
	env := Env{
		Config:   cfg,
		Sessions: store,
		Factory: func(sessions session.Store, kernel toolchain.Kernel) (*service.Service, error) {
			return service.New(cfg, service.Deps{
				Sessions:    sessions,
				Submissions: store,
				Packager:    tool,
				Uploader:    tool,
				Interpreter: tool,
				Kernel:      kernel,
				Auth: gcp.AuthenticatorFunc(func(context.Context) (*http.Client, error) {
					return server.Client(), nil
				}),
				PollSchedule: icron.Interval(time.Millisecond),
				Out:          stdout,
				ErrOut:       io.Discard,
			})
		},
		NewKernel: func() toolchain.Kernel { return tool },
		Stdin:     strings.NewReader(stdin),
		Stdout:    stdout,
		Stderr:    io.Discard,
	}
	return env, tool, stdout
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	return exitErr.Code
}

func TestRun_Usage(t *testing.T) {
	env, _, stdout := newEnv(t, "")

	assert.Equal(t, 2, exitCode(t, Run(context.Background(), nil, env)))
	assert.Equal(t, 2, exitCode(t, Run(context.Background(), []string{"deploy"}, env)))

	require.NoError(t, Run(context.Background(), []string{"help"}, env))
	assert.Contains(t, stdout.String(), "Usage:")
}

func TestInit_MissingBucket(t *testing.T) {
	env, _, _ := newEnv(t, "")
	err := Run(context.Background(), []string{"init", "-projectId", "proj"}, env)
	assert.Equal(t, 2, exitCode(t, err))
}

func TestCode_RequiresSession(t *testing.T) {
	env, _, _ := newEnv(t, "x = 1")
	err := Run(context.Background(), []string{"code"}, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestCommands_AcrossInvocations(t *testing.T) {
	env, tool, stdout := newEnv(t, "")
	ctx := context.Background()

	require.NoError(t, Run(ctx, []string{"init", "-projectId", "proj", "-bucket", "bkt"}, env))
	assert.Contains(t, stdout.String(), "mlmagic__")

	env.Stdin = strings.NewReader("x = 1\n")
	require.NoError(t, Run(ctx, []string{"code"}, env))

	cell := filepath.Join(t.TempDir(), "cell.py")
	require.NoError(t, os.WriteFile(cell, []byte("print(x)\n"), 0o644))
	require.NoError(t, Run(ctx, []string{"run", "-f", cell}, env))
	assert.Equal(t, []string{"x = 1\n", "x = 1\nprint(x)\n"}, tool.sources)

	env.Stdin = strings.NewReader("")
	require.NoError(t, Run(ctx, []string{"run", "cloud"}, env))
	assert.Contains(t, stdout.String(), "finished: completed")

	stdout.Reset()
	require.NoError(t, Run(ctx, []string{"jobs"}, env))
	assert.Contains(t, stdout.String(), "JOB ID")
	assert.Contains(t, stdout.String(), "succeeded")
}

func TestNotebook(t *testing.T) {
	env, tool, stdout := newEnv(t, "")
	script := filepath.Join(t.TempDir(), "train.ipy")
	require.NoError(t, os.WriteFile(script, []byte(`%ml_init -projectId proj -bucket bkt
%%ml_code
import tensorflow as tf
%%ml_code
x = 1
%%ml_run cloud
tf.fit()
`), 0o644))

	require.NoError(t, Run(context.Background(), []string{"notebook", script}, env))
	assert.Equal(t, []string{"import tensorflow as tf\n", "x = 1\n"}, tool.sources)
	assert.True(t, tool.closed)
	assert.Contains(t, stdout.String(), "Job completed successfully.")
}

func TestNotebook_CellBeforeInit(t *testing.T) {
	env, _, _ := newEnv(t, "")
	script := filepath.Join(t.TempDir(), "train.ipy")
	require.NoError(t, os.WriteFile(script, []byte("%%ml_code\nx = 1\n"), 0o644))

	err := Run(context.Background(), []string{"notebook", script}, env)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestNotebook_ParseError(t *testing.T) {
	env, _, _ := newEnv(t, "")
	script := filepath.Join(t.TempDir(), "bad.ipy")
	require.NoError(t, os.WriteFile(script, []byte("x = 1\n"), 0o644))

	err := Run(context.Background(), []string{"notebook", script}, env)
	assert.Equal(t, 2, exitCode(t, err))
}
