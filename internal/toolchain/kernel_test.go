package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePython(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"python3", "python"} {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	t.Skip("no python interpreter on PATH")
	return ""
}

func TestSplitKernelLine(t *testing.T) {
	assert.Equal(t, []kernelEvent{{text: "hello\n"}}, splitKernelLine("hello\n"))
	assert.Equal(t, []kernelEvent{{done: true, status: "ok"}}, splitKernelLine(kernelMarker+" ok\n"))
	assert.Equal(t,
		[]kernelEvent{{text: "no newline"}, {done: true, status: "error"}},
		splitKernelLine("no newline"+kernelMarker+" error\n"))
	assert.Equal(t, []kernelEvent{{done: true}}, splitKernelLine(kernelMarker+"\n"))
}

func TestKernel_RunsEachFragmentOnce(t *testing.T) {
	kernel := NewKernel(requirePython(t))
	defer kernel.Close()

	workDir := t.TempDir()
	ctx := context.Background()
	var stdout, stderr bytes.Buffer

	fragments := []string{
		"with open('runs.log', 'a') as f:\n    f.write('first\\n')\nx = 20\n",
		"def double(v):\n\n    return v * 2\n",
		"print(double(x) + 2, end='')\n",
	}
	for _, f := range fragments {
		require.NoError(t, kernel.Exec(ctx, workDir, f, &stdout, &stderr))
	}

	assert.Equal(t, "42", stdout.String())
	assert.Empty(t, stderr.String())

	runs, err := os.ReadFile(filepath.Join(workDir, "runs.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(runs))
}

func TestKernel_ExceptionKeepsState(t *testing.T) {
	kernel := NewKernel(requirePython(t))
	defer kernel.Close()

	workDir := t.TempDir()
	ctx := context.Background()
	var stdout, stderr bytes.Buffer

	require.NoError(t, kernel.Exec(ctx, workDir, "y = 'kept'\n", &stdout, &stderr))

	err := kernel.Exec(ctx, workDir, "raise ValueError('bad cell')\n", &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "ValueError: bad cell")

	require.NoError(t, kernel.Exec(ctx, workDir, "print(y)\n", &stdout, &stderr))
	assert.Equal(t, "kept\n", stdout.String())
}

func TestKernel_ProcessExitRestarts(t *testing.T) {
	kernel := NewKernel(requirePython(t))
	defer kernel.Close()

	workDir := t.TempDir()
	ctx := context.Background()
	var stdout, stderr bytes.Buffer

	require.NoError(t, kernel.Exec(ctx, workDir, "z = 1\n", &stdout, &stderr))
	err := kernel.Exec(ctx, workDir, "import os\nos._exit(3)\n", &stdout, &stderr)
	require.ErrorIs(t, err, ErrKernelExited)

	err = kernel.Exec(ctx, workDir, "print('z' in globals())\n", &stdout, &stderr)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stdout.String(), "False\n"))
}

func TestKernel_MissingInterpreter(t *testing.T) {
	kernel := NewKernel("definitely-not-a-python")
	err := kernel.Exec(context.Background(), t.TempDir(), "x = 1\n", &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
	assert.NoError(t, kernel.Close())
}
