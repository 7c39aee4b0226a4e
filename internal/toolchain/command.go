package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// run executes name with args in dir and captures combined output.
func run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	res := Result{Command: name, Args: args, ExitCode: -1}

	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return res, err
	}

	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	log.Debug("%s %s exited with %d after %s", name, strings.Join(args, " "), res.ExitCode, res.Duration)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%s exited with status %d: %w", name, res.ExitCode, err)
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}
