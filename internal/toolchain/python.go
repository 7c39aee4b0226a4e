package toolchain

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

type setuptools struct {
	pythonCmd string
}

// NewPackager runs `<python> setup.py sdist` inside the staging directory.
func NewPackager(pythonCmd string) Packager {
	if pythonCmd == "" {
		pythonCmd = "python"
	}
	return setuptools{pythonCmd: pythonCmd}
}

func (s setuptools) Package(ctx context.Context, dir string) (Result, error) {
	return run(ctx, dir, s.pythonCmd, s.sdistArgs()...)
}

func (setuptools) sdistArgs() []string {
	return []string{"setup.py", "sdist"}
}

type interpreter struct {
	cmd string
}

// NewInterpreter runs source files with cmd (python3 by default).
func NewInterpreter(cmd string) Interpreter {
	if cmd == "" {
		cmd = "python3"
	}
	return interpreter{cmd: cmd}
}

const localProgramName = ".mlmagic_local.py"

// Exec writes source to workDir and runs it, streaming output to stdout and stderr.
func (i interpreter) Exec(ctx context.Context, workDir, source string, stdout, stderr io.Writer) error {
	cmdPath, err := exec.LookPath(i.cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	program := filepath.Join(workDir, localProgramName)
	if err := os.WriteFile(program, []byte(source), 0o644); err != nil {
		return fmt.Errorf("write local program: %w", err)
	}

	cmd := exec.CommandContext(ctx, cmdPath, i.execArgs(program)...)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", i.cmd, localProgramName, err)
	}
	return nil
}

func (interpreter) execArgs(program string) []string {
	return []string{program}
}
