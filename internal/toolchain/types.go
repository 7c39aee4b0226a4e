package toolchain

import (
	"context"
	"io"
	"time"
)

// Result describes one finished external command.
type Result struct {
	Command  string
	Args     []string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Packager builds a source distribution of the staged package in dir.
type Packager interface {
	Package(ctx context.Context, dir string) (Result, error)
}

// Uploader copies a local file to a cloud storage location.
type Uploader interface {
	Upload(ctx context.Context, src, dst string) (Result, error)
}

// Interpreter runs a program locally, streaming its output.
type Interpreter interface {
	Exec(ctx context.Context, workDir, source string, stdout, stderr io.Writer) error
}
