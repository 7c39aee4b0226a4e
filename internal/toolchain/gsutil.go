package toolchain

import (
	"context"
	"fmt"
	"strings"
)

type gsutil struct {
	cmd string
}

// NewUploader copies files with `<cmd> cp src dst`.
func NewUploader(cmd string) Uploader {
	if cmd == "" {
		cmd = "gsutil"
	}
	return gsutil{cmd: cmd}
}

func (g gsutil) Upload(ctx context.Context, src, dst string) (Result, error) {
	if !strings.HasPrefix(dst, "gs://") {
		return Result{Command: g.cmd, ExitCode: -1}, fmt.Errorf("destination %q is not a gs:// URI", dst)
	}
	return run(ctx, "", g.cmd, g.copyArgs(src, dst)...)
}

func (gsutil) copyArgs(src, dst string) []string {
	return []string{"cp", src, dst}
}
