package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Kernel is an Interpreter that keeps program state between calls, so each
// call only needs the new fragment.
type Kernel interface {
	Interpreter
	io.Closer
}

// ErrKernelExited is returned when the interpreter process dies mid fragment.
// The next Exec starts a fresh process with empty state.
var ErrKernelExited = errors.New("interpreter exited")

const kernelMarker = "\x1e__mlmagic_done__"

// kernelDriver reads length-prefixed fragments from stdin and executes them in
// one namespace. After each fragment it writes the marker to both streams.
const kernelDriver = `import sys, traceback
MARK = "\x1e__mlmagic_done__"
ns = {"__name__": "__main__"}
src = sys.stdin.buffer
while True:
    header = src.readline()
    if not header:
        break
    code = src.read(int(header)).decode("utf-8")
    status = "ok"
    try:
        exec(compile(code, "<cell>", "exec"), ns)
    except BaseException:
        traceback.print_exc()
        status = "error"
    sys.stderr.write(MARK + "\n")
    sys.stderr.flush()
    sys.stdout.write(MARK + " " + status + "\n")
    sys.stdout.flush()
`

type kernelEvent struct {
	text   string
	done   bool
	status string
}

type kernelProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout chan kernelEvent
	stderr chan kernelEvent
	quit   chan struct{}
}

type pythonKernel struct {
	cmd string

	mu   sync.Mutex
	proc *kernelProc
}

// NewKernel runs fragments in one long-lived interpreter process, started on
// the first Exec with workDir as its working directory.
func NewKernel(cmd string) Kernel {
	if cmd == "" {
		cmd = "python3"
	}
	return &pythonKernel{cmd: cmd}
}

func (k *pythonKernel) Exec(ctx context.Context, workDir, source string, stdout, stderr io.Writer) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.proc == nil {
		proc, err := k.start(workDir)
		if err != nil {
			return err
		}
		k.proc = proc
	}
	proc := k.proc

	if _, err := fmt.Fprintf(proc.stdin, "%d\n%s", len(source), source); err != nil {
		k.stop()
		return fmt.Errorf("send fragment: %w", err)
	}

	outCh, errCh := proc.stdout, proc.stderr
	status := ""
	for outCh != nil || errCh != nil {
		select {
		case ev, ok := <-outCh:
			if !ok {
				k.stop()
				return ErrKernelExited
			}
			if ev.done {
				status = ev.status
				outCh = nil
				continue
			}
			_, _ = io.WriteString(stdout, ev.text)
		case ev, ok := <-errCh:
			if !ok {
				k.stop()
				return ErrKernelExited
			}
			if ev.done {
				errCh = nil
				continue
			}
			_, _ = io.WriteString(stderr, ev.text)
		case <-ctx.Done():
			k.stop()
			return ctx.Err()
		}
	}

	if status != "ok" {
		return fmt.Errorf("%s: fragment raised an exception", k.cmd)
	}
	return nil
}

func (k *pythonKernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stop()
	return nil
}

func (k *pythonKernel) start(workDir string) (*kernelProc, error) {
	cmdPath, err := exec.LookPath(k.cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	cmd := exec.Command(cmdPath, "-u", "-c", kernelDriver)
	cmd.Dir = workDir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", k.cmd, err)
	}

	proc := &kernelProc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: make(chan kernelEvent),
		stderr: make(chan kernelEvent),
		quit:   make(chan struct{}),
	}
	go readKernelStream(stdout, proc.stdout, proc.quit)
	go readKernelStream(stderr, proc.stderr, proc.quit)
	return proc, nil
}

// stop kills the process. Callers hold k.mu.
func (k *pythonKernel) stop() {
	if k.proc == nil {
		return
	}
	proc := k.proc
	k.proc = nil

	close(proc.quit)
	_ = proc.stdin.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
	_ = proc.cmd.Wait()
}

func readKernelStream(r io.Reader, ch chan<- kernelEvent, quit <-chan struct{}) {
	defer close(ch)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			for _, ev := range splitKernelLine(line) {
				select {
				case ch <- ev:
				case <-quit:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// splitKernelLine separates output text from the completion marker. Output
// without a trailing newline shares its line with the marker.
func splitKernelLine(line string) []kernelEvent {
	idx := strings.Index(line, kernelMarker)
	if idx < 0 {
		return []kernelEvent{{text: line}}
	}
	events := make([]kernelEvent, 0, 2)
	if idx > 0 {
		events = append(events, kernelEvent{text: line[:idx]})
	}
	status := strings.TrimSpace(line[idx+len(kernelMarker):])
	return append(events, kernelEvent{done: true, status: status})
}
