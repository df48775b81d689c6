package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// maxStderrBytes bounds the stderr kept per invocation. Long encodes with
// -stats write a line per second; only the tail matters for diagnostics.
const maxStderrBytes = 64 << 10

// Command is one subprocess invocation. Name is the binary (resolved via
// PATH); Args excludes it.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration // 0 = bounded only by ctx.
	Stderr  io.Writer     // Optional live copy of stderr (progress display).
}

// String renders the command line for debug logs.
func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ExecResult holds the outcome of a single invocation.
type ExecResult struct {
	Stdout   []byte
	Stderr   string // Tail of stderr, at most maxStderrBytes.
	ExitCode int    // -1 when the process did not exit normally.
	TimedOut bool
	Elapsed  time.Duration
	Err      error
}

// OK reports whether the process ran and exited 0.
func (r ExecResult) OK() bool { return r.Err == nil }

// Runner executes a Command. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, c Command) ExecResult
}

// RunnerFunc adapts an ordinary function to the [Runner] interface.
type RunnerFunc func(ctx context.Context, c Command) ExecResult

// Run calls f(ctx, c).
func (f RunnerFunc) Run(ctx context.Context, c Command) ExecResult { return f(ctx, c) }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks on I/O after the process is
	// killed. Default 5s.
	WaitDelay time.Duration
}

// NewExecRunner returns the production Runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

// Run starts c.Name in its own process group and waits for it. When c.Timeout
// elapses or ctx is cancelled the whole group is killed.
func (r *ExecRunner) Run(ctx context.Context, c Command) ExecResult {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	var stdout bytes.Buffer
	stderr := newTailBuffer(maxStderrBytes)
	cmd.Stdout = &stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, c.Stderr)
	} else {
		cmd.Stderr = stderr
	}

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
		Err:     err,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}
	return res
}

// tailBuffer is an io.Writer that keeps only the last cap bytes written.
type tailBuffer struct {
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{buf: make([]byte, 0, 4096), cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.cap {
		t.buf = append(t.buf[:0], p[n-t.cap:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.cap; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

// TailLines returns at most n trailing non-empty lines of s.
func TailLines(s string, n int) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r "); l != "" {
			out = append(out, l)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
