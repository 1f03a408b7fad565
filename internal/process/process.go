// Package process runs the external fine-tune and inference programs.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/loraci/internal/logfields"
)

const (
	DefaultTailLines   = 200
	DefaultGracePeriod = 10 * time.Second
)

// Command describes one program invocation.
type Command struct {
	Step    string // label used in logs
	Program string
	Args    []string
	Dir     string
	Env     map[string]string // added to the inherited environment
	Timeout time.Duration     // 0 = none
}

// String renders the command line for logs and reports.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished (or never started) process.
type Result struct {
	ExitCode int
	Duration time.Duration
	// Tail holds the last lines of combined stdout/stderr.
	Tail     []string
	TimedOut bool
	Canceled bool
}

// Output joins the captured tail.
func (r Result) Output() string { return strings.Join(r.Tail, "\n") }

// ErrTimeout is returned when a command exceeds its timeout.
var ErrTimeout = errors.New("process timed out")

// Executor runs commands. A non-zero exit is reported through
// Result.ExitCode with a nil error; errors mean the process could not be
// started, timed out or was canceled.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct {
	// Output, when set, receives the raw combined output.
	Output      io.Writer
	TailLines   int
	GracePeriod time.Duration
}

// NewOSExecutor returns an executor with default tail size and grace period.
func NewOSExecutor(output io.Writer) *OSExecutor {
	return &OSExecutor{Output: output, TailLines: DefaultTailLines, GracePeriod: DefaultGracePeriod}
}

// Run starts the program and waits for it. Cancellation sends SIGTERM to
// the process group and SIGKILL to any member still alive after the grace
// period; Run returns only once that has happened.
func (e *OSExecutor) Run(ctx context.Context, c Command) (Result, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	tailLines := e.TailLines
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	grace := e.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	tail := newTailWriter(tailLines, c.Step, e.Output)

	// #nosec G204 -- program and args come from the runner configuration
	cmd := exec.CommandContext(runCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.WaitDelay = grace
	reap := configureTermination(cmd, grace)

	slog.Info("Starting process",
		logfields.Step(c.Step),
		slog.String("command", c.String()),
		logfields.Path(c.Dir))

	start := time.Now()
	err := cmd.Run()
	if runCtx.Err() != nil {
		reap()
	}
	tail.Flush()
	res := Result{ExitCode: -1, Duration: time.Since(start), Tail: tail.Lines()}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		res.Canceled = true
		return res, fmt.Errorf("%s: %w", c.Step, ctx.Err())
	case runCtx.Err() != nil:
		res.TimedOut = true
		return res, fmt.Errorf("%s after %s: %w", c.Step, c.Timeout, ErrTimeout)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("start %s: %w", c.Program, err)
	}

	slog.Info("Process finished",
		logfields.Step(c.Step),
		logfields.ExitCode(res.ExitCode),
		logfields.Duration(res.Duration))
	return res, nil
}

// mergeEnv overlays extra on base, keeping the output order stable.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		out = append(out, k+"="+extra[k])
	}
	return out
}
