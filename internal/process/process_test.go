//go:build unix

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) Command {
	return Command{Step: "test", Program: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunExitCodes(t *testing.T) {
	e := NewOSExecutor(nil)

	res, err := e.Run(t.Context(), sh("echo ok"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"ok"}, res.Tail)

	res, err = e.Run(t.Context(), sh("echo failing >&2; exit 3"))
	require.NoError(t, err, "non-zero exit is not an execution error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "failing", res.Output())
}

func TestRunPassesArgsVerbatim(t *testing.T) {
	e := NewOSExecutor(nil)
	cmd := Command{Step: "args", Program: "/bin/sh", Args: []string{"-c", `printf '%s\n' "$@"`, "sh", "What is m-LoRA?", "Multi-LoRA"}}

	res, err := e.Run(t.Context(), cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"What is m-LoRA?", "Multi-LoRA"}, res.Tail)
}

func TestRunDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LORACI_INHERITED", "base")
	cmd := sh(`pwd; echo "$LORACI_INHERITED $LORACI_EXTRA"`)
	cmd.Dir = dir
	cmd.Env = map[string]string{"LORACI_EXTRA": "extra", "LORACI_INHERITED": "override"}

	res, err := NewOSExecutor(nil).Run(t.Context(), cmd)
	require.NoError(t, err)
	require.Len(t, res.Tail, 2)
	assert.True(t, strings.HasSuffix(res.Tail[0], dir[strings.LastIndex(dir, "/"):]))
	assert.Equal(t, "override extra", res.Tail[1])
}

func TestRunKeepsTailAndMirrorsOutput(t *testing.T) {
	var sink bytes.Buffer
	e := &OSExecutor{Output: &sink, TailLines: 3}

	res, err := e.Run(t.Context(), sh("for i in 1 2 3 4 5; do echo line$i; done; printf partial"))
	require.NoError(t, err)
	assert.Equal(t, []string{"line4", "line5", "partial"}, res.Tail)
	assert.Contains(t, sink.String(), "line1\n")
}

func TestRunMissingProgram(t *testing.T) {
	res, err := NewOSExecutor(nil).Run(t.Context(), Command{Step: "x", Program: "/nonexistent/python"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	cmd := sh("sleep 5")
	cmd.Timeout = 50 * time.Millisecond
	e := &OSExecutor{GracePeriod: 100 * time.Millisecond}

	start := time.Now()
	res, err := e.Run(t.Context(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunCancelTerminatesProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)
	e := &OSExecutor{GracePeriod: 100 * time.Millisecond}

	start := time.Now()
	res, err := e.Run(ctx, sh("sleep 5"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, res.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second)
}

// alive reports whether pid is a running (non-zombie) process.
func alive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}

func TestRunCancelKillsWorkerIgnoringTerm(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "worker.pid")
	script := fmt.Sprintf(`sh -c 'trap "" TERM; echo $$ > %s; exec sleep 30' & wait`, pidFile)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			if b, err := os.ReadFile(pidFile); err == nil && len(strings.TrimSpace(string(b))) > 0 {
				time.Sleep(100 * time.Millisecond)
				cancel()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	e := &OSExecutor{GracePeriod: 200 * time.Millisecond}
	res, err := e.Run(ctx, sh(script))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Canceled)

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !alive(pid) }, 2*time.Second, 20*time.Millisecond,
		"worker %d survived cancel and grace period", pid)
}

func TestCommandString(t *testing.T) {
	c := Command{Program: "python", Args: []string{"inference.py", "llama", "What is m-LoRA?"}}
	assert.Equal(t, `python inference.py llama "What is m-LoRA?"`, c.String())
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, got)
	assert.Equal(t, []string{"A=1"}, mergeEnv([]string{"A=1"}, nil))
}

func TestTailWriterSplitsLongLines(t *testing.T) {
	w := newTailWriter(10, "t", nil)
	_, _ = fmt.Fprint(w, strings.Repeat("x", maxLine+5))
	w.Flush()
	lines := w.Lines()
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], maxLine)
	assert.Len(t, lines[1], 5)
}
