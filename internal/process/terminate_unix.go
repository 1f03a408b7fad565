//go:build unix

package process

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// groupPollInterval is how often a terminated group is checked for exit.
const groupPollInterval = 20 * time.Millisecond

// configureTermination runs the program in its own process group so that
// cancellation reaches worker processes it spawns. Cancel sends SIGTERM to
// the group; the returned reap must be called once Run returns and sends
// SIGKILL to whatever is left of the group when grace has passed since the
// SIGTERM. exec's own WaitDelay kill only reaches the group leader.
func configureTermination(cmd *exec.Cmd, grace time.Duration) (reap func()) {
	var termAt atomic.Pointer[time.Time]

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		now := time.Now()
		termAt.Store(&now)
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	return func() {
		sent := termAt.Load()
		if sent == nil || cmd.Process == nil {
			return
		}
		pgid := cmd.Process.Pid
		deadline := sent.Add(grace)
		for time.Now().Before(deadline) {
			if errors.Is(syscall.Kill(-pgid, 0), syscall.ESRCH) {
				return
			}
			time.Sleep(groupPollInterval)
		}
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}
