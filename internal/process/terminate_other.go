//go:build !unix

package process

import (
	"os/exec"
	"time"
)

func configureTermination(*exec.Cmd, time.Duration) func() { return func() {} }
