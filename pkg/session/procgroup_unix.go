//go:build unix

package session

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the agent as the leader of a new process group so
// wrappers (sh, npx) and everything they spawn can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to every process in the agent's group.
// A group that is already gone is not an error.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
