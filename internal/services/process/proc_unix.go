//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group so the whole
// tree can be signalled at once.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup signals the process group led by pid, falling back to the
// process itself.
func killProcessGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		if err2 := syscall.Kill(pid, sig); err2 != nil && err2 != syscall.ESRCH {
			return fmt.Errorf("failed to signal process group -%d: %v, also failed to signal process %d: %v", pid, err, pid, err2)
		}
	}
	return nil
}
