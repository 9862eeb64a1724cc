//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup terminates the process. Windows has no signal delivery to
// groups, so every signal is treated as a kill.
func killProcessGroup(pid int, _ syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	return nil
}
