//go:build windows

package dap

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup kills the adapter process. Windows has no Unix-style
// process groups; the adapter runs in its own console group instead.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
