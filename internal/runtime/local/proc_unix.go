//go:build unix

package local

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// ownProcessGroup starts the step in a fresh process group and makes
// cancellation kill the whole group, so children of the shell die with it.
func ownProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
