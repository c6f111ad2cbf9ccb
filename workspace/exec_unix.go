//go:build !windows

package workspace

import (
	"os/exec"
	"syscall"
)

func shellCommand() (string, string) {
	if path, err := exec.LookPath("bash"); err == nil {
		return path, "-c"
	}
	return "/bin/sh", "-c"
}

// configureProcessGroup starts the command in its own process group and makes
// cancellation kill the whole group, so children spawned by the shell do not
// outlive the command.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
