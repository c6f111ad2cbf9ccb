//go:build windows

package workspace

import "os/exec"

func shellCommand() (string, string) {
	return "cmd.exe", "/c"
}

func configureProcessGroup(cmd *exec.Cmd) {}
