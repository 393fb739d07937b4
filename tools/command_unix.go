//go:build unix

package tools

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// detach starts the command in a new session: its own process group and no
// controlling terminal.
func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}

// killGroup kills the process and all its children.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
