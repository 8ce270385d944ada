//go:build unix

package transport

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the subprocess in its own process group, so that a
// kill reaches helper processes the engine forked.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		// Fall back to the single process if the group is gone.
		return cmd.Process.Kill()
	}
	return nil
}
