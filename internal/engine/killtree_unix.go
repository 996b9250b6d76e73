//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

const shellPath = "/bin/sh"

// setProcGroup puts the command in its own process group so the whole
// process tree can be signalled at once.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree signals the process group first, then the process itself.
// Best-effort: errors mean the targets are already gone.
func killTree(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
}
