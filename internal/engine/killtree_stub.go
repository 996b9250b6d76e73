//go:build !unix

package engine

import (
	"os"
	"os/exec"
)

const shellPath = "sh"

func setProcGroup(cmd *exec.Cmd) {}

// killTree kills only the direct process on platforms without process
// groups; descendants may survive.
func killTree(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}
