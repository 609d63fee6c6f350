//go:build !windows

package server

import (
	"os/exec"
	"syscall"
)

// setPlatformProcessAttrs starts the server in its own process group; it
// is stopped through its console, not by signals aimed at the bridge.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
