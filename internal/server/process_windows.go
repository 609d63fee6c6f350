//go:build windows

package server

import (
	"os/exec"
	"syscall"
)

const _CREATE_NEW_PROCESS_GROUP = 0x00000200

// setPlatformProcessAttrs starts the server in its own process group; it
// is stopped through its console, not by console control events.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: _CREATE_NEW_PROCESS_GROUP,
	}
}
