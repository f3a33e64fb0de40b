package daemonclient

import (
	"os/exec"
	"syscall"
)

// detach configures cmd to start in a new session, detached from the CLI's
// controlling terminal and process group, so the daemon keeps running
// after the CLI exits (spec §9: "Detached spawn").
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
