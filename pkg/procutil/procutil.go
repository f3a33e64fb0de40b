// Package procutil provides the liveness probe shared by pkg/pidfile and
// pkg/filelock: both need to tell a live holder PID from a crashed one
// before deciding to steal its lock/pidfile.
package procutil

import (
	"os"
	"syscall"
)

// Alive reports whether a process with the given PID is currently running.
// It sends signal 0, which performs error checking (existence, permission)
// without actually delivering a signal — the standard POSIX liveness probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// ESRCH: no such process. EPERM: process exists but we can't signal it —
	// still counts as alive for our purposes (it holds the resource).
	return err == syscall.EPERM
}
