//go:build !windows

package lifecycle

import (
	"syscall"
)

// systemSignaller signals real processes. Negative pids address the whole
// process group; agent children are session leaders, so group signals reach
// any helpers they forked.
type systemSignaller struct{}

func (systemSignaller) Terminate(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

func (systemSignaller) Kill(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// Alive probes a pid with signal 0, which performs the permission and
// existence checks without delivering anything.
func (systemSignaller) Alive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// GroupID reports the current process group of pid. A mismatch with a
// persisted record means the pid was reused by an unrelated process.
func (systemSignaller) GroupID(pid int) (int, bool) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0, false
	}
	return pgid, true
}
