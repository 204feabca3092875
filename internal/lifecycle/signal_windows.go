//go:build windows

package lifecycle

import (
	"os"
)

// systemSignaller signals real processes. Windows has no process groups or
// SIGTERM; both signals terminate the single process.
type systemSignaller struct{}

func (systemSignaller) Terminate(pgid int) error {
	proc, err := os.FindProcess(pgid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (systemSignaller) Kill(pgid int) error {
	proc, err := os.FindProcess(pgid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (systemSignaller) Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func (systemSignaller) GroupID(pid int) (int, bool) {
	if !(systemSignaller{}).Alive(pid) {
		return 0, false
	}
	return pid, true
}
