//go:build !windows

package terminal

import (
	"os/exec"
	"syscall"
)

// processGroupID returns the process group id for the given pid, falling
// back to the pid itself (pty children are session leaders, so the two are
// normally equal).
func processGroupID(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}

// waitProcess waits for the pty process to exit and returns exit info.
// On Unix, cmd.Wait() inspects WaitStatus for signal information.
func waitProcess(cmd *exec.Cmd) (exitCode int, signalName string, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, "", nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1, "", err
	}
	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, "", err
	}
	if waitStatus.Signaled() {
		return 128 + int(waitStatus.Signal()), waitStatus.Signal().String(), err
	}
	return waitStatus.ExitStatus(), "", err
}
