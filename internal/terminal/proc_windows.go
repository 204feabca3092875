//go:build windows

package terminal

import (
	"os/exec"
)

// processGroupID returns the pid itself; Windows has no Unix process groups.
func processGroupID(pid int) int {
	return pid
}

// waitProcess waits for the pty process to exit and returns exit info.
func waitProcess(cmd *exec.Cmd) (exitCode int, signalName string, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, "", nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), "", err
	}
	return 1, "", err
}
