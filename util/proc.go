package util

import (
	"os/exec"
	"strconv"
)

// IsProcessAlive reports whether a process with the given pid is
// known to the OS. Used by tests to confirm a supervised child is
// really gone.
func IsProcessAlive(pid int) bool {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid))

	err := cmd.Run()
	if err, ok := err.(*exec.ExitError); ok {
		// ps exits zero when the process is found
		return err.ProcessState.ExitCode() == 0
	}
	if err != nil {
		return false
	}

	return true
}
