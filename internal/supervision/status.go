package supervision

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// decodeWaitStatus normalizes the error returned by the wait on
// the child into a single exit code. A normal exit preserves its
// code; a signal-caused termination maps to 128+signo, the shell
// convention that keeps signal deaths out of the 0-127 range. Any
// other status form is a decode failure.
func decodeWaitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fmt.Errorf("unhandled error in process wait: %w", err)
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 0, ErrStatusDecode
	}

	switch {
	case status.Exited():
		return status.ExitStatus(), nil
	case status.Signaled():
		return 128 + int(status.Signal()), nil
	default:
		return 0, ErrStatusDecode
	}
}
