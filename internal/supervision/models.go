package supervision

import (
	"fmt"
	"time"
)

var (
	ErrEmptyCommand     = fmt.Errorf("empty command")
	ErrInvalidInterval  = fmt.Errorf("invalid poll interval")
	ErrNegativeDuration = fmt.Errorf("negative duration")
	ErrStatusDecode     = fmt.Errorf("failed to decode child exit status")
	ErrStillRunning     = fmt.Errorf("child process still running")
)

// ExitReason describes why supervision ended.
type ExitReason int

const (
	// Finished means the child exited on its own before the run
	// timeout elapsed and before any termination signal arrived.
	Finished ExitReason = iota

	// TimedOut means the run timeout elapsed and the child was
	// terminated by the shutdown protocol.
	TimedOut

	// SignaledToStop means an external termination signal was
	// caught and the child was terminated by the shutdown protocol.
	SignaledToStop

	// InternalError means supervision failed before a child exit
	// status could be retrieved.
	InternalError
)

func (r ExitReason) String() string {
	switch r {
	case Finished:
		return "finished"
	case TimedOut:
		return "timeout"
	case SignaledToStop:
		return "terminated"
	case InternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ExitStatus maps the exit reason to the process exit status
// reported to the caller. The timeout and terminate statuses
// follow the 128+signo shell convention (SIGUSR1 and SIGINT).
func (r ExitReason) ExitStatus() int {
	switch r {
	case Finished:
		return 0
	case TimedOut:
		return 138
	case SignaledToStop:
		return 130
	default:
		return 255
	}
}

// Outcome is the result of a supervision run. ChildExitCode is
// nil only when an internal error occurred before or during exit
// status retrieval.
type Outcome struct {
	Reason        ExitReason
	ChildExitCode *int
}

// EnvVar is a single environment override applied on top of
// the inherited environment. Overrides win on name collision.
type EnvVar struct {
	Name  string `conf:"name"`
	Value string `conf:"value"`
}

// LaunchSpec is the validated launch configuration for the child
// process. It is immutable once constructed.
type LaunchSpec struct {
	// Cwd is the working directory for the child process.
	Cwd string

	// Command is the argv of the child process. Must be non-empty.
	Command []string

	// Env is the list of environment overrides, merged over the
	// inherited environment.
	Env []EnvVar

	// PollInterval is the bounded wait used by each iteration of
	// the monitoring loop. Must be positive.
	PollInterval time.Duration

	// RunTimeout is the total time the child is allowed to run
	// before the shutdown protocol starts.
	RunTimeout time.Duration

	// GracePeriod is the time the child is given to exit after
	// the cooperative termination signal, before the forced kill.
	GracePeriod time.Duration
}

// Validate checks the launch spec invariants.
func (s LaunchSpec) Validate() error {
	if len(s.Command) == 0 {
		return ErrEmptyCommand
	}
	if s.PollInterval <= 0 {
		return ErrInvalidInterval
	}
	if s.RunTimeout < 0 || s.GracePeriod < 0 {
		return ErrNegativeDuration
	}
	return nil
}
