package supervision

import (
	"context"
	"fmt"

	"github.com/Bondifuzz/sbxbin-runner/internal/streams"
	"go.uber.org/zap"
)

// Supervisor launches a single child process and monitors it until
// one of three terminal conditions fires: the child exits, the run
// timeout elapses, or an external termination signal is latched.
// In the latter two cases the child is terminated by a two-phase
// graceful-then-forced shutdown before the supervisor returns.
type Supervisor struct {
	spec     LaunchSpec
	bindings *streams.Bindings
	latch    *SignalLatch

	log *zap.Logger
}

// Params holds the dependencies of a supervisor.
type Params struct {
	// Spec is the validated launch configuration.
	Spec LaunchSpec

	// Bindings are the resolved stream handles for the child.
	Bindings *streams.Bindings

	// Latch is the termination signal latch, armed by the caller
	// before Run is invoked.
	Latch *SignalLatch

	// Log is the logger to use for the supervisor.
	Log *zap.Logger
}

func New(params Params) (*Supervisor, error) {
	if err := params.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid launch spec: %w", err)
	}

	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	return &Supervisor{
		spec:     params.Spec,
		bindings: params.Bindings,
		latch:    params.Latch,
		log:      params.Log.Named("supervisor"),
	}, nil
}

// Run spawns the child and drives the monitoring loop to a final
// outcome. The child is guaranteed to be terminated before Run
// returns in all non-Finished cases. Run never returns an error:
// every failure degrades to an InternalError outcome with no child
// exit code, after diagnostics have been logged.
func (s *Supervisor) Run(ctx context.Context) Outcome {
	if err := ctx.Err(); err != nil {
		s.log.Error("context cancelled before launch", zap.Error(err))
		return Outcome{Reason: InternalError}
	}

	s.log.Info("starting process",
		zap.Strings("command", s.spec.Command),
		zap.String("cwd", s.spec.Cwd),
	)

	p, err := startProc(s.spec, s.bindings, s.log)
	if err != nil {
		s.log.Error("failed to start process", zap.Error(err))
		return Outcome{Reason: InternalError}
	}

	return s.monitor(p)
}

// monitor is the supervision state machine. Each iteration performs
// one bounded wait of PollInterval, then decides in a fixed order:
//
//  1. child exited: decode and report Finished. Exit is checked
//     first, so a child exiting in the same iteration the timeout
//     expires is still reported as Finished.
//  2. run timeout budget exhausted: shut down, report TimedOut.
//  3. signal latch set: shut down, report SignaledToStop. Timeout
//     deliberately wins over the latch when both fire in the same
//     iteration.
//
// A RunTimeout of zero still grants the child one poll interval,
// as a consequence of the ordering rather than a special case.
func (s *Supervisor) monitor(p *proc) Outcome {
	budget := s.spec.RunTimeout

	for {
		if p.Poll(s.spec.PollInterval) {
			code, err := p.ExitStatus()
			if err != nil {
				s.log.Error("failed to get child exit code", zap.Error(err))
				return Outcome{Reason: InternalError}
			}
			return Outcome{Reason: Finished, ChildExitCode: &code}
		}

		budget -= s.spec.PollInterval
		if budget <= 0 {
			s.log.Warn("run timeout elapsed, shutting down")
			return s.stopWithReason(p, TimedOut)
		}

		if s.latch.Set() {
			s.log.Warn("termination signal caught, shutting down")
			return s.stopWithReason(p, SignaledToStop)
		}
	}
}

func (s *Supervisor) stopWithReason(p *proc, reason ExitReason) Outcome {
	code, err := s.shutdown(p)
	if err != nil {
		s.log.Error("shutdown failed", zap.Error(err))
		return Outcome{Reason: InternalError}
	}

	return Outcome{Reason: reason, ChildExitCode: &code}
}

// shutdown is the two-phase escalation protocol: send SIGTERM and
// give the child GracePeriod to exit on its own; if it is still
// running, send SIGKILL and wait for the OS to confirm. A failure
// to deliver either signal aborts the attempt, it is not retried.
func (s *Supervisor) shutdown(p *proc) (int, error) {
	if err := p.Terminate(); err != nil {
		return 0, err
	}

	if !p.Poll(s.spec.GracePeriod) {
		s.log.Warn("process ignored termination signal, killing it",
			zap.Duration("grace_period", s.spec.GracePeriod),
		)

		if err := p.Kill(); err != nil {
			return 0, err
		}

		// SIGKILL cannot be caught, this wait is fast in practice
		p.Wait()
	}

	return p.ExitStatus()
}
