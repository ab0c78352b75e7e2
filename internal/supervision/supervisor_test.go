package supervision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bondifuzz/sbxbin-runner/internal/streams"
)

func newTestSupervisor(t *testing.T, spec LaunchSpec, latch *SignalLatch) *Supervisor {
	t.Helper()

	if spec.PollInterval == 0 {
		spec.PollInterval = 20 * time.Millisecond
	}

	s, err := New(Params{
		Spec:     spec,
		Bindings: nullBindings(t),
		Latch:    latch,
		Log:      zap.NewNop(),
	})
	require.NoError(t, err)

	return s
}

func TestNew_EmptyCommand_Fails(t *testing.T) {
	_, err := New(Params{
		Spec: LaunchSpec{PollInterval: time.Millisecond},
		Log:  zap.NewNop(),
	})

	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestNew_InvalidPollInterval_Fails(t *testing.T) {
	_, err := New(Params{
		Spec: LaunchSpec{Command: []string{"true"}},
		Log:  zap.NewNop(),
	})

	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestNew_NegativeDuration_Fails(t *testing.T) {
	_, err := New(Params{
		Spec: LaunchSpec{
			Command:      []string{"true"},
			PollInterval: time.Millisecond,
			RunTimeout:   -time.Second,
		},
		Log: zap.NewNop(),
	})

	assert.ErrorIs(t, err, ErrNegativeDuration)
}

func TestSupervisor_Run_Finished(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:    []string{"sh", "-c", "exit 7"},
		RunTimeout: 10 * time.Second,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, Finished, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 7, *outcome.ChildExitCode)
	assert.Equal(t, 0, outcome.Reason.ExitStatus())
}

func TestSupervisor_Run_Finished_SignalDeath(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:    []string{"sh", "-c", "kill -9 $$"},
		RunTimeout: 10 * time.Second,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, Finished, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 128+9, *outcome.ChildExitCode)
}

func TestSupervisor_Run_TimedOut(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sleep", "10"},
		RunTimeout:  200 * time.Millisecond,
		GracePeriod: 5 * time.Second,
	}, NewSignalLatch())

	start := time.Now()
	outcome := s.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 128+15, *outcome.ChildExitCode) // died from SIGTERM
	assert.Equal(t, 138, outcome.Reason.ExitStatus())

	// elapsed time is the run timeout give or take a poll interval,
	// the cooperative shutdown does not eat the full grace period
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSupervisor_Run_TimedOut_ChildIgnoresSigterm(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sh", "-c", `trap "" TERM; while :; do :; done`},
		RunTimeout:  200 * time.Millisecond,
		GracePeriod: 300 * time.Millisecond,
	}, NewSignalLatch())

	start := time.Now()
	outcome := s.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 128+9, *outcome.ChildExitCode) // escalated to SIGKILL

	// the full grace period was waited out before the kill
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
}

func TestSupervisor_Run_GracePeriodRespected(t *testing.T) {
	// the child exits quickly after SIGTERM, well within the grace
	// period, so it must never see the forced kill
	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sleep", "10"},
		RunTimeout:  100 * time.Millisecond,
		GracePeriod: 10 * time.Second,
	}, NewSignalLatch())

	start := time.Now()
	outcome := s.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 128+15, *outcome.ChildExitCode)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestSupervisor_Run_SignaledToStop(t *testing.T) {
	latch := NewSignalLatch()
	latch.Trip()

	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sleep", "10"},
		RunTimeout:  10 * time.Second,
		GracePeriod: 5 * time.Second,
	}, latch)

	outcome := s.Run(context.Background())

	assert.Equal(t, SignaledToStop, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 128+15, *outcome.ChildExitCode)
	assert.Equal(t, 130, outcome.Reason.ExitStatus())
}

func TestSupervisor_Run_ExitBeatsTimeout(t *testing.T) {
	// the child exits within the very poll interval in which the
	// run timeout expires: exit is checked first and wins
	s := newTestSupervisor(t, LaunchSpec{
		Command:      []string{"true"},
		PollInterval: 200 * time.Millisecond,
		RunTimeout:   200 * time.Millisecond,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, Finished, outcome.Reason)
	require.NotNil(t, outcome.ChildExitCode)
	assert.Equal(t, 0, *outcome.ChildExitCode)
}

func TestSupervisor_Run_ZeroTimeout_GrantsOnePollInterval(t *testing.T) {
	// a zero run timeout still gives the child one poll interval
	// to finish before escalation
	s := newTestSupervisor(t, LaunchSpec{
		Command:      []string{"true"},
		PollInterval: 500 * time.Millisecond,
		RunTimeout:   0,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, Finished, outcome.Reason)
}

func TestSupervisor_Run_ZeroTimeout_SlowChild_TimesOut(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sleep", "10"},
		RunTimeout:  0,
		GracePeriod: 5 * time.Second,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, TimedOut, outcome.Reason)
}

func TestSupervisor_Run_TimeoutWinsOverLatch(t *testing.T) {
	// when both deadline and latch fire within the same iteration,
	// the timeout is reported, deterministically
	latch := NewSignalLatch()
	latch.Trip()

	s := newTestSupervisor(t, LaunchSpec{
		Command:     []string{"sleep", "10"},
		RunTimeout:  0,
		GracePeriod: 5 * time.Second,
	}, latch)

	outcome := s.Run(context.Background())

	assert.Equal(t, TimedOut, outcome.Reason)
}

func TestSupervisor_Run_LaunchFailure(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{
		Command:    []string{"definitely-not-a-binary"},
		RunTimeout: time.Second,
	}, NewSignalLatch())

	outcome := s.Run(context.Background())

	assert.Equal(t, InternalError, outcome.Reason)
	assert.Nil(t, outcome.ChildExitCode)
	assert.Equal(t, 255, outcome.Reason.ExitStatus())
}

func TestSupervisor_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSupervisor(t, LaunchSpec{
		Command:    []string{"true"},
		RunTimeout: time.Second,
	}, NewSignalLatch())

	outcome := s.Run(ctx)

	assert.Equal(t, InternalError, outcome.Reason)
	assert.Nil(t, outcome.ChildExitCode)
}

func TestSupervisor_Run_MergedStreams(t *testing.T) {
	target := filepath.Join(t.TempDir(), "log")

	bind, err := streams.Resolve(streams.Spec{Stdout: &target, Stderr: &target})
	require.NoError(t, err)
	defer bind.Close()

	require.True(t, bind.Merged())

	s, err := New(Params{
		Spec: LaunchSpec{
			Command:      []string{"sh", "-c", "echo out; echo err 1>&2"},
			PollInterval: 20 * time.Millisecond,
			RunTimeout:   10 * time.Second,
		},
		Bindings: bind,
		Latch:    NewSignalLatch(),
		Log:      zap.NewNop(),
	})
	require.NoError(t, err)

	outcome := s.Run(context.Background())
	require.Equal(t, Finished, outcome.Reason)

	data, err := os.ReadFile(target)
	require.NoError(t, err)

	// both streams landed in the single target
	assert.Contains(t, string(data), "out")
	assert.Contains(t, string(data), "err")
}
