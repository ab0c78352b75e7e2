package supervision

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/Bondifuzz/sbxbin-runner/internal/streams"
	"go.uber.org/zap"
)

// proc is the handle of the supervised child process. It is owned
// exclusively by the supervisor; all signal sends and waits go
// through it.
type proc struct {
	pid         int
	termination chan struct{}
	waitErr     error

	log *zap.Logger
}

func startProc(spec LaunchSpec, bind *streams.Bindings, log *zap.Logger) (*proc, error) {
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)

	cmd.Dir = spec.Cwd
	cmd.Env = mergedEnv(spec.Env)
	cmd.Stdin = bind.Stdin()
	cmd.Stdout = bind.Stdout()
	cmd.Stderr = bind.Stderr()

	// place the child in its own process group, so signals sent
	// by the supervisor reach the whole tree and a TTY-delivered
	// Ctrl+C is not forwarded to the child twice
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &proc{
		pid:         cmd.Process.Pid,
		termination: make(chan struct{}),
		log:         log.Named("proc").With(zap.Int("pid", cmd.Process.Pid)),
	}

	go func() {
		// block until the process exits, then publish the raw
		// wait status by closing the termination channel
		p.waitErr = cmd.Wait()
		close(p.termination)
	}()

	return p, nil
}

// mergedEnv merges the overrides over the inherited environment.
// Later entries win on duplicate names, so appending the overrides
// is all it takes.
func mergedEnv(overrides []EnvVar) []string {
	env := os.Environ()
	for _, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", v.Name, v.Value))
	}
	return env
}

// Pid returns the OS process id of the child.
func (p *proc) Pid() int {
	return p.pid
}

// Poll waits up to timeout for the child to exit and reports
// whether it did. This is the only suspension point of the
// monitoring loop.
func (p *proc) Poll(timeout time.Duration) bool {
	select {
	case <-p.termination:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Wait blocks until the child has terminated.
func (p *proc) Wait() {
	<-p.termination
}

// Terminate sends the cooperative termination signal (SIGTERM) to
// the child's process group. Sending to an already-exited child is
// a no-op, not an error.
func (p *proc) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// Kill sends the forced kill signal (SIGKILL) to the child's
// process group. SIGKILL cannot be caught or ignored.
func (p *proc) Kill() error {
	return p.signal(syscall.SIGKILL)
}

func (p *proc) signal(sig syscall.Signal) error {
	select {
	case <-p.termination:
		p.log.Debug("process already terminated", zap.Stringer("signal", sig))
		return nil
	default:
	}

	p.log.Info("sending signal", zap.Stringer("signal", sig))

	if err := p.sendSignal(sig); err != nil {
		return fmt.Errorf("failed to send %s to pid %d: %w", sig, p.pid, err)
	}

	return nil
}

func (p *proc) sendSignal(sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(p.pid); err == nil {
		// negative pid signals the whole process group
		return syscall.Kill(-pgid, sig)
	}
	return syscall.Kill(p.pid, sig)
}

// ExitStatus decodes the child's termination status into a single
// non-negative integer: a normal exit keeps its code, a
// signal-caused death maps to 128+signo. It must only be called
// after the child has terminated.
func (p *proc) ExitStatus() (int, error) {
	select {
	case <-p.termination:
	default:
		return 0, ErrStillRunning
	}

	return decodeWaitStatus(p.waitErr)
}
