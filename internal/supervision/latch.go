package supervision

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// SignalLatch records that an external termination request arrived.
// It is set asynchronously by OS signal delivery and polled by the
// supervisor each loop iteration; reading it never blocks. The
// latch is dependency-injected so tests can trip it directly
// without simulating real signal delivery.
type SignalLatch struct {
	tripped atomic.Bool
	ch      chan os.Signal
}

func NewSignalLatch() *SignalLatch {
	return &SignalLatch{}
}

// Arm registers the latch for SIGINT and SIGTERM. It must be
// called before the child is spawned, so no early signal can be
// missed. The handler goroutine only performs an atomic store.
func (l *SignalLatch) Arm() {
	if l.ch != nil {
		return
	}

	l.ch = make(chan os.Signal, 1)
	signal.Notify(l.ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		for range l.ch {
			l.tripped.Store(true)
		}
	}()
}

// Disarm unregisters the signal handlers. The latch keeps its
// value.
func (l *SignalLatch) Disarm() {
	if l.ch == nil {
		return
	}

	signal.Stop(l.ch)
	close(l.ch)
	l.ch = nil
}

// Trip sets the latch by hand.
func (l *SignalLatch) Trip() {
	l.tripped.Store(true)
}

// Set reports whether a termination request arrived.
func (l *SignalLatch) Set() bool {
	return l.tripped.Load()
}
