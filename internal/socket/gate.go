package socket

import (
	"context"
	"sync"
	"time"
)

// Gate is a one-shot broadcast signal with two states, armed and released.
// Once released it stays released. Any number of goroutines may wait on it.
type Gate struct {
	ch   chan struct{}
	once sync.Once
}

// NewGate returns an armed gate
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Release releases the gate and wakes every waiter.
// It reports whether this call performed the release; later calls are no-ops.
func (g *Gate) Release() bool {
	released := false
	g.once.Do(func() {
		close(g.ch)
		released = true
	})
	return released
}

// Released reports whether the gate has been released
func (g *Gate) Released() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the gate is released
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Wait blocks until the gate is released or the timeout elapses and reports
// whether the gate was released. A zero or negative timeout polls once.
func (g *Gate) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return g.Released()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.ch:
		return true
	case <-timer.C:
		return g.Released()
	}
}

// WaitContext blocks until the gate is released or ctx is done
func (g *Gate) WaitContext(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
