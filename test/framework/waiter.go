package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter polls a condition at a fixed interval until it holds or a
// timeout elapses, trimmed from the teacher's Waiter to the
// domain-agnostic core (the teacher's cluster/service/task-specific
// wait helpers don't apply here — spec §8's scenarios poll agent/
// messenger/execution state directly instead of a query API).
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and poll interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a Waiter with a 10s timeout and 20ms interval,
// suited to loopback-local process coordination.
func DefaultWaiter() *Waiter {
	return NewWaiter(10*time.Second, 20*time.Millisecond)
}

// WaitFor blocks until condition returns true or the timeout expires.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if condition() {
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
