package session

import (
	"context"
	"sync"
)

// Coordinator is a single-slot lock guarding token refreshes. Unlike a plain
// mutex, callers can wait for the slot to become free without taking it.
type Coordinator struct {
	mu   sync.Mutex
	busy bool
	done chan struct{}
}

// NewCoordinator returns an unlocked coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// TryAcquire takes the slot if it is free and reports whether it did.
func (c *Coordinator) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return false
	}
	c.busy = true
	c.done = make(chan struct{})
	return true
}

// Release frees the slot and wakes every waiter. Releasing a free slot is a no-op.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.busy {
		return
	}
	c.busy = false
	close(c.done)
	c.done = nil
}

// Refreshing reports whether the slot is currently held.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// WaitUntilFree blocks until the slot is free or ctx is done.
func (c *Coordinator) WaitUntilFree(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.busy {
			c.mu.Unlock()
			return nil
		}
		done := c.done
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}
