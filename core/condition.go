package core

import (
	"context"
	"fmt"
	"sync"
)

// Condition is a one-shot handle binding a suspended worker to a future
// wake-up. Prepare binds it, Wakeup resumes the bound worker and unbinds it.
// A Wakeup that arrives after Prepare but before the worker reaches Await is
// not lost: that Await returns at once. An unbound Condition may be prepared
// again.
type Condition struct {
	mu     sync.Mutex
	worker *Worker
}

// NewCondition allocates a fresh, unbound Condition.
func NewCondition() *Condition {
	return &Condition{}
}

// Prepare binds the condition to w.
// Returns ErrAlreadyPrepared if a worker is already bound.
func (c *Condition) Prepare(w *Worker) error {
	if w == nil {
		return fmt.Errorf("prepare condition: %w", ErrNotInWorkerContext)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker != nil {
		return fmt.Errorf("prepare condition for worker %s: bound to %s: %w", w.id, c.worker.id, ErrAlreadyPrepared)
	}
	c.worker = w
	return nil
}

// Wakeup resumes the bound worker, or arms its next Await when it has not
// suspended yet, and clears the binding.
// Returns ErrNotPrepared if no worker is bound.
func (c *Condition) Wakeup() error {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.mu.Unlock()

	if w == nil {
		return ErrNotPrepared
	}
	w.wakeOrArm()
	return nil
}

// IsPrepared reports whether a worker is bound.
func (c *Condition) IsPrepared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil
}

// Wait binds the condition to the worker running ctx's task and suspends it
// until Wakeup. The task's monitor, if any, must be held by the caller.
func (c *Condition) Wait(ctx context.Context) error {
	w, err := CurrentWorker(ctx)
	if err != nil {
		return err
	}
	if err := c.Prepare(w); err != nil {
		return err
	}
	if err := w.Await(); err != nil {
		c.mu.Lock()
		if c.worker == w {
			c.worker = nil
		}
		c.mu.Unlock()
		return err
	}
	return nil
}
