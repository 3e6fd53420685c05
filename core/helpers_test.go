package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// newTestEngine creates a quiet engine that is shut down when the test ends.
func newTestEngine(t *testing.T, capacity int) *Engine {
	t.Helper()
	e := NewEngineWithConfig(capacity, &EngineConfig{
		Name:   t.Name(),
		Logger: NewNoOpLogger(),
	})
	t.Cleanup(func() {
		e.Shutdown()
		if !e.AwaitTermination(5 * time.Second) {
			t.Errorf("engine %s did not terminate", e.Name())
		}
	})
	return e
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// suspendingTask parks on cond under mu until woken.
type suspendingTask struct {
	mu     sync.Mutex
	cond   *Condition
	result chan error
}

func newSuspendingTask() *suspendingTask {
	return &suspendingTask{cond: NewCondition(), result: make(chan error, 1)}
}

func (s *suspendingTask) Execute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.cond.Wait(ctx)
	s.result <- err
	return err
}

func (s *suspendingTask) Monitor() sync.Locker { return &s.mu }

func (s *suspendingTask) wake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cond.Wakeup()
}

// blockingTask blocks its slot until release is closed.
func blockingTask(started chan<- struct{}, release <-chan struct{}) TaskFunc {
	return func(ctx context.Context) error {
		if started != nil {
			started <- struct{}{}
		}
		<-release
		return nil
	}
}
