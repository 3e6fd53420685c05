package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// WorkerState is the run state of a Worker.
type WorkerState string

const (
	// WorkerRunning: executing a task or waiting to dequeue one.
	WorkerRunning WorkerState = "running"
	// WorkerAwaiting: parked inside Await by its own task.
	WorkerAwaiting WorkerState = "awaiting"
	// WorkerKilled: terminal; the worker exits at the next opportunity.
	WorkerKilled WorkerState = "killed"
)

const (
	eventSuspend = "suspend"
	eventResume  = "resume"
	eventKill    = "kill"
)

// Worker is one goroutine of an Engine. It pulls tasks from the pending queue,
// runs them under the admission gate, and can be suspended by its own task.
type Worker struct {
	id     string
	engine *Engine

	ctx     context.Context // cancelled by Kill
	cancel  context.CancelFunc
	taskCtx context.Context

	// guarded by engine.mu: task dequeued but not yet admitted
	dequeued *taskEntry

	mu        sync.Mutex
	state     *fsm.FSM
	current   *taskEntry
	holdsSlot bool
	awake     bool
	armed     bool // a Condition wake-up overtook the suspension
	wake      chan struct{}
}

func newWorker(e *Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:     uuid.NewString(),
		engine: e,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	w.taskCtx = context.WithValue(ctx, workerKey, w)
	w.state = fsm.NewFSM(
		string(WorkerRunning),
		fsm.Events{
			{Name: eventSuspend, Src: []string{string(WorkerRunning)}, Dst: string(WorkerAwaiting)},
			{Name: eventResume, Src: []string{string(WorkerAwaiting)}, Dst: string(WorkerRunning)},
			{Name: eventKill, Src: []string{string(WorkerRunning), string(WorkerAwaiting)}, Dst: string(WorkerKilled)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.logger.Debug("worker state changed",
					F("engine", e.name),
					F("worker", w.id),
					F("from", ev.Src),
					F("to", ev.Dst))
			},
		},
	)
	return w
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string {
	return w.id
}

// Engine returns the engine that owns this worker.
func (w *Worker) Engine() *Engine {
	return w.engine
}

// State returns the current run state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Current())
}

// Task returns the task currently bound to the worker, or nil between tasks.
func (w *Worker) Task() Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	return w.current.task
}

// fire must be called with w.mu held.
func (w *Worker) fire(event string) {
	if err := w.state.Event(context.Background(), event); err != nil {
		w.engine.logger.Warn("worker transition rejected",
			F("worker", w.id),
			F("event", event),
			F("state", w.state.Current()),
			F("error", err))
	}
}

func (w *Worker) is(state WorkerState) bool {
	return w.state.Is(string(state))
}

// =============================================================================
// Run loop
// =============================================================================

func (w *Worker) run() {
	e := w.engine
	defer e.workerExited(w)

	e.logger.Debug("worker started", F("engine", e.name), F("worker", w.id))
	for {
		entry, ok := e.dequeue(w)
		if !ok {
			return
		}
		if !w.admit(entry) {
			return
		}
		w.execute(entry)
		if w.finish() {
			return
		}
	}
}

// admit acquires an admission slot for a dequeued entry. It reports false when
// the worker must exit instead of running the entry.
func (w *Worker) admit(entry *taskEntry) bool {
	e := w.engine
	err := e.gate.Acquire(w.ctx, 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	// Shutdown hands unadmitted entries back to the caller.
	reclaimed := w.dequeued == nil
	w.dequeued = nil

	if err != nil {
		if !reclaimed {
			e.requeueLocked(entry)
		}
		return false
	}
	if reclaimed {
		e.gate.Release(1)
		return false
	}

	w.current = entry
	w.holdsSlot = true
	return true
}

func (w *Worker) execute(entry *taskEntry) {
	e := w.engine
	startedAt := time.Now()

	var err error
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				e.panicHandler.HandlePanic(w.taskCtx, e.name, w.id, r, debug.Stack())
				e.metrics.RecordTaskPanic(e.name, r)
			}
		}()
		err = entry.task.Execute(w.taskCtx)
	}()

	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)

	record := TaskExecutionRecord{
		TaskID:      entry.id,
		Name:        entry.name,
		EngineName:  e.name,
		WorkerID:    w.id,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    duration,
		Suspensions: entry.suspensions,
		Panicked:    panicked,
	}

	e.executed.Add(1)
	switch {
	case panicked:
		e.panicked.Add(1)
		record.Failed = true
	case err != nil:
		e.failed.Add(1)
		record.Failed = true
		record.Err = err.Error()
		e.failureHandler.HandleFailure(w.taskCtx, e.name, w.id, entry.name, err)
		e.metrics.RecordTaskFailure(e.name)
	}
	e.metrics.RecordTaskDuration(e.name, duration)
	e.history.Add(record)
}

// finish releases the slot and accounting for the task just executed.
// It reports whether the worker should exit.
func (w *Worker) finish() bool {
	e := w.engine

	w.mu.Lock()
	held := w.holdsSlot
	w.holdsSlot = false
	w.current = nil
	w.armed = false
	w.mu.Unlock()

	if held {
		e.gate.Release(1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	e.signalQuiescenceLocked()

	if e.shutdown || w.ctx.Err() != nil {
		return true
	}
	// Surplus left behind by a resumed suspension unwinds here.
	if len(e.workers)-e.suspended > e.capacity {
		e.removeWorkerLocked(w)
		e.logger.Debug("worker retired", F("engine", e.name), F("worker", w.id))
		return true
	}
	return false
}

// =============================================================================
// Suspension
// =============================================================================

// Await suspends the calling task. It must be called from the task currently
// running on w, with the task's monitor held if it has one.
//
// The admission slot is released, the worker stops counting as active, and a
// replacement worker is started so pool throughput is preserved. Await returns
// after WakeUp once a slot has been re-acquired. If the worker is killed while
// suspended, Await returns an error wrapping ErrInterrupted and the task
// continues without a slot until it returns. If a Condition bound to w was
// woken before Await was reached, Await returns nil without suspending.
func (w *Worker) Await() error {
	e := w.engine

	w.mu.Lock()
	if w.is(WorkerKilled) || w.ctx.Err() != nil {
		w.mu.Unlock()
		return fmt.Errorf("await on worker %s: %w", w.id, ErrInterrupted)
	}
	if w.current == nil || !w.is(WorkerRunning) {
		w.mu.Unlock()
		return fmt.Errorf("await on worker %s: %w", w.id, ErrNotAwaitable)
	}

	if w.armed {
		w.armed = false
		w.mu.Unlock()
		return nil
	}

	// Drop a stale token from a wake-up that lost the race against a kill.
	select {
	case <-w.wake:
	default:
	}

	w.fire(eventSuspend)
	w.awake = false
	w.current.suspensions++
	monitor := monitorOf(w.current.task)
	if w.holdsSlot {
		w.holdsSlot = false
		e.gate.Release(1)
	}
	e.suspend(w)
	w.mu.Unlock()

	e.metrics.RecordSuspension(e.name)
	if monitor != nil {
		monitor.Unlock()
		defer monitor.Lock()
	}

	interrupted := false
	select {
	case <-w.wake:
	case <-w.ctx.Done():
		interrupted = true
	}

	w.mu.Lock()
	if !w.awake {
		w.awake = true
		e.reactivate()
	}
	w.mu.Unlock()

	if interrupted {
		w.markKilled()
		return fmt.Errorf("await on worker %s: %w", w.id, ErrInterrupted)
	}

	if err := e.gate.Acquire(w.ctx, 1); err != nil {
		w.markKilled()
		return fmt.Errorf("await on worker %s: reacquire slot: %w", w.id, ErrInterrupted)
	}

	w.mu.Lock()
	w.holdsSlot = true
	if w.is(WorkerAwaiting) {
		w.fire(eventResume)
	}
	w.mu.Unlock()
	return nil
}

// WakeUp resumes a suspended worker. Only the first call while the worker is
// awaiting has an effect; it reports whether this call was that one.
func (w *Worker) WakeUp() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakeLocked()
}

// wakeOrArm is WakeUp for a worker bound to a Condition. A worker still
// running the bound task has not reached Await yet; the wake-up is kept and
// its next Await returns immediately.
func (w *Worker) wakeOrArm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.is(WorkerRunning) {
		w.armed = true
		return true
	}
	return w.wakeLocked()
}

// wakeLocked must be called with w.mu held.
func (w *Worker) wakeLocked() bool {
	if w.awake || !w.is(WorkerAwaiting) {
		return false
	}
	w.awake = true
	// Counted active again before the signal so quiescence cannot be observed
	// between the wake-up and the resumed task re-entering the gate.
	w.engine.reactivate()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Kill interrupts every blocking wait of the worker: waiting for work, for an
// admission slot, or parked in Await. A running task body is not aborted.
// Kill is idempotent.
func (w *Worker) Kill() {
	w.markKilled()
	w.cancel()
}

func (w *Worker) markKilled() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.is(WorkerKilled) {
		w.fire(eventKill)
	}
}
