package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// maxAllowedCapacity is the maximum allowed value for the capacity parameter.
	// Values higher than this could lead to excessive goroutine creation and memory exhaustion.
	maxAllowedCapacity = 10000

	defaultEngineName = "engine"
)

// Engine executes submitted tasks on a set of worker goroutines, never running
// more than capacity task bodies at once. A task may suspend itself with
// Worker.Await without holding a slot; a replacement worker keeps the pool at
// full throughput while it is parked.
//
// The engine is quiescent when no task is pending and none is active. A
// suspended task is not active.
type Engine struct {
	name     string
	capacity int
	gate     *semaphore.Weighted

	mu        sync.Mutex
	pending   *taskQueue
	active    int
	workers   map[*Worker]struct{}
	suspended int
	shutdown  bool
	seq       uint64
	notEmpty  chan struct{} // closed when pending leaves empty
	quiescent chan struct{} // closed on every transition to quiescent
	exited    chan struct{} // closed once shut down with no workers left
	exitOnce  sync.Once

	wg sync.WaitGroup

	logger          Logger
	panicHandler    PanicHandler
	failureHandler  FailureHandler
	rejectedHandler RejectedTaskHandler
	metrics         Metrics
	history         executionHistory

	executed atomic.Int64
	failed   atomic.Int64
	panicked atomic.Int64
	rejected atomic.Int64
}

// NewEngine creates an Engine with capacity live workers and default handlers.
// Panics if capacity is out of valid range [1, 10000].
func NewEngine(capacity int) *Engine {
	return NewEngineWithConfig(capacity, nil)
}

// NewEngineWithConfig creates an Engine with capacity live workers.
// A nil config uses DefaultEngineConfig.
// Panics if capacity is out of valid range [1, 10000].
func NewEngineWithConfig(capacity int, config *EngineConfig) *Engine {
	if capacity < 1 {
		panic("Engine: capacity must be at least 1")
	}
	if capacity > maxAllowedCapacity {
		panic(fmt.Sprintf("Engine: capacity must not exceed %d", maxAllowedCapacity))
	}

	cfg := config.withDefaults()
	e := &Engine{
		name:            cfg.Name,
		capacity:        capacity,
		gate:            semaphore.NewWeighted(int64(capacity)),
		pending:         newTaskQueue(),
		workers:         make(map[*Worker]struct{}, capacity),
		notEmpty:        make(chan struct{}),
		quiescent:       make(chan struct{}),
		exited:          make(chan struct{}),
		logger:          cfg.Logger,
		panicHandler:    cfg.PanicHandler,
		failureHandler:  cfg.FailureHandler,
		rejectedHandler: cfg.RejectedTaskHandler,
		metrics:         cfg.Metrics,
		history:         newExecutionHistory(cfg.HistoryCapacity),
	}

	e.mu.Lock()
	for range capacity {
		e.spawnWorkerLocked()
	}
	e.mu.Unlock()

	e.logger.Info("engine started", F("engine", e.name), F("capacity", capacity))
	return e
}

// Name returns the engine name used in logs and metrics.
func (e *Engine) Name() string {
	return e.name
}

// Capacity returns the maximum number of concurrently executing task bodies.
func (e *Engine) Capacity() int {
	return e.capacity
}

// =============================================================================
// Submission
// =============================================================================

// Submit appends task to the pending queue.
// Returns an error wrapping ErrRejectedSubmission after Shutdown.
func (e *Engine) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		name := resolveTaskName(task)
		e.rejected.Add(1)
		e.metrics.RecordTaskRejected(e.name, "shutdown")
		e.rejectedHandler.HandleRejectedTask(e.name, name, "shutdown")
		return fmt.Errorf("submit %s to %s: %w", name, e.name, ErrRejectedSubmission)
	}

	wasEmpty := e.pending.IsEmpty()
	e.pending.Push(newTaskEntry(task))
	if wasEmpty {
		e.broadcastNotEmptyLocked()
	}
	depth := e.pending.Len()
	e.mu.Unlock()

	e.metrics.RecordQueueDepth(e.name, depth)
	return nil
}

// SubmitFunc is shorthand for Submit(WithName(TaskFunc(fn), name)).
func (e *Engine) SubmitFunc(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilTask
	}
	return e.Submit(WithName(TaskFunc(fn), name))
}

func (e *Engine) broadcastNotEmptyLocked() {
	close(e.notEmpty)
	e.notEmpty = make(chan struct{})
}

// dequeue blocks until pending has work, then takes the head and counts it
// active. It reports false when the worker was killed.
func (e *Engine) dequeue(w *Worker) (*taskEntry, bool) {
	e.mu.Lock()
	for e.pending.IsEmpty() {
		if w.ctx.Err() != nil {
			e.mu.Unlock()
			return nil, false
		}
		ch := e.notEmpty
		e.mu.Unlock()

		select {
		case <-ch:
		case <-w.ctx.Done():
			return nil, false
		}
		e.mu.Lock()
	}
	if w.ctx.Err() != nil {
		e.mu.Unlock()
		return nil, false
	}

	entry, _ := e.pending.Pop()
	e.active++
	e.seq++
	entry.seq = e.seq
	w.dequeued = entry
	depth := e.pending.Len()
	e.mu.Unlock()

	e.metrics.RecordQueueDepth(e.name, depth)
	return entry, true
}

// requeueLocked undoes a dequeue whose admission was interrupted.
func (e *Engine) requeueLocked(entry *taskEntry) {
	wasEmpty := e.pending.IsEmpty()
	e.pending.PushFront(entry)
	e.active--
	if wasEmpty {
		e.broadcastNotEmptyLocked()
	}
}

// =============================================================================
// Worker bookkeeping
// =============================================================================

func (e *Engine) spawnWorkerLocked() *Worker {
	w := newWorker(e)
	e.workers[w] = struct{}{}
	e.wg.Add(1)
	go w.run()
	return w
}

func (e *Engine) removeWorkerLocked(w *Worker) {
	delete(e.workers, w)
	if e.shutdown && len(e.workers) == 0 {
		e.exitOnce.Do(func() { close(e.exited) })
	}
}

func (e *Engine) workerExited(w *Worker) {
	e.mu.Lock()
	e.removeWorkerLocked(w)
	e.mu.Unlock()
	w.cancel()

	e.logger.Debug("worker exited", F("engine", e.name), F("worker", w.id))
	e.wg.Done()
}

// suspend is called by Await with w.mu held.
func (e *Engine) suspend(w *Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active--
	e.suspended++
	e.signalQuiescenceLocked()
	if !e.shutdown {
		replacement := e.spawnWorkerLocked()
		e.logger.Debug("worker suspended",
			F("engine", e.name),
			F("worker", w.id),
			F("replacement", replacement.id))
	}
}

// reactivate is called with the worker's mu held, once per suspension.
func (e *Engine) reactivate() {
	e.mu.Lock()
	e.active++
	e.suspended--
	e.mu.Unlock()
}

func (e *Engine) isQuiescentLocked() bool {
	return e.pending.IsEmpty() && e.active == 0
}

func (e *Engine) signalQuiescenceLocked() {
	if !e.isQuiescentLocked() {
		return
	}
	close(e.quiescent)
	e.quiescent = make(chan struct{})
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops accepting submissions, kills every worker and returns the
// tasks that never started, in dequeue order. Running task bodies are not
// aborted. Only the first call has an effect; later calls return an empty slice.
func (e *Engine) Shutdown() []Task {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return []Task{}
	}
	e.shutdown = true

	// Entries dequeued but still waiting on the gate never started either.
	var reclaimed []*taskEntry
	for w := range e.workers {
		if w.dequeued != nil {
			reclaimed = append(reclaimed, w.dequeued)
			w.dequeued = nil
			e.active--
		}
	}
	sort.Slice(reclaimed, func(i, j int) bool { return reclaimed[i].seq < reclaimed[j].seq })

	drained := e.pending.Drain()
	out := make([]Task, 0, len(reclaimed)+len(drained))
	for _, entry := range reclaimed {
		out = append(out, entry.task)
	}
	for _, entry := range drained {
		out = append(out, entry.task)
	}

	e.signalQuiescenceLocked()
	workers := make([]*Worker, 0, len(e.workers))
	for w := range e.workers {
		workers = append(workers, w)
	}
	if len(e.workers) == 0 {
		e.exitOnce.Do(func() { close(e.exited) })
	}
	e.mu.Unlock()

	for _, w := range workers {
		w.Kill()
	}

	e.metrics.RecordQueueDepth(e.name, 0)
	e.logger.Info("engine shut down",
		F("engine", e.name),
		F("unstarted", len(out)),
		F("workers", len(workers)))
	return out
}

// IsShutdown reports whether Shutdown has been called.
func (e *Engine) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// IsTerminated reports whether the engine is shut down and quiescent.
func (e *Engine) IsTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown && e.isQuiescentLocked()
}

// AwaitTermination blocks until the engine is shut down, quiescent and every
// worker goroutine has exited, or until timeout elapses.
// Returns true if termination was observed.
func (e *Engine) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		if e.shutdown && e.isQuiescentLocked() {
			exited := e.exited
			e.mu.Unlock()
			select {
			case <-exited:
				return true
			case <-timer.C:
				return false
			}
		}
		ch := e.quiescent
		e.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return false
		}
	}
}

// Join blocks until every worker goroutine has exited.
// It only returns after Shutdown.
func (e *Engine) Join() {
	e.wg.Wait()
}

// =============================================================================
// Quiescence
// =============================================================================

// IsQuiescent reports whether no task is pending and none is active.
func (e *Engine) IsQuiescent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isQuiescentLocked()
}

// AwaitQuiescence blocks until the engine is quiescent or ctx is done.
func (e *Engine) AwaitQuiescence(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.isQuiescentLocked() {
			e.mu.Unlock()
			return nil
		}
		ch := e.quiescent
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitQuiescenceTimeout blocks until the engine is quiescent or timeout
// elapses. Returns whether quiescence was observed.
func (e *Engine) AwaitQuiescenceTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.AwaitQuiescence(ctx) == nil
}

// =============================================================================
// Worker context
// =============================================================================

// CurrentWorker returns the worker of this engine running the task that owns ctx.
func (e *Engine) CurrentWorker(ctx context.Context) (*Worker, error) {
	w, err := CurrentWorker(ctx)
	if err != nil {
		return nil, err
	}
	if w.engine != e {
		return nil, fmt.Errorf("worker %s belongs to engine %s: %w", w.id, w.engine.name, ErrNotInWorkerContext)
	}
	return w, nil
}

// NewCondition allocates a fresh, unbound Condition.
func (e *Engine) NewCondition() *Condition {
	return NewCondition()
}

// =============================================================================
// Observability
// =============================================================================

// PendingTaskCount returns the number of queued tasks waiting to run.
func (e *Engine) PendingTaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Len()
}

// ActiveTaskCount returns the number of tasks past dequeue and not suspended.
func (e *Engine) ActiveTaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// WorkerCount returns the number of live workers, suspended ones included.
func (e *Engine) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// SuspendedWorkerCount returns the number of workers parked in Await.
func (e *Engine) SuspendedWorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// Stats returns current observability data for this engine.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	stats := EngineStats{
		Name:      e.name,
		Capacity:  e.capacity,
		Pending:   e.pending.Len(),
		Active:    e.active,
		Workers:   len(e.workers),
		Suspended: e.suspended,
		Shutdown:  e.shutdown,
		Quiescent: e.isQuiescentLocked(),
	}
	e.mu.Unlock()

	stats.Executed = e.executed.Load()
	stats.Failed = e.failed.Load()
	stats.Panicked = e.panicked.Load()
	stats.Rejected = e.rejected.Load()
	if last, ok := e.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns completed task execution records in newest-first order.
func (e *Engine) RecentTasks(limit int) []TaskExecutionRecord {
	return e.history.Recent(limit)
}
