package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Execution and admission
// =============================================================================

// TestEngine_ExecutesEachTaskExactlyOnce verifies every submitted task runs once
// Given: engines of several capacities and 200 counting tasks each
// When: the tasks are submitted, the engine drains and is shut down
// Then: each task ran exactly once and AwaitTermination reports true
func TestEngine_ExecutesEachTaskExactlyOnce(t *testing.T) {
	for _, capacity := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			// Arrange
			e := newTestEngine(t, capacity)
			const m = 200
			counts := make([]atomic.Int32, m)

			// Act
			for i := range m {
				err := e.Submit(TaskFunc(func(ctx context.Context) error {
					counts[i].Add(1)
					return nil
				}))
				if err != nil {
					t.Fatalf("Submit(%d) failed: %v", i, err)
				}
			}
			if !e.AwaitQuiescenceTimeout(5 * time.Second) {
				t.Fatal("AwaitQuiescenceTimeout() = false, want true")
			}
			unstarted := e.Shutdown()

			// Assert
			if len(unstarted) != 0 {
				t.Errorf("Shutdown() returned %d tasks, want 0", len(unstarted))
			}
			if !e.AwaitTermination(5 * time.Second) {
				t.Fatal("AwaitTermination() = false, want true")
			}
			for i := range m {
				if got := counts[i].Load(); got != 1 {
					t.Errorf("task %d ran %d times, want 1", i, got)
				}
			}
			if got := e.Stats().Executed; got != m {
				t.Errorf("Stats().Executed = %d, want %d", got, m)
			}
		})
	}
}

// TestEngine_NeverExceedsCapacity verifies the admission gate bound
// Given: an engine with capacity 3 and 30 short sleeping tasks
// When: all tasks run
// Then: the observed concurrency reaches but never exceeds 3
func TestEngine_NeverExceedsCapacity(t *testing.T) {
	// Arrange
	const capacity = 3
	e := newTestEngine(t, capacity)
	var current, peak atomic.Int32

	// Act
	for range 30 {
		_ = e.Submit(TaskFunc(func(ctx context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	if !e.AwaitQuiescenceTimeout(5 * time.Second) {
		t.Fatal("AwaitQuiescenceTimeout() = false, want true")
	}

	// Assert
	if got := peak.Load(); got > capacity {
		t.Errorf("peak concurrency = %d, want <= %d", got, capacity)
	}
	if got := peak.Load(); got != capacity {
		t.Errorf("peak concurrency = %d, want %d", got, capacity)
	}
}

// TestEngine_TwoSlotScenario verifies bounded concurrency with wall-clock timing
// Given: capacity 2 and 5 tasks that each sleep 50ms
// When: all 5 are submitted
// Then: at most 2 run at once and all complete within a bounded time
func TestEngine_TwoSlotScenario(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 2)
	var current, peak, completed atomic.Int32
	var mu sync.Mutex
	starts := make([]time.Time, 0, 5)

	// Act
	begin := time.Now()
	for range 5 {
		_ = e.Submit(TaskFunc(func(ctx context.Context) error {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			current.Add(-1)
			completed.Add(1)
			return nil
		}))
	}
	ok := e.AwaitQuiescenceTimeout(2 * time.Second)
	elapsed := time.Since(begin)

	// Assert
	if !ok {
		t.Fatal("AwaitQuiescenceTimeout() = false, want true")
	}
	if got := completed.Load(); got != 5 {
		t.Errorf("completed = %d, want 5", got)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 150ms for 3 waves of 50ms", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 5 {
		t.Errorf("recorded %d starts, want 5", len(starts))
	}
}

// TestNewEngine_InvalidCapacity verifies constructor argument validation
// Given: capacities 0 and maxAllowedCapacity+1
// When: NewEngine is called
// Then: it panics
func TestNewEngine_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, maxAllowedCapacity + 1} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("NewEngine(%d) did not panic", capacity)
				}
			}()
			NewEngine(capacity)
		})
	}
}

// =============================================================================
// Quiescence
// =============================================================================

// TestEngine_QuiescentInitially verifies a fresh engine is quiescent
func TestEngine_QuiescentInitially(t *testing.T) {
	e := newTestEngine(t, 2)

	if !e.IsQuiescent() {
		t.Error("IsQuiescent() = false on a fresh engine, want true")
	}
	if err := e.AwaitQuiescence(context.Background()); err != nil {
		t.Errorf("AwaitQuiescence() = %v, want nil", err)
	}
}

// TestEngine_NotQuiescentWhileRunning verifies quiescence tracks running tasks
// Given: one task blocked inside its body
// When: IsQuiescent is checked before and after releasing it
// Then: false while blocked, true once the task has fully completed
func TestEngine_NotQuiescentWhileRunning(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 2)
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	// Act
	_ = e.Submit(blockingTask(started, release))
	<-started

	// Assert
	if e.IsQuiescent() {
		t.Error("IsQuiescent() = true while a task runs, want false")
	}
	if e.AwaitQuiescenceTimeout(20 * time.Millisecond) {
		t.Error("AwaitQuiescenceTimeout() = true while a task runs, want false")
	}

	close(release)
	if !e.AwaitQuiescenceTimeout(time.Second) {
		t.Fatal("AwaitQuiescenceTimeout() = false after release, want true")
	}
	if !e.IsQuiescent() {
		t.Error("IsQuiescent() = false after completion, want true")
	}
}

// TestEngine_NotQuiescentWhileQueued verifies pending tasks block quiescence
// Given: capacity 1, a blocking task and a second queued task
// When: IsQuiescent is checked
// Then: false until both have completed
func TestEngine_NotQuiescentWhileQueued(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var ran atomic.Bool

	_ = e.Submit(blockingTask(started, release))
	<-started

	// Act
	_ = e.Submit(TaskFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	// Assert
	if got := e.PendingTaskCount(); got != 1 {
		t.Errorf("PendingTaskCount() = %d, want 1", got)
	}
	if e.IsQuiescent() {
		t.Error("IsQuiescent() = true with a queued task, want false")
	}
	close(release)
	if !e.AwaitQuiescenceTimeout(time.Second) {
		t.Fatal("AwaitQuiescenceTimeout() = false, want true")
	}
	if !ran.Load() {
		t.Error("queued task did not run")
	}
}

// TestEngine_AwaitQuiescence_ContextCancelled verifies AwaitQuiescence honours ctx
func TestEngine_AwaitQuiescence_ContextCancelled(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	_ = e.Submit(blockingTask(started, release))
	<-started

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.AwaitQuiescence(ctx)

	// Assert
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitQuiescence() = %v, want context.DeadlineExceeded", err)
	}
}

// TestEngine_QuiescenceUnderConcurrentProducers verifies no lost quiescence signals
// Given: 4 producers each submitting 50 tasks per round for 20 rounds
// When: the consumer awaits quiescence after each round
// Then: every await succeeds and the total count matches
func TestEngine_QuiescenceUnderConcurrentProducers(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 4)
	var count atomic.Int64
	const rounds, producers, perProducer = 20, 4, 50

	// Act & Assert
	for round := range rounds {
		var wg sync.WaitGroup
		for range producers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perProducer {
					_ = e.Submit(TaskFunc(func(ctx context.Context) error {
						count.Add(1)
						return nil
					}))
				}
			}()
		}
		wg.Wait()
		if !e.AwaitQuiescenceTimeout(5 * time.Second) {
			t.Fatalf("round %d: AwaitQuiescenceTimeout() = false, want true", round)
		}
		want := int64((round + 1) * producers * perProducer)
		if got := count.Load(); got != want {
			t.Fatalf("round %d: count = %d, want %d", round, got, want)
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// TestEngine_SubmitAfterShutdown verifies rejection after shutdown
// Given: a shut down engine
// When: Submit is called
// Then: it fails with ErrRejectedSubmission and the task never runs
func TestEngine_SubmitAfterShutdown(t *testing.T) {
	// Arrange
	var rejected atomic.Int32
	e := NewEngineWithConfig(2, &EngineConfig{
		Logger:              NewNoOpLogger(),
		RejectedTaskHandler: rejectCounter{&rejected},
	})
	e.Shutdown()
	var ran atomic.Bool

	// Act
	err := e.Submit(TaskFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	// Assert
	if !errors.Is(err, ErrRejectedSubmission) {
		t.Fatalf("Submit() = %v, want ErrRejectedSubmission", err)
	}
	if !e.AwaitTermination(time.Second) {
		t.Fatal("AwaitTermination() = false, want true")
	}
	if ran.Load() {
		t.Error("rejected task ran")
	}
	if got := rejected.Load(); got != 1 {
		t.Errorf("rejected handler calls = %d, want 1", got)
	}
	if got := e.Stats().Rejected; got != 1 {
		t.Errorf("Stats().Rejected = %d, want 1", got)
	}
}

type rejectCounter struct{ n *atomic.Int32 }

func (r rejectCounter) HandleRejectedTask(engineName, taskName, reason string) { r.n.Add(1) }

// TestEngine_Shutdown_ReturnsUnstartedTasks verifies shutdown drains pending tasks
// Given: capacity 1, one running task and 4 queued tasks
// When: Shutdown is called
// Then: exactly the 4 queued tasks are returned in order, and the running task completes
func TestEngine_Shutdown_ReturnsUnstartedTasks(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runningDone, queuedRan atomic.Bool

	_ = e.Submit(TaskFunc(func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		runningDone.Store(true)
		return nil
	}))
	<-started

	queued := make([]Task, 0, 4)
	for i := range 4 {
		task := WithName(TaskFunc(func(ctx context.Context) error {
			queuedRan.Store(true)
			return nil
		}), fmt.Sprintf("queued-%d", i))
		queued = append(queued, task)
		_ = e.Submit(task)
	}

	// Act
	unstarted := e.Shutdown()
	close(release)

	// Assert
	if len(unstarted) != len(queued) {
		t.Fatalf("Shutdown() returned %d tasks, want %d", len(unstarted), len(queued))
	}
	for i := range queued {
		if unstarted[i] != queued[i] {
			t.Errorf("unstarted[%d] = %s, want %s", i, resolveTaskName(unstarted[i]), resolveTaskName(queued[i]))
		}
	}
	if !e.AwaitTermination(time.Second) {
		t.Fatal("AwaitTermination() = false, want true")
	}
	if !runningDone.Load() {
		t.Error("running task did not complete after shutdown")
	}
	if queuedRan.Load() {
		t.Error("a returned task was executed")
	}
	if got := e.PendingTaskCount(); got != 0 {
		t.Errorf("PendingTaskCount() = %d after shutdown, want 0", got)
	}
}

// TestEngine_Shutdown_ReclaimsDequeuedTask verifies a task waiting on the gate counts as unstarted
// Given: capacity 1, a resumed task holding the only slot and an idle replacement worker
// When: another task is dequeued by the replacement and Shutdown is called
// Then: Shutdown returns that task and it never runs
func TestEngine_Shutdown_ReclaimsDequeuedTask(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)
	holding := make(chan struct{})
	release := make(chan struct{})
	s := newSuspendingTask()
	_ = e.Submit(WithMonitor(TaskFunc(func(ctx context.Context) error {
		if err := s.Execute(ctx); err != nil {
			return err
		}
		close(holding)
		<-release
		return nil
	}), &s.mu))
	waitFor(t, time.Second, "suspension", func() bool { return e.SuspendedWorkerCount() == 1 })
	if err := s.wake(); err != nil {
		t.Fatalf("wake failed: %v", err)
	}
	<-holding

	var ran atomic.Bool
	victim := TaskFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	_ = e.Submit(victim)
	waitFor(t, time.Second, "dequeue by idle worker", func() bool {
		return e.PendingTaskCount() == 0 && e.ActiveTaskCount() == 2
	})

	// Act
	unstarted := e.Shutdown()
	close(release)

	// Assert
	if len(unstarted) != 1 {
		t.Fatalf("Shutdown() returned %d tasks, want 1", len(unstarted))
	}
	if !e.AwaitTermination(time.Second) {
		t.Fatal("AwaitTermination() = false, want true")
	}
	if ran.Load() {
		t.Error("reclaimed task was executed")
	}
}

// TestEngine_Shutdown_Idempotent verifies repeated shutdown calls
func TestEngine_Shutdown_Idempotent(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 2)

	// Act
	first := e.Shutdown()
	second := e.Shutdown()

	// Assert
	if len(first) != 0 {
		t.Errorf("first Shutdown() returned %d tasks, want 0", len(first))
	}
	if second == nil || len(second) != 0 {
		t.Errorf("second Shutdown() = %v, want empty slice", second)
	}
	if !e.IsShutdown() {
		t.Error("IsShutdown() = false, want true")
	}
	if !e.AwaitTermination(time.Second) {
		t.Fatal("AwaitTermination() = false, want true")
	}
	if !e.IsTerminated() {
		t.Error("IsTerminated() = false, want true")
	}
	if got := e.WorkerCount(); got != 0 {
		t.Errorf("WorkerCount() = %d after termination, want 0", got)
	}
	e.Join()
}

// TestEngine_AwaitTermination_Timeout verifies a running task delays termination
func TestEngine_AwaitTermination_Timeout(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	_ = e.Submit(blockingTask(started, release))
	<-started

	// Act
	e.Shutdown()
	early := e.AwaitTermination(20 * time.Millisecond)
	terminatedEarly := e.IsTerminated()
	close(release)
	late := e.AwaitTermination(time.Second)

	// Assert
	if early {
		t.Error("AwaitTermination() = true while a task runs, want false")
	}
	if terminatedEarly {
		t.Error("IsTerminated() = true while a task runs, want false")
	}
	if !late {
		t.Error("AwaitTermination() = false after release, want true")
	}
}

// =============================================================================
// Failure absorption
// =============================================================================

type recordingFailureHandler struct {
	mu    sync.Mutex
	tasks []string
	errs  []error
}

func (h *recordingFailureHandler) HandleFailure(ctx context.Context, engineName, workerID, taskName string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, taskName)
	h.errs = append(h.errs, err)
}

type recordingPanicHandler struct {
	calls atomic.Int32
	last  atomic.Value
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, engineName, workerID string, panicInfo any, stackTrace []byte) {
	h.calls.Add(1)
	h.last.Store(fmt.Sprint(panicInfo))
}

// TestEngine_TaskFailuresAreAbsorbed verifies errors and panics stay inside the worker
// Given: a failing task, a panicking task, and 10 normal tasks on capacity 1
// When: all run
// Then: handlers see one failure and one panic, every normal task runs, the engine stays usable
func TestEngine_TaskFailuresAreAbsorbed(t *testing.T) {
	// Arrange
	failures := &recordingFailureHandler{}
	panics := &recordingPanicHandler{}
	e := NewEngineWithConfig(1, &EngineConfig{
		Logger:         NewNoOpLogger(),
		FailureHandler: failures,
		PanicHandler:   panics,
	})
	defer func() {
		e.Shutdown()
		e.AwaitTermination(time.Second)
	}()
	boom := errors.New("boom")
	var normal atomic.Int32

	// Act
	_ = e.SubmitFunc("failing", func(ctx context.Context) error { return boom })
	_ = e.SubmitFunc("panicking", func(ctx context.Context) error { panic("kaboom") })
	for range 10 {
		_ = e.Submit(TaskFunc(func(ctx context.Context) error {
			normal.Add(1)
			return nil
		}))
	}
	if !e.AwaitQuiescenceTimeout(2 * time.Second) {
		t.Fatal("AwaitQuiescenceTimeout() = false, want true")
	}

	// Assert
	if got := normal.Load(); got != 10 {
		t.Errorf("normal tasks ran = %d, want 10", got)
	}
	failures.mu.Lock()
	if len(failures.errs) != 1 || !errors.Is(failures.errs[0], boom) {
		t.Errorf("failure handler errs = %v, want [boom]", failures.errs)
	}
	if len(failures.tasks) != 1 || failures.tasks[0] != "failing" {
		t.Errorf("failure handler tasks = %v, want [failing]", failures.tasks)
	}
	failures.mu.Unlock()
	if got := panics.calls.Load(); got != 1 {
		t.Errorf("panic handler calls = %d, want 1", got)
	}
	if got, _ := panics.last.Load().(string); got != "kaboom" {
		t.Errorf("panic value = %q, want %q", got, "kaboom")
	}

	stats := e.Stats()
	if stats.Failed != 1 || stats.Panicked != 1 || stats.Executed != 12 {
		t.Errorf("Stats() = failed %d panicked %d executed %d, want 1/1/12", stats.Failed, stats.Panicked, stats.Executed)
	}
	if stats.Active != 0 || !stats.Quiescent {
		t.Errorf("Stats() active = %d quiescent = %v, want 0/true", stats.Active, stats.Quiescent)
	}
}

// TestEngine_RecentTasks verifies the execution history
func TestEngine_RecentTasks(t *testing.T) {
	// Arrange
	e := newTestEngine(t, 1)

	// Act
	_ = e.SubmitFunc("first", func(ctx context.Context) error { return nil })
	_ = e.SubmitFunc("second", func(ctx context.Context) error { return errors.New("nope") })
	e.AwaitQuiescenceTimeout(time.Second)
	records := e.RecentTasks(10)

	// Assert
	if len(records) != 2 {
		t.Fatalf("RecentTasks() returned %d records, want 2", len(records))
	}
	if records[0].Name != "second" || !records[0].Failed || records[0].Err != "nope" {
		t.Errorf("records[0] = %+v, want failed 'second'", records[0])
	}
	if records[1].Name != "first" || records[1].Failed {
		t.Errorf("records[1] = %+v, want successful 'first'", records[1])
	}
	if records[0].EngineName != e.Name() || records[0].WorkerID == "" {
		t.Errorf("records[0] engine = %q worker = %q, want engine name and worker id", records[0].EngineName, records[0].WorkerID)
	}
	if got := e.Stats().LastTaskName; got != "second" {
		t.Errorf("Stats().LastTaskName = %q, want %q", got, "second")
	}
}

// TestEngine_SubmitNil verifies nil tasks are refused
func TestEngine_SubmitNil(t *testing.T) {
	e := newTestEngine(t, 1)

	if err := e.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Submit(nil) = %v, want ErrNilTask", err)
	}
	if err := e.SubmitFunc("nil", nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("SubmitFunc(nil) = %v, want ErrNilTask", err)
	}
}
