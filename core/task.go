package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Task is the unit of work executed by an Engine worker.
// The ctx passed to Execute carries the running Worker (see CurrentWorker)
// and is cancelled when that worker is killed.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute calls f(ctx).
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Monitored is implemented by tasks that guard their suspend/resume
// rendezvous with an exclusion object. The task must hold the monitor when it
// calls Worker.Await; Await releases it while parked and re-acquires it before
// returning. Whoever wakes the task should hold the same monitor.
type Monitored interface {
	Monitor() sync.Locker
}

// Named is implemented by tasks that report a name for history and logs.
type Named interface {
	Name() string
}

type decoratedTask struct {
	Task
	name    string
	monitor sync.Locker
}

func (t *decoratedTask) Unwrap() Task { return t.Task }

// WithMonitor returns a Task that reports mu as its monitor.
func WithMonitor(task Task, mu sync.Locker) Task {
	if task == nil {
		return nil
	}
	return &decoratedTask{Task: task, monitor: mu}
}

// WithName returns a Task that reports name in execution records.
func WithName(task Task, name string) Task {
	if task == nil {
		return nil
	}
	return &decoratedTask{Task: task, name: name}
}

// Monitor returns the monitor of the decorated task, falling back to the wrapped one.
func (t *decoratedTask) Monitor() sync.Locker {
	if t.monitor != nil {
		return t.monitor
	}
	return monitorOf(t.Task)
}

// Name returns the explicit name, falling back to the wrapped task's name.
func (t *decoratedTask) Name() string {
	if t.name != "" {
		return t.name
	}
	return resolveTaskName(t.Task)
}

func monitorOf(task Task) sync.Locker {
	if m, ok := task.(Monitored); ok {
		return m.Monitor()
	}
	return nil
}

// =============================================================================
// TaskID
// =============================================================================

// TaskID identifies one submission of a task.
type TaskID string

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.NewString())
}

func (id TaskID) String() string { return string(id) }

// taskEntry is a task as it travels through the engine.
type taskEntry struct {
	id          TaskID
	task        Task
	name        string
	seq         uint64
	suspensions int
}

func newTaskEntry(task Task) *taskEntry {
	return &taskEntry{
		id:   GenerateTaskID(),
		task: task,
		name: resolveTaskName(task),
	}
}

// =============================================================================
// Context Helper
// =============================================================================
type workerKeyType struct{}

var workerKey workerKeyType

// CurrentWorker returns the Worker executing the task that owns ctx.
func CurrentWorker(ctx context.Context) (*Worker, error) {
	if ctx != nil {
		if w, ok := ctx.Value(workerKey).(*Worker); ok && w != nil {
			return w, nil
		}
	}
	return nil, ErrNotInWorkerContext
}
