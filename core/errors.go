package core

import "errors"

// Engine-level errors. Task failures never surface through these; they are
// absorbed at the worker boundary and reported to the FailureHandler.
var (
	// ErrRejectedSubmission is returned by Submit after Shutdown has been called.
	ErrRejectedSubmission = errors.New("task submission rejected: engine is shut down")

	// ErrNotInWorkerContext is returned when the caller is not running inside a worker.
	ErrNotInWorkerContext = errors.New("not in worker context")

	// ErrAlreadyPrepared is returned when a Condition is bound twice.
	ErrAlreadyPrepared = errors.New("condition already prepared")

	// ErrNotPrepared is returned when an unbound Condition is woken.
	ErrNotPrepared = errors.New("condition not prepared")

	// ErrInterrupted is returned from Await when the worker is killed while suspended.
	ErrInterrupted = errors.New("worker interrupted")

	// ErrNilTask is returned by Submit for a nil task.
	ErrNilTask = errors.New("task must not be nil")

	// ErrNotAwaitable is returned when Await is called on a worker with no running task.
	ErrNotAwaitable = errors.New("worker is not running a task")
)
