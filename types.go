package simrunner

import "github.com/Swind/go-sim-runner/core"

// Re-export commonly used types from the core package so that callers
// driving an Engine directly only need this import.

// Engine is the bounded-concurrency task executor.
type Engine = core.Engine

// EngineConfig holds optional Engine handlers and limits.
type EngineConfig = core.EngineConfig

// EngineStats is a point-in-time snapshot of an Engine.
type EngineStats = core.EngineStats

// Task is the unit of work executed by an Engine worker.
type Task = core.Task

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc = core.TaskFunc

// Worker runs tasks on behalf of an Engine and can suspend them.
type Worker = core.Worker

// Condition binds a suspended worker to a future wake-up.
type Condition = core.Condition

// Monitored is implemented by tasks that carry an exclusion object.
type Monitored = core.Monitored

// RetryPolicy configures retried side effects such as journal writes.
type RetryPolicy = core.RetryPolicy

// Errors returned by the engine.
var (
	ErrRejectedSubmission = core.ErrRejectedSubmission
	ErrNotInWorkerContext = core.ErrNotInWorkerContext
	ErrAlreadyPrepared    = core.ErrAlreadyPrepared
	ErrNotPrepared        = core.ErrNotPrepared
	ErrInterrupted        = core.ErrInterrupted
	ErrNilTask            = core.ErrNilTask
)

// Convenience constructors and helpers.
var (
	NewEngine           = core.NewEngine
	NewEngineWithConfig = core.NewEngineWithConfig
	DefaultEngineConfig = core.DefaultEngineConfig
	NewCondition        = core.NewCondition
	CurrentWorker       = core.CurrentWorker
	WithMonitor         = core.WithMonitor
	WithName            = core.WithName
	NoRetry             = core.NoRetry
)
