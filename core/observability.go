package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID      TaskID
	Name        string
	EngineName  string
	WorkerID    string
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Suspensions int
	Failed      bool
	Panicked    bool
	Err         string
}

// EngineStats represents runtime observability state for an Engine.
type EngineStats struct {
	Name      string
	Capacity  int
	Pending   int
	Active    int
	Workers   int
	Suspended int
	Executed  int64
	Failed    int64
	Panicked  int64
	Rejected  int64
	Shutdown  bool
	Quiescent bool

	LastTaskName string
	LastTaskAt   time.Time
}
