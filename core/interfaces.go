package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the worker)
	// - engineName: The name of the engine where the panic occurred
	// - workerID: The ID of the worker that ran the task
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, engineName string, workerID string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, engineName string, workerID string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewZapLogger(nil)
	}
	logger.Error("task panicked",
		F("engine", engineName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// FailureHandler: Interface for handling task errors
// =============================================================================

// FailureHandler is called when a task returns a non-nil error.
// The error never propagates further than this handler.
type FailureHandler interface {
	HandleFailure(ctx context.Context, engineName string, workerID string, taskName string, err error)
}

// DefaultFailureHandler logs task failures at warn level.
type DefaultFailureHandler struct {
	Logger Logger
}

// HandleFailure logs the failed task.
func (h *DefaultFailureHandler) HandleFailure(ctx context.Context, engineName string, workerID string, taskName string, err error) {
	logger := h.Logger
	if logger == nil {
		logger = NewZapLogger(nil)
	}
	logger.Warn("task failed",
		F("engine", engineName),
		F("worker", workerID),
		F("task", taskName),
		F("error", err))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task body took to execute,
	// including any time spent suspended.
	RecordTaskDuration(engineName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(engineName string, panicInfo any)

	// RecordTaskFailure records that a task returned an error.
	RecordTaskFailure(engineName string)

	// RecordQueueDepth records the current pending queue depth.
	RecordQueueDepth(engineName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(engineName string, reason string)

	// RecordSuspension records that a running task suspended its worker.
	RecordSuspension(engineName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(engineName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(engineName string, panicInfo any)             {}
func (m *NilMetrics) RecordTaskFailure(engineName string)                          {}
func (m *NilMetrics) RecordQueueDepth(engineName string, depth int)                {}
func (m *NilMetrics) RecordTaskRejected(engineName string, reason string)          {}
func (m *NilMetrics) RecordSuspension(engineName string)                           {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is rejected.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	// HandleRejectedTask is called when a task is rejected.
	//
	// Parameters:
	// - engineName: The name of the engine
	// - taskName: The resolved name of the rejected task
	// - reason: Why the task was rejected (e.g., "shutdown")
	HandleRejectedTask(engineName string, taskName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(engineName string, taskName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewZapLogger(nil)
	}
	logger.Warn("task rejected",
		F("engine", engineName),
		F("task", taskName),
		F("reason", reason))
}

// =============================================================================
// EngineConfig: Configuration for Engine
// =============================================================================

// EngineConfig holds configuration options for Engine.
// All fields are optional; zero values are replaced by defaults.
type EngineConfig struct {
	// Name labels logs, metrics and stats. Defaults to "engine".
	Name string

	// Logger receives lifecycle and absorption logs. Defaults to a ZapLogger over zap.L().
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// FailureHandler is called when a task returns an error. Defaults to DefaultFailureHandler.
	FailureHandler FailureHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds RecentTasks. Defaults to 100.
	HistoryCapacity int
}

// DefaultEngineConfig returns a config with default handlers.
func DefaultEngineConfig() *EngineConfig {
	logger := NewZapLogger(nil)
	return &EngineConfig{
		Name:                defaultEngineName,
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		FailureHandler:      &DefaultFailureHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

func (c *EngineConfig) withDefaults() EngineConfig {
	out := EngineConfig{}
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = defaultEngineName
	}
	if out.Logger == nil {
		out.Logger = NewZapLogger(nil)
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.FailureHandler == nil {
		out.FailureHandler = &DefaultFailureHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	if out.HistoryCapacity < 1 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return out
}
