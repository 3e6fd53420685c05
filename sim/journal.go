package sim

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Journal Data Models
// =============================================================================

// TickSummary describes one fully drained simulated tick. Events counts the
// events submitted during the tick; Failures counts the events that finished
// with an error during it, including events resumed from an earlier tick.
type TickSummary struct {
	RunID     string
	Tick      Time
	Events    int
	Dropped   int
	Failures  int64
	StartedAt time.Time
	Duration  time.Duration
}

// EventRecord describes one executed event. Tick is the time the event was
// scheduled for; Finished is the tick during which its body returned, which
// is later when the event suspended across ticks.
type EventRecord struct {
	RunID    string
	EventID  string
	Tick     Time
	Finished Time
	Name     string
	Agent    string
	Err      string
	Duration time.Duration
}

// =============================================================================
// Journal Interface
// =============================================================================

// Journal persists per-tick summaries and event outcomes of a run.
// Implementations can use in-memory storage, databases, or other backends.
type Journal interface {
	// RecordTick stores the summary of a tick together with the events
	// that finished since the previous tick was recorded.
	RecordTick(ctx context.Context, summary TickSummary, events []EventRecord) error

	// Ticks returns the summaries of a run ordered by tick.
	Ticks(ctx context.Context, runID string) ([]TickSummary, error)

	// Events returns the records of the events of a run that finished
	// during tick, the same events its TickSummary accounts for.
	Events(ctx context.Context, runID string, tick Time) ([]EventRecord, error)

	// Close releases the journal's resources.
	Close() error
}

// ErrTickAlreadyRecorded indicates the tick of a run was already journaled.
var ErrTickAlreadyRecorded = errors.New("tick already recorded")

// =============================================================================
// MemoryJournal Implementation
// =============================================================================

type tickKey struct {
	runID string
	tick  Time
}

// MemoryJournal is an in-memory implementation of Journal.
type MemoryJournal struct {
	mu     sync.RWMutex
	ticks  map[tickKey]TickSummary
	events map[tickKey][]EventRecord
}

// NewMemoryJournal creates a new in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		ticks:  make(map[tickKey]TickSummary),
		events: make(map[tickKey][]EventRecord),
	}
}

// RecordTick stores a tick summary and its events.
// Returns ErrTickAlreadyRecorded if the tick exists for the run.
func (j *MemoryJournal) RecordTick(ctx context.Context, summary TickSummary, events []EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := tickKey{runID: summary.RunID, tick: summary.Tick}
	if _, exists := j.ticks[key]; exists {
		return ErrTickAlreadyRecorded
	}
	j.ticks[key] = summary
	for _, ev := range events {
		ev.Finished = summary.Tick
		j.events[key] = append(j.events[key], ev)
	}
	return nil
}

// Ticks returns the summaries of runID ordered by tick.
func (j *MemoryJournal) Ticks(ctx context.Context, runID string) ([]TickSummary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []TickSummary
	for key, summary := range j.ticks {
		if key.runID == runID {
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Tick < out[k].Tick })
	return out, nil
}

// Events returns a copy of the records of events that finished during tick.
func (j *MemoryJournal) Events(ctx context.Context, runID string, tick Time) ([]EventRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	records := j.events[tickKey{runID: runID, tick: tick}]
	return append([]EventRecord(nil), records...), nil
}

// Close is a no-op.
func (j *MemoryJournal) Close() error {
	return nil
}
