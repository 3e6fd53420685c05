package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Swind/go-sim-runner/core"
)

var (
	// ErrEventInPast is returned when an event is scheduled before the current time.
	ErrEventInPast = errors.New("event scheduled in the past")

	// ErrInvalidInterval is returned for a repeating event with a non-positive period.
	ErrInvalidInterval = errors.New("repeat interval must be positive")
)

// Scheduler owns the logical clock and the event heap of a simulation. Each
// Step submits every event due at the next time to the engine and waits for
// the engine to become quiescent before the clock may move again.
type Scheduler struct {
	engine  *core.Engine
	logger  core.Logger
	tracer  trace.Tracer
	journal Journal
	retry   core.RetryPolicy
	runID   string
	poll    time.Duration

	mu      sync.Mutex
	now     Time
	seq     uint64
	events  eventHeap
	byID    map[string]*Event
	records []EventRecord
}

func newScheduler(engine *core.Engine, runID string, o *Options) *Scheduler {
	return &Scheduler{
		engine:  engine,
		logger:  o.Logger,
		tracer:  o.TracerProvider.Tracer(tracerName),
		journal: o.Journal,
		retry:   o.RetryPolicy,
		runID:   runID,
		poll:    o.PollInterval,
		byID:    make(map[string]*Event),
	}
}

// Now returns the current simulated time.
func (s *Scheduler) Now() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of scheduled events not yet submitted.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// Schedule registers action to run at time at and returns the event ID.
// Events due at the current time run within the current tick.
func (s *Scheduler) Schedule(at Time, name string, action Action) (string, error) {
	if action == nil {
		return "", core.ErrNilTask
	}
	return s.ScheduleTask(at, name, core.TaskFunc(action))
}

// ScheduleAfter registers action to run delay ticks from now.
func (s *Scheduler) ScheduleAfter(delay Time, name string, action Action) (string, error) {
	return s.Schedule(s.Now()+delay, name, action)
}

// ScheduleTask registers a core.Task to run at time at. A Monitored task keeps
// its monitor when submitted.
func (s *Scheduler) ScheduleTask(at Time, name string, task core.Task) (string, error) {
	return s.schedule(at, name, "", task, nil)
}

func (s *Scheduler) schedule(at Time, name, agent string, body core.Task, monitor sync.Locker) (string, error) {
	if body == nil {
		return "", core.ErrNilTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if at < s.now {
		return "", fmt.Errorf("schedule %s at %d (now %d): %w", name, at, s.now, ErrEventInPast)
	}
	s.seq++
	ev := &Event{
		ID:    NewID(),
		At:    at,
		Name:  name,
		Agent: agent,
		seq:   s.seq,
	}
	ev.task = &eventTask{event: ev, body: body, monitor: monitor, recorder: s.record}
	heap.Push(&s.events, ev)
	s.byID[ev.ID] = ev
	return ev.ID, nil
}

// Cancel removes a scheduled event that has not been submitted yet.
// Returns false if the event is unknown or already submitted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok || ev.index < 0 {
		return false
	}
	heap.Remove(&s.events, ev.index)
	delete(s.byID, id)
	return true
}

// record is called by event tasks when their body returns.
func (s *Scheduler) record(ev *Event, err error, duration time.Duration) {
	rec := EventRecord{
		RunID:    s.runID,
		EventID:  ev.ID,
		Tick:     ev.At,
		Name:     ev.Name,
		Agent:    ev.Agent,
		Duration: duration,
	}
	if err != nil {
		rec.Err = err.Error()
	}

	s.mu.Lock()
	rec.Finished = s.now
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// popDue removes every event due at tick from the heap.
func (s *Scheduler) popDue(tick Time) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Event
	for s.events.Len() > 0 && s.events.Peek().At == tick {
		ev := heap.Pop(&s.events).(*Event)
		delete(s.byID, ev.ID)
		due = append(due, ev)
	}
	return due
}

// =============================================================================
// Repeating events
// =============================================================================

// RepeatingHandle controls an event rescheduled at a fixed period.
type RepeatingHandle struct {
	mu      sync.Mutex
	stopped bool
	next    string
	sched   *Scheduler
}

// Stop prevents future firings. A firing already submitted still runs.
func (h *RepeatingHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.sched.Cancel(h.next)
}

// IsStopped reports whether Stop has been called.
func (h *RepeatingHandle) IsStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// ScheduleRepeating runs action at start and then every period ticks until the
// handle is stopped.
func (s *Scheduler) ScheduleRepeating(start, every Time, name string, action Action) (*RepeatingHandle, error) {
	if action == nil {
		return nil, core.ErrNilTask
	}
	if every <= 0 {
		return nil, fmt.Errorf("schedule %s every %d: %w", name, every, ErrInvalidInterval)
	}

	h := &RepeatingHandle{sched: s}
	var fire func(at Time) error
	fire = func(at Time) error {
		id, err := s.Schedule(at, name, func(ctx context.Context) error {
			h.mu.Lock()
			if h.stopped {
				h.mu.Unlock()
				return nil
			}
			if err := fire(at + every); err != nil {
				h.mu.Unlock()
				return err
			}
			h.mu.Unlock()
			return action(ctx)
		})
		if err != nil {
			return err
		}
		h.next = id
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fire(start); err != nil {
		return nil, err
	}
	return h, nil
}

// =============================================================================
// Clock
// =============================================================================

// Step advances the clock to the next scheduled time and drains it: due events
// are submitted, the engine is polled until quiescent, and events scheduled
// for the same time meanwhile are drained as well. Step reports false when no
// event is scheduled.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	s.mu.Lock()
	next := s.events.Peek()
	if next == nil {
		s.mu.Unlock()
		return false, nil
	}
	s.now = next.At
	tick := s.now
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "sim.tick",
		trace.WithAttributes(
			attribute.String("sim.run_id", s.runID),
			attribute.Int64("sim.tick", int64(tick)),
		))
	defer span.End()

	summary := TickSummary{RunID: s.runID, Tick: tick, StartedAt: time.Now()}
	for {
		due := s.popDue(tick)
		if len(due) == 0 {
			break
		}
		for _, ev := range due {
			if err := s.engine.Submit(ev.task); err != nil {
				if errors.Is(err, core.ErrRejectedSubmission) {
					s.logger.Warn("event dropped",
						core.F("run", s.runID),
						core.F("tick", int64(tick)),
						core.F("event", ev.Name),
						core.F("error", err))
					summary.Dropped++
					continue
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return true, fmt.Errorf("submit event %s: %w", ev.Name, err)
			}
			summary.Events++
		}
		if err := s.drain(ctx, tick); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return true, err
		}
	}
	summary.Duration = time.Since(summary.StartedAt)

	s.mu.Lock()
	records := s.records
	s.records = nil
	s.mu.Unlock()
	for _, r := range records {
		if r.Err != "" {
			summary.Failures++
		}
	}

	span.SetAttributes(
		attribute.Int("sim.events", summary.Events),
		attribute.Int("sim.dropped", summary.Dropped),
		attribute.Int64("sim.failures", summary.Failures),
	)
	if err := s.flush(ctx, summary, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, err
	}

	s.logger.Debug("tick drained",
		core.F("run", s.runID),
		core.F("tick", int64(tick)),
		core.F("events", summary.Events),
		core.F("failures", summary.Failures),
		core.F("duration", summary.Duration))
	return true, nil
}

// drain polls the engine until it is quiescent or ctx is done.
func (s *Scheduler) drain(ctx context.Context, tick Time) error {
	for !s.engine.AwaitQuiescenceTimeout(s.poll) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("drain tick %d: %w", tick, err)
		}
		s.logger.Debug("tick still draining",
			core.F("tick", int64(tick)),
			core.F("pending", s.engine.PendingTaskCount()),
			core.F("active", s.engine.ActiveTaskCount()))
	}
	return nil
}

func (s *Scheduler) flush(ctx context.Context, summary TickSummary, records []EventRecord) error {
	if s.journal == nil {
		return nil
	}
	err := core.Retry(ctx, s.retry, s.logger, "journal.record_tick", func() error {
		err := s.journal.RecordTick(ctx, summary, records)
		if errors.Is(err, ErrTickAlreadyRecorded) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record tick %d: %w", summary.Tick, err)
	}
	return nil
}

// Run steps the clock until no event is left, the next event lies beyond
// until, or ctx is done.
func (s *Scheduler) Run(ctx context.Context, until Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		next := s.events.Peek()
		s.mu.Unlock()
		if next == nil || next.At > until {
			return nil
		}
		if _, err := s.Step(ctx); err != nil {
			return err
		}
	}
}
