package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Swind/go-sim-runner/core"
)

const tracerName = "github.com/Swind/go-sim-runner/sim"

var (
	// ErrInvalidOptions is returned by New for options it cannot run with.
	ErrInvalidOptions = errors.New("invalid simulation options")

	// ErrClosed is returned by Run after Shutdown.
	ErrClosed = errors.New("simulation closed")
)

// Options configure a Simulation.
type Options struct {
	// Name labels the engine in logs and metrics.
	Name string

	// Capacity bounds concurrently executing events. Must be in [1, 10000].
	Capacity int

	// PollInterval is the timeout of each quiescence wait between ticks.
	PollInterval time.Duration

	Logger         core.Logger
	Metrics        core.Metrics
	Journal        Journal
	TracerProvider trace.TracerProvider
	Network        Network

	// RetryPolicy governs journal writes.
	RetryPolicy core.RetryPolicy

	// HistoryCapacity is the number of task records the engine keeps.
	HistoryCapacity int
}

func defaultOptions() Options {
	return Options{
		Name:            "sim",
		Capacity:        4,
		PollInterval:    100 * time.Millisecond,
		RetryPolicy:     core.DefaultRetryPolicy(),
		HistoryCapacity: 256,
	}
}

// Simulation is one run: its engine, scheduler, network, agents and journal.
// Components reach each other through the Simulation value; there is no
// process-wide instance.
type Simulation struct {
	id        string
	engine    *core.Engine
	scheduler *Scheduler
	network   Network
	journal   Journal
	logger    core.Logger

	mu      sync.RWMutex
	agents  map[string]*Agent
	order   []string
	started bool
	closed  bool
}

// New creates a Simulation with capacity workers already started.
func New(optFns ...func(o *Options)) (*Simulation, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Capacity < 1 || opts.Capacity > 10000 {
		return nil, fmt.Errorf("capacity %d out of range [1, 10000]: %w", opts.Capacity, ErrInvalidOptions)
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval %v must be positive: %w", opts.PollInterval, ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = core.NewZapLogger(nil)
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Network == nil {
		opts.Network = ConstantNetwork{Latency: 1}
	}
	if opts.Journal == nil {
		opts.Journal = NewMemoryJournal()
	}

	engine := core.NewEngineWithConfig(opts.Capacity, &core.EngineConfig{
		Name:            opts.Name,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		HistoryCapacity: opts.HistoryCapacity,
	})

	runID := NewID()
	s := &Simulation{
		id:      runID,
		engine:  engine,
		network: opts.Network,
		journal: opts.Journal,
		logger:  opts.Logger,
		agents:  make(map[string]*Agent),
	}
	s.scheduler = newScheduler(engine, runID, &opts)

	s.logger.Info("simulation created",
		core.F("run", runID),
		core.F("name", opts.Name),
		core.F("capacity", opts.Capacity))
	return s, nil
}

// ID returns the run identifier used by the journal.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the execution engine.
func (s *Simulation) Engine() *core.Engine {
	return s.engine
}

// Scheduler returns the event scheduler.
func (s *Simulation) Scheduler() *Scheduler {
	return s.scheduler
}

// Journal returns the journal ticks are recorded to.
func (s *Simulation) Journal() Journal {
	return s.journal
}

// Network returns the network model.
func (s *Simulation) Network() Network {
	return s.network
}

// Now returns the current simulated time.
func (s *Simulation) Now() Time {
	return s.scheduler.Now()
}

// AddAgent registers an agent. If the simulation already started, the
// agent's Start is scheduled at the current time.
func (s *Simulation) AddAgent(id string, behavior Behavior) (*Agent, error) {
	if id == "" || behavior == nil {
		return nil, fmt.Errorf("add agent %q: id and behavior are required", id)
	}

	s.mu.Lock()
	if _, exists := s.agents[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("add agent %q: %w", id, ErrDuplicateAgent)
	}
	a := &Agent{
		id:       id,
		behavior: behavior,
		sim:      s,
		pending:  make(map[string]*pendingRequest),
	}
	s.agents[id] = a
	s.order = append(s.order, id)
	started := s.started
	s.mu.Unlock()

	if started {
		if err := s.scheduleStart(a, s.scheduler.Now()); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Agent returns the agent with the given ID.
func (s *Simulation) Agent(id string) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// Agents returns every agent sorted by ID.
func (s *Simulation) Agents() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Simulation) scheduleStart(a *Agent, at Time) error {
	_, err := a.schedule(at, "start:"+a.id, func(ctx context.Context, env *Env) error {
		return a.behavior.Start(ctx, env)
	})
	return err
}

// Run starts the agents on the first call, then advances the clock until no
// event is left, the next event lies beyond until, or ctx is done.
func (s *Simulation) Run(ctx context.Context, until Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("run %s: %w", s.id, ErrClosed)
	}
	first := !s.started
	s.started = true
	order := append([]string(nil), s.order...)
	s.mu.Unlock()

	if first {
		now := s.scheduler.Now()
		for _, id := range order {
			a, _ := s.Agent(id)
			if err := s.scheduleStart(a, now); err != nil {
				return err
			}
		}
	}

	startedAt := time.Now()
	err := s.scheduler.Run(ctx, until)
	s.logger.Info("simulation run finished",
		core.F("run", s.id),
		core.F("now", int64(s.scheduler.Now())),
		core.F("pending_events", s.scheduler.Pending()),
		core.F("elapsed", time.Since(startedAt)),
		core.F("error", err))
	return err
}

// Shutdown stops the engine and waits up to timeout for its workers to exit.
// It returns the tasks that never started. Later calls return an empty slice.
func (s *Simulation) Shutdown(timeout time.Duration) []core.Task {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	unstarted := s.engine.Shutdown()
	if !s.engine.AwaitTermination(timeout) {
		s.logger.Warn("engine did not terminate in time",
			core.F("run", s.id),
			core.F("timeout", timeout),
			core.F("suspended", s.engine.SuspendedWorkerCount()))
	}
	return unstarted
}

// Close shuts the simulation down and closes the journal.
func (s *Simulation) Close(timeout time.Duration) error {
	s.Shutdown(timeout)
	if err := s.journal.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}
