package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-sim-runner/core"
	"github.com/Swind/go-sim-runner/sim"
	prom "github.com/prometheus/client_golang/prometheus"
)

// EngineSnapshotProvider provides current engine stats snapshots.
type EngineSnapshotProvider interface {
	Stats() core.EngineStats
}

// ClockSnapshotProvider provides the simulated clock and its backlog.
// *sim.Scheduler implements it.
type ClockSnapshotProvider interface {
	Now() sim.Time
	Pending() int
}

// SnapshotPoller periodically exports engine and clock snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	enginesMu sync.RWMutex
	engines   map[string]EngineSnapshotProvider

	clocksMu sync.RWMutex
	clocks   map[string]ClockSnapshotProvider

	enginePending   *prom.GaugeVec
	engineActive    *prom.GaugeVec
	engineWorkers   *prom.GaugeVec
	engineSuspended *prom.GaugeVec
	engineCapacity  *prom.GaugeVec
	engineShutdown  *prom.GaugeVec

	simTime          *prom.GaugeVec
	simPendingEvents *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "simrunner"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:         interval,
		engines:          make(map[string]EngineSnapshotProvider),
		clocks:           make(map[string]ClockSnapshotProvider),
		enginePending:    gauge("engine_pending", "Number of queued tasks per engine.", "engine"),
		engineActive:     gauge("engine_active", "Number of active tasks per engine.", "engine"),
		engineWorkers:    gauge("engine_workers", "Live workers per engine, suspended ones included.", "engine"),
		engineSuspended:  gauge("engine_suspended", "Workers parked in a suspension per engine.", "engine"),
		engineCapacity:   gauge("engine_capacity", "Admission capacity per engine.", "engine"),
		engineShutdown:   gauge("engine_shutdown", "Engine shutdown state (1=shut down, 0=accepting).", "engine"),
		simTime:          gauge("sim_time", "Current simulated time in ticks.", "simulation"),
		simPendingEvents: gauge("sim_pending_events", "Scheduled events not yet submitted.", "simulation"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.enginePending, &p.engineActive, &p.engineWorkers, &p.engineSuspended,
		&p.engineCapacity, &p.engineShutdown, &p.simTime, &p.simPendingEvents,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddEngine adds or replaces an engine snapshot provider by name.
func (p *SnapshotPoller) AddEngine(name string, provider EngineSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "engine")
	p.enginesMu.Lock()
	p.engines[name] = provider
	p.enginesMu.Unlock()
}

// RemoveEngine removes an engine snapshot provider by name.
func (p *SnapshotPoller) RemoveEngine(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "engine")
	p.enginesMu.Lock()
	delete(p.engines, name)
	p.enginesMu.Unlock()
}

// AddClock adds or replaces a simulated clock provider by name.
func (p *SnapshotPoller) AddClock(name string, provider ClockSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "simulation")
	p.clocksMu.Lock()
	p.clocks[name] = provider
	p.clocksMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling and takes a final snapshot; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()

	p.CollectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce exports one snapshot of every provider.
func (p *SnapshotPoller) CollectOnce() {
	p.enginesMu.RLock()
	for name, provider := range p.engines {
		stats := provider.Stats()
		p.enginePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.engineActive.WithLabelValues(name).Set(float64(stats.Active))
		p.engineWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.engineSuspended.WithLabelValues(name).Set(float64(stats.Suspended))
		p.engineCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
		if stats.Shutdown {
			p.engineShutdown.WithLabelValues(name).Set(1)
		} else {
			p.engineShutdown.WithLabelValues(name).Set(0)
		}
	}
	p.enginesMu.RUnlock()

	p.clocksMu.RLock()
	for name, provider := range p.clocks {
		p.simTime.WithLabelValues(name).Set(float64(provider.Now()))
		p.simPendingEvents.WithLabelValues(name).Set(float64(provider.Pending()))
	}
	p.clocksMu.RUnlock()
}
