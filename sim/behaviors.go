package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-sim-runner/core"
)

// Ping is the payload exchanged by the requester and echo behaviors.
type Ping struct {
	Seq    int64 `json:"seq"`
	SentAt Time  `json:"sent_at"`
}

// EchoBehavior replies to every request with the request payload.
type EchoBehavior struct{}

func (EchoBehavior) Start(ctx context.Context, env *Env) error { return nil }

func (EchoBehavior) OnMessage(ctx context.Context, env *Env, msg Message) error {
	return env.Reply(msg, msg.Payload)
}

// RequesterBehavior issues Count sequential requests to Target on start,
// suspending on each until the reply arrives.
type RequesterBehavior struct {
	Target string
	Kind   string
	Count  int64

	mu         sync.Mutex
	completed  int64
	roundTrips []Time
}

func (b *RequesterBehavior) Start(ctx context.Context, env *Env) error {
	for i := range b.Count {
		reply, err := env.Request(ctx, b.Target, b.Kind, Ping{Seq: i, SentAt: env.Now()})
		if err != nil {
			return err
		}
		var pong Ping
		if err := reply.Decode(&pong); err != nil {
			return fmt.Errorf("decode reply %d: %w", i, err)
		}
		if pong.Seq != i {
			return fmt.Errorf("reply %d: got seq %d", i, pong.Seq)
		}

		b.mu.Lock()
		b.completed++
		b.roundTrips = append(b.roundTrips, env.Now()-pong.SentAt)
		b.mu.Unlock()
	}
	env.Logger().Debug("requests completed",
		core.F("agent", env.Self()),
		core.F("target", b.Target),
		core.F("count", b.Count))
	return nil
}

func (b *RequesterBehavior) OnMessage(ctx context.Context, env *Env, msg Message) error {
	return nil
}

// Completed returns the number of requests that received a reply.
func (b *RequesterBehavior) Completed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// RoundTrips returns the simulated round-trip time of each completed request.
func (b *RequesterBehavior) RoundTrips() []Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Time(nil), b.roundTrips...)
}

// CounterBehavior counts delivered messages by kind.
type CounterBehavior struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (b *CounterBehavior) Start(ctx context.Context, env *Env) error { return nil }

func (b *CounterBehavior) OnMessage(ctx context.Context, env *Env, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts == nil {
		b.counts = make(map[string]int64)
	}
	b.counts[msg.Kind]++
	return nil
}

// Count returns the number of messages of kind seen so far.
func (b *CounterBehavior) Count(kind string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[kind]
}

// =============================================================================
// Default registries
// =============================================================================

// DefaultBehaviors returns a registry with the built-in behaviors:
// echo, requester (target, kind, count) and counter.
func DefaultBehaviors() *Registry[Behavior] {
	r := NewRegistry[Behavior]("behavior")
	r.MustRegister("echo", func(Params) (Behavior, error) {
		return EchoBehavior{}, nil
	})
	r.MustRegister("requester", func(p Params) (Behavior, error) {
		target, err := p.RequireString("target")
		if err != nil {
			return nil, err
		}
		kind, err := p.String("kind", "ping")
		if err != nil {
			return nil, err
		}
		count, err := p.Int("count", 1)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, fmt.Errorf("param %q: %d must not be negative", "count", count)
		}
		return &RequesterBehavior{Target: target, Kind: kind, Count: count}, nil
	})
	r.MustRegister("counter", func(Params) (Behavior, error) {
		return &CounterBehavior{}, nil
	})
	return r
}

// DefaultNetworks returns a registry with the built-in network models:
// constant (latency) and uniform (min, max, seed).
func DefaultNetworks() *Registry[Network] {
	r := NewRegistry[Network]("network")
	r.MustRegister("constant", func(p Params) (Network, error) {
		latency, err := p.Time("latency", 1)
		if err != nil {
			return nil, err
		}
		return ConstantNetwork{Latency: latency}, nil
	})
	r.MustRegister("uniform", func(p Params) (Network, error) {
		lo, err := p.Time("min", 1)
		if err != nil {
			return nil, err
		}
		hi, err := p.Time("max", lo)
		if err != nil {
			return nil, err
		}
		seed, err := p.Int("seed", 1)
		if err != nil {
			return nil, err
		}
		return NewUniformNetwork(lo, hi, uint64(seed)), nil
	})
	return r
}
