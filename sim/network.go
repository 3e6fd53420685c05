package sim

import (
	"math/rand/v2"
	"sync"
)

// Network decides how many ticks a message takes between two agents.
type Network interface {
	Delay(from, to string) Time
}

// ConstantNetwork delivers every message after the same latency.
type ConstantNetwork struct {
	Latency Time
}

// Delay returns the fixed latency.
func (n ConstantNetwork) Delay(from, to string) Time {
	if n.Latency < 0 {
		return 0
	}
	return n.Latency
}

// UniformNetwork draws each delay uniformly from a closed range of ticks.
type UniformNetwork struct {
	min, max Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewUniformNetwork creates a UniformNetwork seeded with seed so runs replay.
// Bounds are swapped if given in reverse.
func NewUniformNetwork(minDelay, maxDelay Time, seed uint64) *UniformNetwork {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	minDelay = max(minDelay, 0)
	maxDelay = max(maxDelay, 0)
	return &UniformNetwork{
		min: minDelay,
		max: maxDelay,
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Delay returns a delay in [min, max].
func (n *UniformNetwork) Delay(from, to string) Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	span := int64(n.max - n.min)
	return n.min + Time(n.rnd.Int64N(span+1))
}
