package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Swind/go-sim-runner/core"
)

func newTestSim(t *testing.T, optFns ...func(o *Options)) *Simulation {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.Capacity = 2
		o.PollInterval = 10 * time.Millisecond
		o.Logger = core.NewNoOpLogger()
		o.RetryPolicy = core.NoRetry()
	}}, optFns...)

	s, err := New(fns...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(5 * time.Second)
	})
	return s
}

// funcBehavior adapts closures to Behavior.
type funcBehavior struct {
	start     func(ctx context.Context, env *Env) error
	onMessage func(ctx context.Context, env *Env, msg Message) error
}

func (b *funcBehavior) Start(ctx context.Context, env *Env) error {
	if b.start == nil {
		return nil
	}
	return b.start(ctx, env)
}

func (b *funcBehavior) OnMessage(ctx context.Context, env *Env, msg Message) error {
	if b.onMessage == nil {
		return nil
	}
	return b.onMessage(ctx, env, msg)
}
