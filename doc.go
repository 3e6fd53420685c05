// Package simrunner provides a bounded-concurrency task engine whose tasks
// can suspend themselves without holding on to a concurrency slot, and a
// discrete-event simulation runtime built on top of it.
//
// # Engine
//
// An Engine admits at most capacity tasks at once. A running task may park
// its worker with Worker.Await (or the higher level Condition.Wait); the slot
// is released while it is parked and a replacement worker takes over the
// queue. Whoever resumes the task calls Worker.WakeUp or Condition.Wakeup.
//
//	engine := simrunner.NewEngine(4)
//	defer engine.AwaitTermination(time.Second)
//	defer engine.Shutdown()
//
//	_ = engine.SubmitFunc("hello", func(ctx context.Context) error {
//		fmt.Println("hello")
//		return nil
//	})
//	engine.AwaitQuiescenceTimeout(time.Second)
//
// Tasks that suspend must hold their monitor (see WithMonitor) when they
// call Await. The monitor is released while parked and re-acquired before
// Await returns.
//
// # Simulation
//
// Package sim drives agents that exchange messages over a simulated network.
// Each event runs on the engine; a tick completes once the engine is
// quiescent, so an agent blocked in a request does not stall the clock.
//
//	s, _ := sim.New(func(o *sim.Options) { o.Capacity = 2 })
//	_, _ = s.AddAgent("server", sim.EchoBehavior{})
//	_, _ = s.AddAgent("client", &sim.RequesterBehavior{Target: "server", Count: 3})
//	_ = s.Run(ctx, sim.Forever)
//
// The cmd/simrun binary runs YAML setups and exposes Prometheus metrics and
// a small HTTP inspection API while a run is in progress.
package simrunner
