package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-sim-runner/core"
)

var (
	// ErrUnknownAgent is returned when a message targets an agent that does not exist.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent is returned when an agent ID is registered twice.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrNoReply is returned by Request when the requester was woken without a reply.
	ErrNoReply = errors.New("woken without reply")
)

// Behavior is the protocol an agent plays. Callbacks run as engine tasks with
// the agent's lock held, so an agent never handles two messages at once.
type Behavior interface {
	// Start runs once when the simulation starts (or when the agent joins a
	// running simulation).
	Start(ctx context.Context, env *Env) error

	// OnMessage handles a delivered message that is not a reply to a pending request.
	OnMessage(ctx context.Context, env *Env, msg Message) error
}

// Agent is a simulated participant bound to one Behavior.
type Agent struct {
	id       string
	behavior Behavior
	sim      *Simulation

	mu      sync.Mutex // monitor of every task run on behalf of the agent
	pending map[string]*pendingRequest

	received atomic.Int64
	sent     atomic.Int64
}

type pendingRequest struct {
	cond  *core.Condition
	reply *Message
}

// ID returns the agent identifier.
func (a *Agent) ID() string {
	return a.id
}

// Behavior returns the agent's behavior.
func (a *Agent) Behavior() Behavior {
	return a.behavior
}

// Received returns the number of messages delivered to the agent.
func (a *Agent) Received() int64 {
	return a.received.Load()
}

// Sent returns the number of messages the agent sent.
func (a *Agent) Sent() int64 {
	return a.sent.Load()
}

// schedule runs fn on behalf of the agent at time at, with the agent lock held.
func (a *Agent) schedule(at Time, name string, fn func(ctx context.Context, env *Env) error) (string, error) {
	body := core.TaskFunc(func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		return fn(ctx, &Env{agent: a})
	})
	return a.sim.scheduler.schedule(at, name, a.id, body, &a.mu)
}

// deliver runs with a.mu held.
func (a *Agent) deliver(ctx context.Context, env *Env, msg Message) error {
	a.received.Add(1)
	if msg.IsReply() {
		if pr, ok := a.pending[msg.InReplyTo]; ok {
			delete(a.pending, msg.InReplyTo)
			pr.reply = &msg
			return pr.cond.Wakeup()
		}
		env.Logger().Debug("late reply ignored",
			core.F("agent", a.id),
			core.F("message", msg.ID),
			core.F("in_reply_to", msg.InReplyTo))
		return nil
	}
	return a.behavior.OnMessage(ctx, env, msg)
}

// =============================================================================
// Env
// =============================================================================

// Env is the view of the simulation handed to behavior callbacks.
type Env struct {
	agent *Agent
}

// Self returns the ID of the agent the callback runs for.
func (e *Env) Self() string {
	return e.agent.id
}

// Now returns the current simulated time.
func (e *Env) Now() Time {
	return e.agent.sim.scheduler.Now()
}

// Logger returns the simulation logger.
func (e *Env) Logger() core.Logger {
	return e.agent.sim.logger
}

// Send delivers a message to agent to after the network delay and returns its ID.
func (e *Env) Send(to, kind string, payload any) (string, error) {
	msg, err := e.send(to, kind, payload, "")
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Reply answers req. The reply resumes the requester if it is waiting in Request.
func (e *Env) Reply(req Message, payload any) error {
	_, err := e.send(req.From, req.Kind, payload, req.ID)
	return err
}

// Request sends a message to agent to and suspends the calling task until the
// reply is delivered. The engine slot is released while waiting.
func (e *Env) Request(ctx context.Context, to, kind string, payload any) (Message, error) {
	a := e.agent
	pr := &pendingRequest{cond: core.NewCondition()}

	msg, err := e.send(to, kind, payload, "")
	if err != nil {
		return Message{}, err
	}
	a.pending[msg.ID] = pr

	if err := pr.cond.Wait(ctx); err != nil {
		delete(a.pending, msg.ID)
		return Message{}, fmt.Errorf("request %s to %s: %w", kind, to, err)
	}
	if pr.reply == nil {
		return Message{}, fmt.Errorf("request %s to %s: %w", kind, to, ErrNoReply)
	}
	return *pr.reply, nil
}

// After runs fn on behalf of this agent delay ticks from now.
func (e *Env) After(delay Time, name string, fn func(ctx context.Context, env *Env) error) (string, error) {
	return e.agent.schedule(e.Now()+delay, name, fn)
}

func (e *Env) send(to, kind string, payload any, inReplyTo string) (Message, error) {
	a := e.agent
	s := a.sim
	target, ok := s.Agent(to)
	if !ok {
		return Message{}, fmt.Errorf("send %s from %s to %s: %w", kind, a.id, to, ErrUnknownAgent)
	}

	data, err := defaultCodec.Encode(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	now := s.scheduler.Now()
	msg := Message{
		ID:        NewID(),
		From:      a.id,
		To:        to,
		Kind:      kind,
		Payload:   data,
		SentAt:    now,
		DeliverAt: now + s.network.Delay(a.id, to),
		InReplyTo: inReplyTo,
	}

	name := "deliver:" + kind
	if msg.IsReply() {
		name = "reply:" + kind
	}
	if _, err := target.schedule(msg.DeliverAt, name, func(ctx context.Context, env *Env) error {
		return target.deliver(ctx, env, msg)
	}); err != nil {
		return Message{}, err
	}
	a.sent.Add(1)
	return msg, nil
}
