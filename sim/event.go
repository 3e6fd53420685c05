package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-sim-runner/core"
)

// Action is the body of a scheduled event.
type Action func(ctx context.Context) error

// Event is a unit of work due at a simulated time.
type Event struct {
	ID    string
	At    Time
	Name  string
	Agent string

	seq   uint64
	task  core.Task
	index int // for heap interface
}

// eventHeap implements heap.Interface ordered by (At, seq).
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	n := len(*h)
	item := x.(*Event)
	item.index = n
	*h = append(*h, item)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *eventHeap) Peek() *Event {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// eventTask adapts an Event to core.Task and records its outcome.
type eventTask struct {
	event    *Event
	body     core.Task
	monitor  sync.Locker
	recorder func(ev *Event, err error, duration time.Duration)
}

func (t *eventTask) Name() string { return t.event.Name }

func (t *eventTask) Monitor() sync.Locker {
	if t.monitor != nil {
		return t.monitor
	}
	if m, ok := t.body.(core.Monitored); ok {
		return m.Monitor()
	}
	return nil
}

func (t *eventTask) Execute(ctx context.Context) (err error) {
	startedAt := time.Now()
	defer func() {
		if t.recorder == nil {
			return
		}
		if rec := recover(); rec != nil {
			t.recorder(t.event, fmt.Errorf("panic: %v", rec), time.Since(startedAt))
			panic(rec)
		}
		t.recorder(t.event, err, time.Since(startedAt))
	}()
	return t.body.Execute(ctx)
}
