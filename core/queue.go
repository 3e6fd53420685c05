package core

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// taskQueue: unbounded FIFO of pending tasks
// =============================================================================

// taskQueue is not safe for concurrent use; the Engine guards it with its mutex.
type taskQueue struct {
	tasks []*taskEntry
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks: make([]*taskEntry, 0, defaultQueueCap),
	}
}

func (q *taskQueue) Push(e *taskEntry) {
	q.tasks = append(q.tasks, e)
}

// PushFront puts e back at the head, ahead of everything enqueued after it.
func (q *taskQueue) PushFront(e *taskEntry) {
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[1:], q.tasks)
	q.tasks[0] = e
}

func (q *taskQueue) Pop() (*taskEntry, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}

	e := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompact()

	return e, true
}

// Drain removes and returns every queued entry in FIFO order.
func (q *taskQueue) Drain() []*taskEntry {
	out := q.tasks
	q.tasks = make([]*taskEntry, 0, defaultQueueCap)
	return out
}

func (q *taskQueue) Len() int {
	return len(q.tasks)
}

func (q *taskQueue) IsEmpty() bool {
	return len(q.tasks) == 0
}

func (q *taskQueue) maybeCompact() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*taskEntry, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*taskEntry, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}
