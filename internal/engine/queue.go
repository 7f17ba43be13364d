package engine

import (
	"sync"
)

// eventType distinguishes between event kinds.
type eventType int

const (
	eventStart eventType = iota + 1
	eventDestroy
	eventTrack
	eventForget
	eventResendFeedbacks
	eventVariablesChanged
	eventReconcile
	eventUpgradeResult
	eventRetryDegraded
)

func (t eventType) String() string {
	switch t {
	case eventStart:
		return "start"
	case eventDestroy:
		return "destroy"
	case eventTrack:
		return "track"
	case eventForget:
		return "forget"
	case eventResendFeedbacks:
		return "resend_feedbacks"
	case eventVariablesChanged:
		return "variables_changed"
	case eventReconcile:
		return "reconcile"
	case eventUpgradeResult:
		return "upgrade_result"
	case eventRetryDegraded:
		return "retry_degraded"
	default:
		return "unknown"
	}
}

// event is one unit of work for the Run loop. Only the fields relevant to
// typ are set.
type event struct {
	typ eventType

	ref          EntityRef
	entityID     string
	controlID    string
	variableIDs  []string
	upgradeIndex int
	generation   uint64
	result       *upgradeResult
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so public operations and adapter completions never
// block the caller. Any goroutine may enqueue; only the engine dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain refs and results.
	q.events[0] = event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
