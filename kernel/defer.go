package kernel

import "errors"

// DefaultDeferCap is the deferred-queue depth used by the device
// managers, matching the source firmware's 100-entry deferred queue.
const DefaultDeferCap = 100

// ErrDeferQueueFull is returned by Defer when the queue has no room. The
// caller's contract is to publish an IGNORED event to the
// original sender rather than silently drop the request.
var ErrDeferQueueFull = errors.New("kernel: deferred queue full")

// DeferQueue is a bounded per-AO FIFO of postponed events, replayed one
// at a time on return to Idle.
type DeferQueue struct {
	cap   int
	items []*Event
}

// NewDeferQueue creates an empty deferred queue with the given capacity.
func NewDeferQueue(cap int) *DeferQueue {
	return &DeferQueue{cap: cap, items: make([]*Event, 0, cap)}
}

// Defer appends ev to the queue. Returns ErrDeferQueueFull if already at
// capacity; the event's reference is left untouched so the caller
// retains ownership and can garbage-collect or re-route it.
func (q *DeferQueue) Defer(ev *Event) error {
	if len(q.items) >= q.cap {
		return ErrDeferQueueFull
	}
	q.items = append(q.items, ev)
	return nil
}

// Recall removes and returns the oldest deferred event. ok is false if
// the queue is empty.
func (q *DeferQueue) Recall() (ev *Event, ok bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	ev = q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Len reports the number of currently deferred events.
func (q *DeferQueue) Len() int { return len(q.items) }
