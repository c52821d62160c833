package kernel

import "sync"

// Kernel is the process-wide publish/subscribe fabric: a table mapping
// each signal to the set of AOs subscribed to it, plus the event pools
// every AO allocates from.
type Kernel struct {
	*Pools

	mu   sync.RWMutex
	subs map[Signal][]*AO

	// RawQueue is the explicit wake-up channel for the blocking-fallback
	// task:
	// a device manager posts completion events here directly for any
	// requester that is a suspended task rather than an AO.
	RawQueue chan *Event
}

// NewKernel creates a kernel with default pool sizes and a raw queue
// sized for a handful of outstanding blocking requests.
func NewKernel() *Kernel {
	return &Kernel{
		Pools:    NewDefaultPools(),
		subs:     make(map[Signal][]*AO),
		RawQueue: make(chan *Event, 4),
	}
}

// Subscribe registers ao to receive every Publish of sig. Subscriber
// order is preserved, matching the "delivered in subscriber-registration
// order" ordering guarantee.
func (k *Kernel) Subscribe(sig Signal, ao *AO) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.subs[sig] = append(k.subs[sig], ao)
}

// Publish delivers ev to every subscriber of ev.Signal in
// registration order. A freshly allocated event already carries the one
// reference its allocation gave it, covering its first (and, for a
// single subscriber, only) destination; fanning out to additional
// subscribers adds one reference per extra destination so the total
// reference count equals the subscriber count. A signal with no
// subscribers immediately garbage-collects the event (nothing will
// ever drop its last reference otherwise).
func (k *Kernel) Publish(ev *Event) {
	k.mu.RLock()
	targets := k.subs[ev.Signal]
	k.mu.RUnlock()

	if len(targets) == 0 {
		k.GarbageCollect(ev)
		return
	}
	if len(targets) > 1 {
		k.AddRef(ev, int32(len(targets)-1))
	}
	for _, ao := range targets {
		ao.enqueue(ev)
	}
}

// Post is direct, point-to-point delivery: publish equivalent to a
// single subscriber. The event's existing reference (from allocation,
// or from whatever held it before) covers this one destination, so
// Post does not add another. Non-blocking; a full mailbox is a fatal
// condition, since mailboxes are expected to be sized for measured
// worst case.
func (k *Kernel) Post(ao *AO, ev *Event) {
	ao.enqueue(ev)
}

// PostFromISR is the ISR-context variant of Post: identical delivery,
// but callable from code standing in for interrupt context, which must
// never allocate, block, or run state-handler code directly.
func (k *Kernel) PostFromISR(ao *AO, ev *Event) {
	ao.postFromISR(ev)
}
