package kernel

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"coupler-fw/x/fmtx"
)

// Priority is an AO's rank; higher numbers rank higher. Zero is reserved
// and never assigned to a real AO. Each AO dispatches on its own
// goroutine: the kernel does not order or preempt dispatch by Priority.
type Priority uint8

// SignalTrigger maps an incoming Event's signal to the stateless trigger
// name the AO's state machine should fire, plus whether this AO accepts
// that signal at all. Unrecognised signals are logged and garbage
// collected rather than misrouted into the state machine.
type SignalTrigger func(sig Signal) (trigger string, ok bool)

// AO is a long-lived, single-threaded active object: one goroutine
// running a select loop over its mailbox, dispatching each event through
// a hierarchical state machine. An AO never blocks the rest of the
// kernel and processes at most one event at a time.
type AO struct {
	Name     string
	Priority Priority
	Machine  *stateless.StateMachine

	kernel  *Kernel
	mailbox chan *Event
	trigger SignalTrigger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// crashed carries the one AssertHandler-triggered panic (priority
	// zero, a full mailbox, pool exhaustion) that escapes this AO's own
	// dispatch goroutine, if any. A supervisor watches it directly:
	// unlike a panic inside Start, a panic inside run happens on a
	// goroutine the caller of Start never sees again without this.
	crashed chan error

	// Handler, if set, replaces the generic signal-trigger-fire dispatch
	// below with a fully custom per-event handler. Used by AOs (the
	// device managers) whose step-to-step sequencing within a busy
	// super-state is plain Go control flow rather than a one-event-one-
	// HSM-leaf-state mapping; stateless still governs the Idle/Busy
	// super-state boundary and its entry/exit actions.
	Handler func(ev *Event)
}

// NewAO creates an AO attached to k, with the given mailbox depth and
// initial stateless state. Callers configure states/transitions on
// ao.Machine before calling Start.
func NewAO(k *Kernel, name string, prio Priority, mailboxLen int, initial string, trig SignalTrigger) *AO {
	if prio == 0 {
		AssertHandler("priority zero is reserved: " + name)
	}
	ao := &AO{
		Name:     name,
		Priority: prio,
		Machine:  stateless.NewStateMachine(initial),
		kernel:   k,
		mailbox:  make(chan *Event, mailboxLen),
		trigger:  trig,
		done:     make(chan struct{}),
		crashed:  make(chan error, 1),
	}
	return ao
}

// Start attaches the AO to the scheduler: it spawns the dispatch
// goroutine. The initial transition (OnEntry of the initial state) runs
// implicitly the first time the machine's state is observed by
// qmuntal/stateless; callers that need explicit startup work should do
// it before Start or via an OnEntry on the initial state.
func (ao *AO) Start(ctx context.Context) {
	ao.ctx, ao.cancel = context.WithCancel(ctx)
	go ao.run()
}

// Stop cancels the dispatch loop and waits for it to exit.
func (ao *AO) Stop() {
	if ao.cancel != nil {
		ao.cancel()
	}
	<-ao.done
}

// State returns the AO's current top-level state name.
func (ao *AO) State() string {
	s, err := ao.Machine.State(ao.ctx)
	if err != nil {
		return ""
	}
	name, _ := s.(string)
	return name
}

func (ao *AO) run() {
	defer close(ao.done)
	defer func() {
		if r := recover(); r != nil {
			select {
			case ao.crashed <- fmt.Errorf("%v", r):
			default:
			}
		}
	}()
	for {
		select {
		case <-ao.ctx.Done():
			return
		case ev := <-ao.mailbox:
			ao.dispatch(ev)
		}
	}
}

// Crashed reports the panic, if any, that escaped this AO's dispatch
// goroutine. A supervisor selects on it alongside ctx.Done to restart an
// AO whose own run loop hit a fatal AssertHandler condition, rather than
// only catching panics that happen to unwind synchronously out of Start.
func (ao *AO) Crashed() <-chan error { return ao.crashed }

func (ao *AO) dispatch(ev *Event) {
	if ao.Handler != nil {
		// Custom handlers own the event's lifetime: a request that gets
		// deferred must keep its reference alive until it is replayed
		// and finally consumed, so the handler garbage-collects it
		// itself rather than having dispatch do so unconditionally.
		ao.Handler(ev)
		return
	}
	defer ao.kernel.GarbageCollect(ev)

	trig, ok := ao.trigger(ev.Signal)
	if !ok {
		fmtx.Printf("%s: unhandled signal %s in state %s\n", ao.Name, ev.Signal, ao.State())
		return
	}
	can, _ := ao.Machine.CanFire(trig)
	if !can {
		// Unhandled in the current state delegates to the parent, which
		// qmuntal/stateless already resolves via SubstateOf when the
		// trigger is permitted higher up. If it's genuinely not permitted
		// anywhere, the event is dropped here: unhandled means ignored at
		// the root.
		fmtx.Printf("%s: trigger %s not permitted in state %s\n", ao.Name, trig, ao.State())
		return
	}
	if err := ao.Machine.FireCtx(ao.ctx, trig, ev); err != nil {
		fmtx.Printf("%s: fire %s failed: %v\n", ao.Name, trig, err)
	}
}

// enqueue delivers ev to the mailbox from task context. A full mailbox
// is fatal: mailboxes are sized for measured worst case.
func (ao *AO) enqueue(ev *Event) {
	select {
	case ao.mailbox <- ev:
	default:
		AssertHandler(ao.Name + ": mailbox full")
	}
}

// postFromISR is identical in effect to enqueue but named separately to
// mark the call sites that stand in for interrupt context: these must
// never allocate, acquire locks, or run state-handler code themselves,
// only hand the event to the mailbox.
func (ao *AO) postFromISR(ev *Event) {
	select {
	case ao.mailbox <- ev:
	default:
		AssertHandler(ao.Name + ": mailbox full (from-isr)")
	}
}

// Requeue re-delivers ev to this AO's own mailbox without touching its
// reference count: used by the deferred-queue replay path, where the
// event's single reference has been held, not released, while it sat in
// the queue.
func (ao *AO) Requeue(ev *Event) { ao.enqueue(ev) }

// Kernel returns the kernel this AO is attached to, for subtypes that
// need to allocate events or post to other AOs from within a state
// action.
func (ao *AO) Kernel() *Kernel { return ao.kernel }

// Context returns the dispatch loop's context, for subtypes that fire
// their own state-machine triggers from inside an event handler. Valid
// only after Start.
func (ao *AO) Context() context.Context { return ao.ctx }

// EventPayload is a small helper for state actions: extracts the *Event
// passed as the first Fire argument.
func EventPayload(args []any) *Event {
	if len(args) == 0 {
		return nil
	}
	ev, _ := args[0].(*Event)
	return ev
}
