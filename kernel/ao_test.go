package kernel

import (
	"context"
	"testing"
	"time"
)

// TestAO_DispatchRunsHierarchicalTransition exercises the generic
// signal-trigger dispatch path (no custom Handler): a published event
// fires a stateless transition, and entry/exit actions observe it.
func TestAO_DispatchRunsHierarchicalTransition(t *testing.T) {
	k := NewKernel()
	ao := NewAO(k, "hsm-test", 3, 4, "A", func(sig Signal) (string, bool) {
		if sig == MsgReceived {
			return "go", true
		}
		return "", false
	})

	entered := make(chan struct{}, 1)
	a := ao.Machine.Configure("A")
	a.Permit("go", "B")
	b := ao.Machine.Configure("B")
	b.OnEntryFrom("go", func(ctx context.Context, args ...any) error {
		entered <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ao.Start(ctx)
	defer func() { cancel(); ao.Stop() }()

	k.Post(ao, k.Allocate(PoolSmall, MsgReceived))

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("transition to B never observed")
	}
	if ao.State() != "B" {
		t.Fatalf("state = %q, want B", ao.State())
	}
}

// TestAO_UnhandledSignalIsDroppedNotFatal exercises the ignore/delegate-
// to-parent path for a signal the trigger map rejects outright: dispatch
// must garbage-collect the event and keep running, never treat an
// unrecognised signal as fatal.
func TestAO_UnhandledSignalIsDroppedNotFatal(t *testing.T) {
	k := NewKernel()
	ao := NewAO(k, "unhandled-test", 3, 4, "A", func(sig Signal) (string, bool) { return "", false })
	ao.Machine.Configure("A")

	ctx, cancel := context.WithCancel(context.Background())
	ao.Start(ctx)
	defer func() { cancel(); ao.Stop() }()

	ev := k.Allocate(PoolSmall, MsgReceived)
	k.Post(ao, ev)

	deadline := time.Now().Add(time.Second)
	for ev.refs() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ev.refs() != 0 {
		t.Fatal("unhandled event was never garbage collected")
	}
}

// TestAO_RequeueDoesNotTouchRefcount mirrors the deferred-queue replay
// contract: Requeue re-delivers an event whose reference was held, not
// released, while deferred ("recall re-posts the oldest deferred event").
func TestAO_RequeueDoesNotTouchRefcount(t *testing.T) {
	k := NewKernel()
	ao := newTestAO(t, k, 4)

	ev := k.Allocate(PoolSmall, MsgReceived)
	before := ev.refs()
	ao.Requeue(ev)
	if ev.refs() != before {
		t.Fatalf("Requeue changed refcount from %d to %d", before, ev.refs())
	}
	if got := <-ao.mailbox; got != ev {
		t.Fatal("requeued event not found in mailbox")
	}
}
