package kernel

import "testing"

func TestAllocate_ReturnsRefcountOne(t *testing.T) {
	p := NewDefaultPools()
	ev := p.Allocate(PoolSmall, MsgReceived)
	if ev.refs() != 1 {
		t.Fatalf("fresh allocation refcount = %d, want 1", ev.refs())
	}
	if ev.Signal != MsgReceived {
		t.Fatalf("signal = %v, want %v", ev.Signal, MsgReceived)
	}
}

func TestAllocate_FallsBackToNextLargerPool(t *testing.T) {
	p := NewPools(0, 1, 1) // small pool empty
	ev := p.Allocate(PoolSmall, MsgReceived)
	if ev == nil {
		t.Fatal("expected fallback allocation from medium pool, got nil")
	}
	if ev.pool != PoolMedium {
		t.Fatalf("expected event drawn from medium pool, got tag %v", ev.pool)
	}
}

func TestAllocate_ExhaustionIsFatal(t *testing.T) {
	p := NewPools(1, 0, 0)
	old := AssertHandler
	defer func() { AssertHandler = old }()

	asserted := false
	AssertHandler = func(msg string) { asserted = true }

	p.Allocate(PoolSmall, MsgReceived) // drains the only slot
	p.Allocate(PoolSmall, MsgReceived) // every eligible pool now exhausted

	if !asserted {
		t.Fatal("expected AssertHandler to fire on pool exhaustion")
	}
}

func TestAllocateWithMargin_ReturnsNilGracefully(t *testing.T) {
	p := NewPools(1, 0, 0)
	old := AssertHandler
	defer func() { AssertHandler = old }()
	AssertHandler = func(msg string) { t.Fatal("AssertHandler must not fire for the margin variant") }

	p.Allocate(PoolSmall, MsgReceived) // drains the only slot
	ev := p.AllocateWithMargin(PoolSmall, MsgReceived)
	if ev != nil {
		t.Fatalf("expected nil on exhaustion, got %+v", ev)
	}
}

func TestGarbageCollect_ReturnsToPoolAtZero(t *testing.T) {
	p := NewPools(1, 0, 0)
	ev := p.Allocate(PoolSmall, MsgReceived)
	p.AddRef(ev, 2) // simulate a publish fanning out to 2 additional subscribers

	p.GarbageCollect(ev)
	if _, ok := p.small.take(); ok {
		t.Fatal("event returned to pool before its refcount reached zero")
	}

	p.GarbageCollect(ev)
	p.GarbageCollect(ev)
	if _, ok := p.small.take(); !ok {
		t.Fatal("event was not returned to its pool once refcount reached zero")
	}
}

func TestGarbageCollect_StaticEventIsNoOp(t *testing.T) {
	ev := NewStaticEvent(DevTimeout)
	p := NewDefaultPools()
	p.GarbageCollect(ev) // must not panic or touch any pool
	if ev.refs() != 0 {
		t.Fatalf("static event refcount should stay at its zero value, got %d", ev.refs())
	}
}

func TestPoolConservation_OneAllocationOneEventualFree(t *testing.T) {
	p := NewPools(2, 0, 0)
	a := p.Allocate(PoolSmall, MsgReceived)
	b := p.Allocate(PoolSmall, MsgReceived)
	if _, ok := p.small.take(); ok {
		t.Fatal("pool should be fully drained after two allocations from a size-2 pool")
	}
	p.GarbageCollect(a)
	p.GarbageCollect(b)
	if _, ok := p.small.take(); !ok {
		t.Fatal("expected at least one slot back after both events were freed")
	}
}
