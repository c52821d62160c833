package i2c

import (
	"context"
	"testing"

	"coupler-fw/errcode"
	"coupler-fw/kernel"
)

func startedDeviceManager(t *testing.T, periph Peripheral) (*kernel.Kernel, *DeviceManager) {
	t.Helper()
	k := kernel.NewKernel()
	reg := DefaultRegistry()
	bm := NewBusManager(k, "bus0", kernel.PriorityBus0, periph)
	dm := NewDeviceManager(k, "dev0", kernel.PriorityDevice0, 0, bm, reg)
	ctx, cancel := context.WithCancel(context.Background())
	bm.Start(ctx)
	dm.Start(ctx)
	t.Cleanup(func() { cancel(); dm.Stop(); bm.Stop() })
	return k, dm
}

// TestDeviceManager_ReadEEPROM17Bytes reads a 17-byte span from the EEPROM.
func TestDeviceManager_ReadEEPROM17Bytes(t *testing.T) {
	periph := NewSimPeripheral()
	periph.Seed(0xA0, 0x00, []byte{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	})
	k, dm := startedDeviceManager(t, periph)
	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	ev := k.Allocate(kernel.PoolSmall, kernel.DevMemRead)
	ev.Payload = MemReadReq{Requester: c.AO, Offset: 0x00, Count: 17}
	k.Post(dm.AO, ev)

	got := c.next(t)
	if errcode.Of(got.Status) != errcode.OK {
		t.Fatalf("status = %v, want OK", got.Status)
	}
	if got.Count != 17 || len(got.Buf) != 17 {
		t.Fatalf("count = %d len(buf) = %d, want 17", got.Count, len(got.Buf))
	}
	for i := 0; i < 17; i++ {
		if got.Buf[i] != byte(i) {
			t.Fatalf("buf[%d] = %d, want %d", i, got.Buf[i], i)
		}
	}
}

// TestDeviceManager_WriteSplitsAcrossPages writes 32 bytes starting at
// offset 0x0A against a 16-byte page device, and checks the write
// partitions into 6/16/10-byte pages with no gap or overlap.
func TestDeviceManager_WriteSplitsAcrossPages(t *testing.T) {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = byte(0x40 + i)
	}
	pages := splitPages(0x0A, buf, 16)
	want := []struct {
		offset uint16
		n      int
	}{
		{0x0A, 6},
		{0x10, 16},
		{0x20, 10},
	}
	if len(pages) != len(want) {
		t.Fatalf("got %d pages, want %d", len(pages), len(want))
	}
	for i, w := range want {
		if pages[i].offset != w.offset || len(pages[i].buf) != w.n {
			t.Fatalf("page %d = {offset:%#x len:%d}, want {offset:%#x len:%d}",
				i, pages[i].offset, len(pages[i].buf), w.offset, w.n)
		}
	}

	periph := NewSimPeripheral()
	k, dm := startedDeviceManager(t, periph)
	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	ev := k.Allocate(kernel.PoolSmall, kernel.DevMemWrite)
	ev.Payload = MemWriteReq{Requester: c.AO, Offset: 0x0A, Buf: buf}
	k.Post(dm.AO, ev)

	got := c.next(t)
	if errcode.Of(got.Status) != errcode.OK {
		t.Fatalf("status = %v, want OK", got.Status)
	}

	// Every byte must have landed at its exact offset on the simulated
	// device, confirming the page split covered [0x0A, 0x2A) with no
	// gap or overlap.
	for i, want := range buf {
		offset := uint16(0x0A + i)
		periph.mu.Lock()
		got := periph.mem[0xA0][offset]
		periph.mu.Unlock()
		if got != want {
			t.Fatalf("offset %#x = %d, want %d", offset, got, want)
		}
	}
}

// TestDeviceManager_OutOfBoundsReadNoBusActivity checks that an
// out-of-bounds read is rejected before any peripheral access happens.
func TestDeviceManager_OutOfBoundsReadNoBusActivity(t *testing.T) {
	periph := NewSimPeripheral()
	k, dm := startedDeviceManager(t, periph)
	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	// SN-ROM spans [0x80..0x8F]; DevSNRead always reads the full
	// region, so to exercise an out-of-bounds offset this drives the
	// register-read path against an offset beyond IOExpTest's single
	// byte instead, which shares the same validateAccess check.
	ev := k.Allocate(kernel.PoolSmall, kernel.DevRegRead)
	ev.Payload = RegReadReq{Requester: c.AO, Reg: 5}
	k.Post(dm.AO, ev)

	got := c.next(t)
	if errcode.Of(got.Status) == errcode.OK {
		t.Fatal("expected an out-of-bounds error for a register beyond the device's single byte")
	}
	periph.mu.Lock()
	addr := periph.curAddr
	periph.mu.Unlock()
	if addr != 0 {
		t.Fatalf("no peripheral access should have occurred, but curAddr = %#x", addr)
	}
}

// TestDeviceManager_WriteRejectedForReadOnlyDevice checks that a write
// against a read-only device is rejected with IS_READ_ONLY and never
// touches the peripheral.
func TestDeviceManager_WriteRejectedForReadOnlyDevice(t *testing.T) {
	periph := NewSimPeripheral()
	k, dm := startedDeviceManager(t, periph)
	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	// DevRegWrite targets IOExpTest and DevMemWrite targets the EEPROM,
	// both RW, so no DEV_* write request reaches an RO device. The RO
	// branch is asserted instead through a direct call to validateAccess,
	// the helper the device manager shares with the blocking client.
	dev := dm.registry.Lookup(SNROM)
	if status, ok := validateAccess(dev, SNROM, dev.MinOffset, 1, true); ok || status != errcode.IsReadOnly {
		t.Fatalf("validateAccess on RO device = (%v, %v), want (IsReadOnly, false)", status, ok)
	}

	// Confirm no bus activity happened as a side effect of the check above.
	if periph.curAddr != 0 {
		t.Fatalf("validateAccess must not touch the peripheral, curAddr = %#x", periph.curAddr)
	}
	_ = c // requester unused by the direct validateAccess call above
}

// TestDeviceManager_BusyStateDefersAndRepliesInOrder posts three
// requests back-to-back while busy and checks all three eventually
// complete, in the same order they were issued.
func TestDeviceManager_BusyStateDefersAndRepliesInOrder(t *testing.T) {
	periph := NewSimPeripheral()
	periph.Seed(0xA0, 0x00, []byte{0xAA})
	periph.Seed(0xA0, 0x01, []byte{0xBB})
	periph.Seed(0xA0, 0x02, []byte{0xCC})
	k, dm := startedDeviceManager(t, periph)
	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	offsets := []uint16{0x00, 0x01, 0x02}
	for _, off := range offsets {
		ev := k.Allocate(kernel.PoolSmall, kernel.DevMemRead)
		ev.Payload = MemReadReq{Requester: c.AO, Offset: off, Count: 1}
		k.Post(dm.AO, ev)
	}

	for i, off := range offsets {
		got := c.next(t)
		if errcode.Of(got.Status) != errcode.OK {
			t.Fatalf("request %d: status = %v, want OK", i, got.Status)
		}
		periph.mu.Lock()
		want := periph.mem[0xA0][off]
		periph.mu.Unlock()
		if len(got.Buf) != 1 || got.Buf[0] != want {
			t.Fatalf("request %d: buf = %v, want content seeded at offset %#x", i, got.Buf, off)
		}
	}
}

// TestDeviceManager_DeferredQueueOverflowRepliesIgnored exercises the
// "never both DEV_*_DONE and IGNORED, never neither" invariant when the
// deferred queue is saturated.
func TestDeviceManager_DeferredQueueOverflowRepliesIgnored(t *testing.T) {
	periph := NewSimPeripheral()
	k := kernel.NewKernel()
	reg := DefaultRegistry()
	bm := NewBusManager(k, "bus0", kernel.PriorityBus0, periph)
	dm := NewDeviceManager(k, "dev0", kernel.PriorityDevice0, 0, bm, reg)
	dm.deferQ = kernel.NewDeferQueue(1) // shrink the queue so overflow is reachable before Start

	ctx, cancel := context.WithCancel(context.Background())
	bm.Start(ctx)
	dm.Start(ctx)
	t.Cleanup(func() { cancel(); dm.Stop(); bm.Stop() })

	c := newCollector(k, "requester")
	c.Start(context.Background())
	defer c.Stop()

	ignored := make(chan struct{}, 8)
	prevHandler := c.AO.Handler
	c.AO.Handler = func(ev *kernel.Event) {
		if ev.Signal == kernel.Ignored {
			k.GarbageCollect(ev)
			ignored <- struct{}{}
			return
		}
		prevHandler(ev)
	}

	// First request occupies Busy; the next two exceed the shrunk
	// one-slot deferred queue.
	for i := 0; i < 3; i++ {
		ev := k.Allocate(kernel.PoolSmall, kernel.DevMemRead)
		ev.Payload = MemReadReq{Requester: c.AO, Offset: 0x00, Count: 1}
		k.Post(dm.AO, ev)
	}

	sawIgnored := false
	for i := 0; i < 2; i++ {
		select {
		case <-ignored:
			sawIgnored = true
		case <-c.got:
		}
	}
	if !sawIgnored {
		t.Fatal("expected at least one IGNORED reply once the deferred queue overflowed")
	}
}
