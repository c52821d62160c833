package i2c

import (
	"context"

	"coupler-fw/errcode"
	"coupler-fw/kernel"
	"coupler-fw/x/dmaring"
)

// dmaRingSize is the simulated DMA receive ring's capacity: a power of
// two comfortably above kernel.MaxRawPayload, the largest single read
// this core ever issues.
const dmaRingSize = 512

// Bus states.
const (
	busIdle         = "Idle"
	busCheckingFree = "CheckingFree"
	busGenStart     = "GenStart"
	busSendAddr     = "SendAddr"
	busSendMemAddr  = "SendMemAddr"
	busReadingMem   = "ReadingMem"
	busWritingMem   = "WritingMem"
)

// Bus-primitive triggers, one per accepted signal, plus the internal
// hardware-completion triggers each non-idle state awaits.
const (
	trCheckFree    = "CHECK_FREE"
	trStartBit     = "START_BIT"
	trSend7BitAddr = "SEND_7BIT_ADDR"
	trSendDevAddr  = "SEND_DEV_ADDR"
	trReadMem      = "READ_MEM"
	trWriteMem     = "WRITE_MEM"

	trHWFreeOK       = "hwFreeOK"
	trHWFreeTimeout  = "hwFreeTimeout"
	trHWEv5OK        = "hwEv5OK"
	trHWEv5Timeout   = "hwEv5Timeout"
	trHWEv6OK        = "hwEv6OK"
	trHWEv6Timeout   = "hwEv6Timeout"
	trHWEv8OK        = "hwEv8OK"
	trHWEv8Timeout   = "hwEv8Timeout"
	trHWReadOK       = "hwReadOK"
	trHWReadTimeout  = "hwReadTimeout"
	trHWWriteOK      = "hwWriteOK"
	trHWWriteTimeout = "hwWriteTimeout"
)

// Per-phase timeouts, expressed in kernel ticks (10,000/s). Each
// non-idle state arms its own bounded timer on entry and disarms on
// exit, so a lost completion callback degrades to a precise, named
// status rather than a hang.
const (
	checkFreeTimeoutTicks = 20000 // 2s: bus-recovery bit-bang budget
	ev5TimeoutTicks       = 1000  // 100ms
	ev6TimeoutTicks       = 1000
	ev8TimeoutTicks       = 1000
	dmaReadTimeoutTicks   = 5000 // 500ms
	dmaWriteTimeoutTicks  = 5000
)

// PrimitiveReq is the payload of a bus-primitive request event. Only the
// fields relevant to the requested primitive are populated.
type PrimitiveReq struct {
	Requester *kernel.AO
	DevAddr   byte
	Dir       kernel.Direction
	MemOffset uint16
	MemWidth  byte
	Count     int
	WriteBuf  []byte
}

// BusManager owns exactly one I2C peripheral and drives it through the
// STM32-style event/DMA sequence on behalf of whichever DeviceManager
// issues primitive requests. It emits exactly one BUS_DONE per accepted
// request.
type BusManager struct {
	*kernel.AO
	periph Peripheral

	pending *PrimitiveReq
	// dmaRing stands in for the peripheral's DMA receive buffer: the
	// simulated ISR callback (the producer) writes a completed read into
	// it and the AO's own goroutine (the sole consumer) drains it once
	// HWReadDone is dispatched, the same single-producer/single-consumer
	// handoff a real DMA-into-RAM completion uses.
	dmaRing *dmaring.Ring
	// ringHandle is dmaRing's entry in the dmaring registry: a diagnostic
	// path (a supervisor health check, a future debug console) can look
	// the ring up by handle without holding a pointer into this AO.
	ringHandle dmaring.Handle
	timer      *kernel.Timer
}

// NewBusManager builds and configures (but does not start) a bus
// manager's state machine.
func NewBusManager(k *kernel.Kernel, name string, prio kernel.Priority, periph Peripheral) *BusManager {
	ring := dmaring.New(dmaRingSize)
	bm := &BusManager{periph: periph, dmaRing: ring, ringHandle: dmaring.Register(ring)}
	bm.AO = kernel.NewAO(k, name, prio, 16, busIdle, bm.signalTrigger)
	bm.timer = kernel.NewTimer(bm.AO, kernel.HWFreeTimeout) // reassigned per-state below
	bm.configure()
	return bm
}

// RingHandle returns the registry handle for this bus's simulated DMA
// receive ring, for diagnostic lookup via dmaring.Get.
func (bm *BusManager) RingHandle() dmaring.Handle { return bm.ringHandle }

func (bm *BusManager) signalTrigger(sig kernel.Signal) (string, bool) {
	switch sig {
	case kernel.BusCheckFree:
		return trCheckFree, true
	case kernel.BusStartBit:
		return trStartBit, true
	case kernel.BusSend7BitAddr:
		return trSend7BitAddr, true
	case kernel.BusSendDevAddr:
		return trSendDevAddr, true
	case kernel.BusReadMem:
		return trReadMem, true
	case kernel.BusWriteMem:
		return trWriteMem, true
	case kernel.HWFreeOK:
		return trHWFreeOK, true
	case kernel.HWFreeTimeout:
		return trHWFreeTimeout, true
	case kernel.HWEv5OK:
		return trHWEv5OK, true
	case kernel.HWEv5Timeout:
		return trHWEv5Timeout, true
	case kernel.HWEv6OK:
		return trHWEv6OK, true
	case kernel.HWEv6Timeout:
		return trHWEv6Timeout, true
	case kernel.HWEv8OK:
		return trHWEv8OK, true
	case kernel.HWEv8Timeout:
		return trHWEv8Timeout, true
	case kernel.HWReadDone:
		return trHWReadOK, true
	case kernel.HWReadTimeout:
		return trHWReadTimeout, true
	case kernel.HWWriteDone:
		return trHWWriteOK, true
	case kernel.HWWriteTimeout:
		return trHWWriteTimeout, true
	default:
		return "", false
	}
}

// finish posts BUS_DONE to the pending requester with the given status
// (and buffer, for reads), then clears pending state. Runs on the AO's
// own goroutine (called from a FireCtx action), never from the
// simulated ISR.
func (bm *BusManager) finish(status errcode.Code, count int, buf []byte) {
	if bm.pending == nil {
		return
	}
	req := bm.pending
	bm.pending = nil

	ev := bm.Kernel().Allocate(kernel.PoolSmall, kernel.BusDone)
	ev.Payload = kernel.ReadDonePayload{Status: status, Count: count, Buf: buf}
	bm.Kernel().Post(req.Requester, ev)
}

func (bm *BusManager) configure() {
	m := bm.Machine

	idle := m.Configure(busIdle)
	idle.Permit(trCheckFree, busCheckingFree)
	idle.Permit(trStartBit, busGenStart)
	idle.Permit(trSend7BitAddr, busSendAddr)
	idle.Permit(trSendDevAddr, busSendMemAddr)
	idle.Permit(trReadMem, busReadingMem)
	idle.Permit(trWriteMem, busWritingMem)

	// ---- CheckingFree ----
	cf := m.Configure(busCheckingFree)
	cf.OnEntryFrom(trCheckFree, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWFreeTimeout)
		bm.timer.Arm(checkFreeTimeoutTicks)
		bm.periph.CheckFree(func(ok bool) {
			if ok {
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWFreeOK))
			}
			// A false result means the bus stayed stuck; the armed
			// timer will fire HWFreeTimeout on its own.
		})
		return nil
	})
	cf.OnExit(func(ctx context.Context, args ...any) error {
		bm.timer.Disarm()
		return nil
	})
	cf.Permit(trHWFreeOK, busIdle)
	cf.Permit(trHWFreeTimeout, busIdle)
	idle.OnEntryFrom(trHWFreeOK, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.OK, 0, nil)
		return nil
	})
	idle.OnEntryFrom(trHWFreeTimeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.RcvrySDAStuckLow, 0, nil)
		return nil
	})

	// ---- GenStart ----
	gs := m.Configure(busGenStart)
	gs.OnEntryFrom(trStartBit, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWEv5Timeout)
		bm.timer.Arm(ev5TimeoutTicks)
		bm.periph.GenStart(func(ok bool) {
			if ok {
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWEv5OK))
			}
		})
		return nil
	})
	gs.OnExit(func(ctx context.Context, args ...any) error { bm.timer.Disarm(); return nil })
	gs.Permit(trHWEv5OK, busIdle)
	gs.Permit(trHWEv5Timeout, busIdle)
	idle.OnEntryFrom(trHWEv5OK, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.OK, 0, nil)
		return nil
	})
	idle.OnEntryFrom(trHWEv5Timeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.EV5Timeout, 0, nil)
		return nil
	})

	// ---- SendAddr ----
	sa := m.Configure(busSendAddr)
	sa.OnEntryFrom(trSend7BitAddr, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWEv6Timeout)
		bm.timer.Arm(ev6TimeoutTicks)
		bm.periph.SendAddr(req.DevAddr, req.Dir, func(ok bool) {
			if ok {
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWEv6OK))
			}
		})
		return nil
	})
	sa.OnExit(func(ctx context.Context, args ...any) error { bm.timer.Disarm(); return nil })
	sa.Permit(trHWEv6OK, busIdle)
	sa.Permit(trHWEv6Timeout, busIdle)
	idle.OnEntryFrom(trHWEv6OK, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.OK, 0, nil)
		return nil
	})
	idle.OnEntryFrom(trHWEv6Timeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.EV6Timeout, 0, nil)
		return nil
	})

	// ---- SendMemAddr ----
	sma := m.Configure(busSendMemAddr)
	sma.OnEntryFrom(trSendDevAddr, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWEv8Timeout)
		bm.timer.Arm(ev8TimeoutTicks)
		bm.periph.SendMemAddr(req.MemOffset, req.MemWidth, func(ok bool) {
			if ok {
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWEv8OK))
			}
		})
		return nil
	})
	sma.OnExit(func(ctx context.Context, args ...any) error { bm.timer.Disarm(); return nil })
	sma.Permit(trHWEv8OK, busIdle)
	sma.Permit(trHWEv8Timeout, busIdle)
	idle.OnEntryFrom(trHWEv8OK, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.OK, 0, nil)
		return nil
	})
	idle.OnEntryFrom(trHWEv8Timeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.EV8Timeout, 0, nil)
		return nil
	})

	// ---- ReadingMem ----
	rm := m.Configure(busReadingMem)
	rm.OnEntryFrom(trReadMem, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWReadTimeout)
		bm.timer.Arm(dmaReadTimeoutTicks)
		bm.periph.ReadMem(req.Count, func(buf []byte, ok bool) {
			if ok {
				bm.dmaRing.TryWriteFrom(buf)
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWReadDone))
			}
		})
		return nil
	})
	rm.OnExit(func(ctx context.Context, args ...any) error { bm.timer.Disarm(); return nil })
	rm.Permit(trHWReadOK, busIdle)
	rm.Permit(trHWReadTimeout, busIdle)
	idle.OnEntryFrom(trHWReadOK, func(ctx context.Context, args ...any) error {
		buf := make([]byte, bm.dmaRing.Available())
		bm.dmaRing.TryReadInto(buf)
		bm.finish(errcode.OK, len(buf), buf)
		return nil
	})
	idle.OnEntryFrom(trHWReadTimeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.RxneFlagTimeout, 0, nil)
		return nil
	})

	// ---- WritingMem ----
	wm := m.Configure(busWritingMem)
	wm.OnEntryFrom(trWriteMem, func(ctx context.Context, args ...any) error {
		ev := kernel.EventPayload(args)
		req, _ := ev.Payload.(PrimitiveReq)
		bm.pending = &req
		bm.timer = kernel.NewTimer(bm.AO, kernel.HWWriteTimeout)
		bm.timer.Arm(dmaWriteTimeoutTicks)
		bm.periph.WriteMem(req.WriteBuf, func(ok bool) {
			if ok {
				bm.Kernel().PostFromISR(bm.AO, staticHWEvent(kernel.HWWriteDone))
			}
		})
		return nil
	})
	wm.OnExit(func(ctx context.Context, args ...any) error { bm.timer.Disarm(); return nil })
	wm.Permit(trHWWriteOK, busIdle)
	wm.Permit(trHWWriteTimeout, busIdle)
	idle.OnEntryFrom(trHWWriteOK, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.OK, 0, nil)
		return nil
	})
	idle.OnEntryFrom(trHWWriteTimeout, func(ctx context.Context, args ...any) error {
		bm.finish(errcode.WriteByteTimeout, 0, nil)
		return nil
	})
}

func staticHWEvent(sig kernel.Signal) *kernel.Event {
	return kernel.NewStaticEvent(sig)
}
