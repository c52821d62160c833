package i2c

import (
	"context"

	"coupler-fw/errcode"
	"coupler-fw/kernel"
	"coupler-fw/x/mathx"
)

const (
	devIdle = "Idle"
	devBusy = "Busy"

	trRequest         = "request"
	trDone            = "done"
	trWatchdogExpired = "watchdogExpired"
)

// deviceWatchdogTicks is the device-level watchdog armed on entry to
// Busy: it returns the manager to Idle with DEV_TIMEOUT
// regardless of in-flight bus activity, covering a lost bus-primitive
// timeout.
const deviceWatchdogTicks = 3 * kernel.TicksPerSecond // 3s

// reqKind classifies an incoming DEV_* request.
type reqKind int

const (
	kindMemRead reqKind = iota
	kindMemWrite
	kindSNRead
	kindEUI64Read
	kindRegRead
	kindRegWrite
)

// Request payloads. Every request carries the AO to reply to;
// EEPROM_SN_READ and EEPROM_EUI64_READ take no parameters, just the
// requester.
type MemReadReq struct {
	Requester *kernel.AO
	Offset    uint16
	Count     int
}

type MemWriteReq struct {
	Requester *kernel.AO
	Offset    uint16
	Buf       []byte
}

type ScanReq struct {
	Requester *kernel.AO
}

type RegReadReq struct {
	Requester *kernel.AO
	Reg       byte
}

type RegWriteReq struct {
	Requester *kernel.AO
	Reg       byte
	Value     byte
}

// pageWrite is one page-aligned chunk of a split write.
type pageWrite struct {
	offset uint16
	buf    []byte
}

// txn is the in-flight transaction state for the device manager's
// current busy period. Never touched outside the manager's own
// goroutine.
type txn struct {
	ev        *kernel.Event // original request event; GC'd when the txn finishes
	requester *kernel.AO
	kind      reqKind
	dev       Device
	devID     DeviceID

	offset uint16 // current phase's memory offset
	count  int    // current phase's byte count

	writeBuf []byte // full write buffer, split into pages below
	pages    []pageWrite
	pageIdx  int
}

// DeviceManager owns the logical devices on one I2C bus: it validates
// requests against the registry, sequences the bus-primitive chain
// required to satisfy them, and handles busy-state deferral and the
// device-level watchdog.
type DeviceManager struct {
	*kernel.AO
	registry Registry
	bus      *BusManager
	busID    int // the bus this manager's device set lives on

	cur      *txn
	awaiting func(status errcode.Code, buf []byte)

	deferQ   *kernel.DeferQueue
	watchdog *kernel.Timer
}

// NewDeviceManager builds and configures a device manager for busID,
// driving bus through its primitive interface.
func NewDeviceManager(k *kernel.Kernel, name string, prio kernel.Priority, busID int, bus *BusManager, reg Registry) *DeviceManager {
	dm := &DeviceManager{registry: reg, bus: bus, busID: busID, deferQ: kernel.NewDeferQueue(kernel.DefaultDeferCap)}
	dm.AO = kernel.NewAO(k, name, prio, 32, devIdle, nil)
	dm.AO.Handler = dm.handle
	dm.configure()
	return dm
}

func (dm *DeviceManager) configure() {
	m := dm.Machine

	idle := m.Configure(devIdle)
	busy := m.Configure(devBusy)

	idle.Permit(trRequest, devBusy)
	busy.Permit(trDone, devIdle)
	busy.Permit(trWatchdogExpired, devIdle)

	busy.OnEntryFrom(trRequest, func(ctx context.Context, args ...any) error {
		dm.watchdog = kernel.NewTimer(dm.AO, kernel.DevWatchdogFired)
		dm.watchdog.Arm(deviceWatchdogTicks)
		dm.beginStep(dm.cur)
		return nil
	})
	busy.OnExit(func(ctx context.Context, args ...any) error {
		dm.watchdog.Disarm()
		return nil
	})
	idle.OnEntryFrom(trDone, func(ctx context.Context, args ...any) error {
		dm.replayOne()
		return nil
	})
	idle.OnEntryFrom(trWatchdogExpired, func(ctx context.Context, args ...any) error {
		dm.replayOne()
		return nil
	})
}

// handle is this AO's custom per-event dispatcher (kernel.AO.Handler),
// replacing the generic one-signal-one-trigger mapping: a device
// manager's busy period is a multi-step sequence of bus-primitive round
// trips, not a one-to-one leaf state per wire signal.
func (dm *DeviceManager) handle(ev *kernel.Event) {
	switch ev.Signal {
	case kernel.BusDone:
		dm.onBusDone(ev)
		return
	case kernel.DevWatchdogFired:
		dm.Kernel().GarbageCollect(ev)
		dm.onWatchdogFired()
		return
	}

	// Otherwise this is a DEV_* request.
	if dm.State() == devBusy {
		if err := dm.deferQ.Defer(ev); err != nil {
			dm.replyIgnored(requesterFromPayload(ev.Payload))
			dm.Kernel().GarbageCollect(ev)
		}
		return
	}
	dm.beginTxn(ev)
}

// requesterFromPayload extracts the reply target common to every
// request payload struct.
func requesterFromPayload(payload any) *kernel.AO {
	switch p := payload.(type) {
	case MemReadReq:
		return p.Requester
	case MemWriteReq:
		return p.Requester
	case ScanReq:
		return p.Requester
	case RegReadReq:
		return p.Requester
	case RegWriteReq:
		return p.Requester
	default:
		return nil
	}
}

func (dm *DeviceManager) onBusDone(ev *kernel.Event) {
	payload, _ := ev.Payload.(kernel.ReadDonePayload)
	dm.Kernel().GarbageCollect(ev)
	if dm.awaiting == nil {
		return
	}
	cont := dm.awaiting
	dm.awaiting = nil
	cont(errcode.Of(payload.Status), payload.Buf)
}

func (dm *DeviceManager) onWatchdogFired() {
	if dm.cur == nil {
		return
	}
	t := dm.cur
	dm.cur = nil
	dm.Kernel().GarbageCollect(t.ev)
	// DEV_TIMEOUT is its own wire signal, distinct from a DEV_READ_DONE/
	// DEV_WRITE_DONE carrying a timeout status: the requester never got a
	// bus-primitive reply at all, so there is no read/write outcome to
	// report, only the fact that the device-level watchdog fired.
	ev := dm.Kernel().Allocate(kernel.PoolSmall, kernel.DevTimeout)
	ev.Payload = kernel.StatusPayload{Status: errcode.DevTimeout}
	dm.reply(t.requester, ev)
	if err := dm.Machine.FireCtx(dm.Context(), trWatchdogExpired); err != nil {
		panic(err)
	}
}

func (dm *DeviceManager) replayOne() {
	ev, ok := dm.deferQ.Recall()
	if !ok {
		return
	}
	dm.Requeue(ev)
}

// beginTxn classifies and validates a fresh request. Validation failures
// (out-of-bounds offset, writes to a read-only device) are answered
// immediately without ever entering Busy, so no peripheral access
// occurs.
func (dm *DeviceManager) beginTxn(ev *kernel.Event) {
	t := &txn{ev: ev}

	switch ev.Signal {
	case kernel.DevMemRead:
		req, _ := ev.Payload.(MemReadReq)
		t.kind = kindMemRead
		t.devID = EEPROM
		t.dev = dm.registry.Lookup(EEPROM)
		t.offset, t.count = req.Offset, req.Count
		t.requester = req.Requester

	case kernel.DevMemWrite:
		req, _ := ev.Payload.(MemWriteReq)
		t.kind = kindMemWrite
		t.devID = EEPROM
		t.dev = dm.registry.Lookup(EEPROM)
		t.offset, t.writeBuf = req.Offset, req.Buf
		t.count = len(req.Buf)
		t.requester = req.Requester

	case kernel.DevSNRead:
		req, _ := ev.Payload.(ScanReq)
		t.kind = kindSNRead
		t.devID = SNROM
		t.dev = dm.registry.Lookup(SNROM)
		t.offset = t.dev.MinOffset
		t.count = int(t.dev.MaxOffset-t.dev.MinOffset) + 1
		t.requester = req.Requester

	case kernel.DevEUI64Read:
		req, _ := ev.Payload.(ScanReq)
		t.kind = kindEUI64Read
		t.devID = EUIROM
		t.dev = dm.registry.Lookup(EUIROM)
		t.offset = t.dev.MinOffset
		t.count = int(t.dev.MaxOffset-t.dev.MinOffset) + 1
		t.requester = req.Requester

	case kernel.DevRegRead:
		req, _ := ev.Payload.(RegReadReq)
		t.kind = kindRegRead
		t.devID = IOExpTest
		t.dev = dm.registry.Lookup(IOExpTest)
		t.offset = t.dev.MinOffset + uint16(req.Reg)
		t.count = 1
		t.requester = req.Requester

	case kernel.DevRegWrite:
		req, _ := ev.Payload.(RegWriteReq)
		t.kind = kindRegWrite
		t.devID = IOExpTest
		t.dev = dm.registry.Lookup(IOExpTest)
		t.offset = t.dev.MinOffset + uint16(req.Reg)
		t.writeBuf = []byte{req.Value}
		t.count = 1
		t.requester = req.Requester

	default:
		dm.Kernel().GarbageCollect(ev)
		return
	}

	if status, ok := dm.validate(t); !ok {
		dm.Kernel().GarbageCollect(ev)
		dm.replyStatus(t, status, 0, nil)
		return
	}

	if t.kind == kindMemWrite || t.kind == kindRegWrite {
		t.pages = splitPages(t.offset, t.writeBuf, t.dev.PageSize)
	}

	dm.cur = t
	if err := dm.Machine.FireCtx(dm.Context(), trRequest); err != nil {
		panic(err)
	}
}

func (dm *DeviceManager) validate(t *txn) (errcode.Code, bool) {
	write := t.kind == kindMemWrite || t.kind == kindRegWrite
	return validateAccess(t.dev, t.devID, t.offset, t.count, write)
}

// validateAccess enforces the device-registry bounds and RO/RW
// invariants: offsets must stay within [min, max], and
// writes against a read-only device are refused. Shared by the
// event-driven DeviceManager and the synchronous BlockingClient so both
// paths reject the same requests the same way, with no peripheral
// access in either case.
func validateAccess(dev Device, devID DeviceID, offset uint16, count int, write bool) (errcode.Code, bool) {
	if write && dev.ReadOnly {
		return errcode.IsReadOnly, false
	}
	if offset < dev.MinOffset || uint32(offset)+uint32(count) > uint32(dev.MaxOffset)+1 {
		// Reads and writes report the same boundary status: it is the
		// one bounds error the original firmware's live read and write
		// transaction paths both raise.
		return errcode.EEPROMMemAddrBoundary, false
	}
	return errcode.OK, true
}

// splitPages partitions [offset, offset+len(buf)) into page-aligned
// chunks per the device's page size.
func splitPages(offset uint16, buf []byte, pageSize uint16) []pageWrite {
	pages := make([]pageWrite, 0, mathx.CeilDiv(uint(len(buf)), uint(pageSize)))
	pos := offset
	remaining := buf
	for len(remaining) > 0 {
		pageEnd := (pos/pageSize + 1) * pageSize
		n := mathx.Min(int(pageEnd-pos), len(remaining))
		pages = append(pages, pageWrite{offset: pos, buf: remaining[:n]})
		remaining = remaining[n:]
		pos += uint16(n)
	}
	return pages
}

// ---- Step sequencing ----

func (dm *DeviceManager) beginStep(t *txn) {
	switch t.kind {
	case kindMemRead, kindSNRead, kindEUI64Read, kindRegRead:
		dm.issueCheckFree(t, dm.afterCheckFreeRead)
	case kindMemWrite, kindRegWrite:
		dm.issueCheckFree(t, dm.afterCheckFreeWrite)
	}
}

func (dm *DeviceManager) issue(req PrimitiveReq, sig kernel.Signal, cont func(status errcode.Code, buf []byte)) {
	dm.awaiting = cont
	req.Requester = dm.AO
	ev := dm.Kernel().Allocate(kernel.PoolSmall, sig)
	ev.Payload = req
	dm.Kernel().Post(dm.bus.AO, ev)
}

func (dm *DeviceManager) issueCheckFree(t *txn, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{}, kernel.BusCheckFree, cont)
}

func (dm *DeviceManager) issueStart(t *txn, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{}, kernel.BusStartBit, cont)
}

func (dm *DeviceManager) issueAddr(t *txn, dir kernel.Direction, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{DevAddr: t.dev.DevAddr, Dir: dir}, kernel.BusSend7BitAddr, cont)
}

func (dm *DeviceManager) issueMemAddr(t *txn, offset uint16, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{MemOffset: offset, MemWidth: t.dev.MemWidth}, kernel.BusSendDevAddr, cont)
}

func (dm *DeviceManager) issueReadMem(t *txn, count int, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{Count: count}, kernel.BusReadMem, cont)
}

func (dm *DeviceManager) issueWriteMem(t *txn, buf []byte, cont func(status errcode.Code, buf []byte)) {
	dm.issue(PrimitiveReq{WriteBuf: buf}, kernel.BusWriteMem, cont)
}

// ---- Read-memory sequence: CheckingBus -> GenerateStart ->
// Send7BitAddrTxMode -> SendInternalAddr -> GenerateStart1 ->
// Send7BitAddrRxMode -> ReadMem.

func (dm *DeviceManager) afterCheckFreeRead(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueStart(t, dm.afterStart1Read)
}

func (dm *DeviceManager) afterStart1Read(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueAddr(t, kernel.DirTransmit, dm.afterAddrTxRead)
}

func (dm *DeviceManager) afterAddrTxRead(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueMemAddr(t, t.offset, dm.afterMemAddrRead)
}

func (dm *DeviceManager) afterMemAddrRead(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueStart(t, dm.afterStart2Read)
}

func (dm *DeviceManager) afterStart2Read(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueAddr(t, kernel.DirReceive, dm.afterAddrRxRead)
}

func (dm *DeviceManager) afterAddrRxRead(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.issueReadMem(t, t.count, dm.afterReadMem)
}

func (dm *DeviceManager) afterReadMem(status errcode.Code, buf []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishRead(t, status, nil)
		return
	}
	dm.finishRead(t, errcode.OK, buf)
}

func (dm *DeviceManager) finishRead(t *txn, status errcode.Code, buf []byte) {
	dm.cur = nil
	dm.Kernel().GarbageCollect(t.ev)
	ev := dm.Kernel().Allocate(kernel.PoolLarge, kernel.DevReadDone)
	ev.Payload = kernel.ReadDonePayload{Status: status, Count: len(buf), Buf: buf}
	dm.reply(t.requester, ev)
	if err := dm.Machine.FireCtx(dm.Context(), trDone); err != nil {
		panic(err)
	}
}

// ---- Write-memory sequence: CheckingBus once, then per page
// Start/Addr-tx/MemAddr/WriteMem.

func (dm *DeviceManager) afterCheckFreeWrite(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishWrite(t, status)
		return
	}
	t.pageIdx = 0
	dm.beginPageWrite(t)
}

func (dm *DeviceManager) beginPageWrite(t *txn) {
	if t.pageIdx >= len(t.pages) {
		dm.finishWrite(t, errcode.OK)
		return
	}
	dm.issueStart(t, dm.afterStartWrite)
}

func (dm *DeviceManager) afterStartWrite(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishWrite(t, status)
		return
	}
	dm.issueAddr(t, kernel.DirTransmit, dm.afterAddrTxWrite)
}

func (dm *DeviceManager) afterAddrTxWrite(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishWrite(t, status)
		return
	}
	page := t.pages[t.pageIdx]
	dm.issueMemAddr(t, page.offset, dm.afterMemAddrWrite)
}

func (dm *DeviceManager) afterMemAddrWrite(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishWrite(t, status)
		return
	}
	page := t.pages[t.pageIdx]
	dm.issueWriteMem(t, page.buf, dm.afterWriteMem)
}

func (dm *DeviceManager) afterWriteMem(status errcode.Code, _ []byte) {
	t := dm.cur
	if status != errcode.OK {
		dm.finishWrite(t, status)
		return
	}
	t.pageIdx++
	dm.beginPageWrite(t)
}

func (dm *DeviceManager) finishWrite(t *txn, status errcode.Code) {
	dm.cur = nil
	dm.Kernel().GarbageCollect(t.ev)
	ev := dm.Kernel().Allocate(kernel.PoolSmall, kernel.DevWriteDone)
	ev.Payload = kernel.ReadDonePayload{Status: status, Count: len(t.writeBuf)}
	dm.reply(t.requester, ev)
	if err := dm.Machine.FireCtx(dm.Context(), trDone); err != nil {
		panic(err)
	}
}

func (dm *DeviceManager) replyStatus(t *txn, status errcode.Code, count int, buf []byte) {
	sig := kernel.DevReadDone
	if t.kind == kindMemWrite || t.kind == kindRegWrite {
		sig = kernel.DevWriteDone
	}
	ev := dm.Kernel().Allocate(kernel.PoolSmall, sig)
	ev.Payload = kernel.ReadDonePayload{Status: status, Count: count, Buf: buf}
	dm.reply(t.requester, ev)
}

// replyIgnored notifies requester that its request was dropped because
// the deferred queue was already full.
func (dm *DeviceManager) replyIgnored(requester *kernel.AO) {
	ev := dm.Kernel().Allocate(kernel.PoolSmall, kernel.Ignored)
	dm.reply(requester, ev)
}

// reply delivers a completion event to its requester. A normal request
// carries a live AO and goes through Post; a request with no AO to reply
// to — the settings DB's event-access mode, standing in for a suspended
// CPLR_Task-equivalent worker rather than an active object — is answered
// on the kernel's RawQueue instead, the explicit wake-up channel a
// blocked task receives on.
func (dm *DeviceManager) reply(requester *kernel.AO, ev *kernel.Event) {
	if requester == nil {
		select {
		case dm.Kernel().RawQueue <- ev:
		default:
			kernel.AssertHandler("rawqueue full")
		}
		return
	}
	dm.Kernel().Post(requester, ev)
}
