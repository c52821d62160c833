package settingsdb

import (
	"encoding/binary"
	"time"

	"coupler-fw/errcode"
	"coupler-fw/i2c"
	"coupler-fw/kernel"
)

// rawQueueTimeout bounds how long the event-access path waits on
// kernel.RawQueue for the device manager's reply before giving up.
const rawQueueTimeout = 2 * time.Second

// AccessMode selects how a DB operation reaches the I2C stack.
type AccessMode int

const (
	// AccessBlocking drives the synchronous spin-wait path directly.
	AccessBlocking AccessMode = iota
	// AccessEvent publishes a request to the event-driven device manager
	// and blocks on kernel.RawQueue for its reply, the same wake-up path
	// a suspended CPLR_Task-equivalent worker uses.
	AccessEvent
)

// DB is the settings-database client. It is a client of the I2C stack,
// not part of it: GetElement/SetElement dispatch to either the blocking
// path or the event-driven path per their AccessMode argument.
type DB struct {
	client *i2c.BlockingClient
	k      *kernel.Kernel
	devMgr *kernel.AO
}

// New builds a settings DB client that only supports AccessBlocking.
func New(client *i2c.BlockingClient) *DB {
	return &DB{client: client}
}

// NewWithEventPath builds a settings DB client that additionally
// supports AccessEvent, dispatching through devMgr (the device manager
// owning the EEPROM/SN-ROM/EUI-ROM registry entries this table lives on)
// and waking on k.RawQueue for the reply.
func NewWithEventPath(client *i2c.BlockingClient, k *kernel.Kernel, devMgr *kernel.AO) *DB {
	return &DB{client: client, k: k, devMgr: devMgr}
}

// IsValid reads MAGIC_WORD and VERSION from EEPROM and reports whether
// the record is usable.
func (db *DB) IsValid() errcode.Code {
	magic, status := db.client.ReadMem(i2c.EEPROM, layout[MagicWord].offset, layout[MagicWord].size)
	if status != errcode.OK {
		return status
	}
	if binary.LittleEndian.Uint32(magic) != MagicWordValue {
		return errcode.NotInit
	}
	ver, status := db.client.ReadMem(i2c.EEPROM, layout[Version].offset, layout[Version].size)
	if status != errcode.OK {
		return status
	}
	if binary.LittleEndian.Uint16(ver) != CurrentVersion {
		return errcode.VerMismatch
	}
	return errcode.OK
}

// InitToDefault writes the compiled-in default record (magic word,
// version, default IP address) to EEPROM.
func (db *DB) InitToDefault() errcode.Code {
	magic := make([]byte, 4)
	binary.LittleEndian.PutUint32(magic, MagicWordValue)
	if status := db.client.WriteMem(i2c.EEPROM, layout[MagicWord].offset, magic); status != errcode.OK {
		return status
	}
	ver := make([]byte, 2)
	binary.LittleEndian.PutUint16(ver, CurrentVersion)
	if status := db.client.WriteMem(i2c.EEPROM, layout[Version].offset, ver); status != errcode.OK {
		return status
	}
	return db.client.WriteMem(i2c.EEPROM, layout[IPAddress].offset, DefaultIPAddress[:])
}

// GetElement reads field id into a buffer, failing with BUFFER_LEN if
// bufSize does not match the field's declared size. Reads of read-only
// regions (MAC_ADDRESS, SERIAL_NUMBER) bypass DB validation. mode
// selects the blocking or event-driven path; AccessEvent on a DB built
// with New (no event path configured) fails with UNIMPLEMENTED.
func (db *DB) GetElement(id FieldID, bufSize int, mode AccessMode) ([]byte, errcode.Code) {
	f, ok := layout[id]
	if !ok {
		return nil, errcode.InvalidDevice
	}
	if bufSize != f.size {
		return nil, errcode.BufferLen
	}
	if mode == AccessEvent {
		return db.getElementEvent(f)
	}
	return db.client.ReadMem(f.dev, f.offset, f.size)
}

// SetElement writes buf to field id, refusing writes to read-only
// regions with IS_READ_ONLY. MAC_ADDRESS and SERIAL_NUMBER
// are always read-only at the field level regardless of the underlying
// registry entry's own RO flag, since this settings table never
// provisions those regions itself. mode selects the blocking or
// event-driven path.
func (db *DB) SetElement(id FieldID, buf []byte, mode AccessMode) errcode.Code {
	f, ok := layout[id]
	if !ok {
		return errcode.InvalidDevice
	}
	if id == MACAddress || id == SerialNumber {
		return errcode.IsReadOnly
	}
	if len(buf) != f.size {
		return errcode.BufferLen
	}
	if mode == AccessEvent {
		return db.setElementEvent(f, buf)
	}
	return db.client.WriteMem(f.dev, f.offset, buf)
}

// getElementEvent dispatches f's read over the event-driven device
// manager, publishing the request with no AO requester (so the device
// manager answers on kernel.RawQueue) and blocking for the reply.
func (db *DB) getElementEvent(f field) ([]byte, errcode.Code) {
	if db.k == nil || db.devMgr == nil {
		return nil, errcode.Unimplemented
	}
	switch f.dev {
	case i2c.EEPROM:
		ev := db.k.Allocate(kernel.PoolSmall, kernel.DevMemRead)
		ev.Payload = i2c.MemReadReq{Offset: f.offset, Count: f.size}
		db.k.Post(db.devMgr, ev)
	case i2c.SNROM:
		ev := db.k.Allocate(kernel.PoolSmall, kernel.DevSNRead)
		ev.Payload = i2c.ScanReq{}
		db.k.Post(db.devMgr, ev)
	case i2c.EUIROM:
		ev := db.k.Allocate(kernel.PoolSmall, kernel.DevEUI64Read)
		ev.Payload = i2c.ScanReq{}
		db.k.Post(db.devMgr, ev)
	default:
		return nil, errcode.InvalidDevice
	}

	select {
	case done := <-db.k.RawQueue:
		defer db.k.GarbageCollect(done)
		if done.Signal == kernel.DevTimeout {
			return nil, errcode.DevTimeout
		}
		payload, _ := done.Payload.(kernel.ReadDonePayload)
		if status := errcode.Of(payload.Status); status != errcode.OK {
			return nil, status
		}
		buf := payload.Buf
		if f.dev == i2c.EUIROM {
			// EUI-ROM is always read as its full window; MAC_ADDRESS's
			// field offset skips the window's first two bytes.
			skip := int(f.offset - euiWindowStart)
			if skip >= 0 && skip+f.size <= len(buf) {
				buf = buf[skip : skip+f.size]
			}
		}
		if len(buf) != f.size {
			return nil, errcode.BufferLen
		}
		return buf, errcode.OK
	case <-time.After(rawQueueTimeout):
		return nil, errcode.DevTimeout
	}
}

// setElementEvent dispatches f's write over the event-driven device
// manager the same way getElementEvent does for reads. Only EEPROM
// fields are ever writable here (MAC_ADDRESS/SERIAL_NUMBER are refused
// above before reaching this point).
func (db *DB) setElementEvent(f field, buf []byte) errcode.Code {
	if db.k == nil || db.devMgr == nil {
		return errcode.Unimplemented
	}
	ev := db.k.Allocate(kernel.PoolSmall, kernel.DevMemWrite)
	ev.Payload = i2c.MemWriteReq{Offset: f.offset, Buf: buf}
	db.k.Post(db.devMgr, ev)

	select {
	case done := <-db.k.RawQueue:
		defer db.k.GarbageCollect(done)
		if done.Signal == kernel.DevTimeout {
			return errcode.DevTimeout
		}
		payload, _ := done.Payload.(kernel.ReadDonePayload)
		return errcode.Of(payload.Status)
	case <-time.After(rawQueueTimeout):
		return errcode.DevTimeout
	}
}
