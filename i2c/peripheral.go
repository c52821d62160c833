package i2c

import (
	"math/rand"
	"sync"
	"time"

	"coupler-fw/kernel"
)

// Peripheral stands in for the STM32-style I2C peripheral plus its DMA
// channels. Every method is asynchronous: the result is delivered via
// the done callback, invoked from a goroutine standing in for the
// peripheral's event/error/DMA interrupt context.
type Peripheral interface {
	// CheckFree recovers a stuck bus (bit-bang clock sequence in real
	// hardware) and reports whether it is now free.
	CheckFree(done func(ok bool))
	// GenStart issues a start condition and reports EV5.
	GenStart(done func(ok bool))
	// SendAddr shifts out the 7-bit device address and reports EV6.
	SendAddr(addr byte, dir kernel.Direction, done func(ok bool))
	// SendMemAddr shifts out the 1- or 2-byte internal memory address
	// and reports EV8.
	SendMemAddr(offset uint16, width byte, done func(ok bool))
	// ReadMem starts a DMA receive of n bytes.
	ReadMem(n int, done func(buf []byte, ok bool))
	// WriteMem starts a DMA transmit of buf.
	WriteMem(buf []byte, done func(ok bool))
}

// SimPeripheral is a software simulation of the peripheral: every phase
// completes successfully after a short simulated latency unless a fault
// has been injected for that phase. Used both by tests and, wired
// through BusManager, as the default peripheral for hosts with no real
// I2C silicon attached.
//
// Memory is modelled per 7-bit address, mirroring how a real EEPROM/ROM
// part behaves: SendAddr selects the device, SendMemAddr seeks an
// internal pointer into that device's byte array, and ReadMem/WriteMem
// transfer from/to that pointer and advance it — the same sequencing
// the device manager drives it through.
type SimPeripheral struct {
	Latency time.Duration

	// Fault injection, consumed once (auto-clearing) so a test can force
	// exactly one failure without affecting subsequent transactions.
	StuckFree    bool
	FailGenStart bool
	FailSendAddr bool
	FailMemAddr  bool
	FailRead     bool
	FailWrite    bool

	// RandLatencyJitter adds up to this much random extra delay, useful
	// for shaking out ordering assumptions in tests.
	RandLatencyJitter time.Duration

	mu        sync.Mutex
	mem       map[byte]map[uint16]byte
	curAddr   byte
	curOffset uint16
}

// NewSimPeripheral returns a peripheral with a small, realistic default
// latency and no injected faults.
func NewSimPeripheral() *SimPeripheral {
	return &SimPeripheral{
		Latency: 200 * time.Microsecond,
		mem:     make(map[byte]map[uint16]byte),
	}
}

func (p *SimPeripheral) delay() time.Duration {
	if p.RandLatencyJitter <= 0 {
		return p.Latency
	}
	return p.Latency + time.Duration(rand.Int63n(int64(p.RandLatencyJitter)))
}

// Seed pre-loads addr's memory at offset with data, for tests that need
// to exercise a read against known device content (e.g. a serial-number
// ROM programmed at manufacture).
func (p *SimPeripheral) Seed(addr byte, offset uint16, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev := p.deviceMemLocked(addr)
	for i, b := range data {
		dev[offset+uint16(i)] = b
	}
}

func (p *SimPeripheral) deviceMemLocked(addr byte) map[uint16]byte {
	dev := p.mem[addr]
	if dev == nil {
		dev = make(map[uint16]byte)
		p.mem[addr] = dev
	}
	return dev
}

func (p *SimPeripheral) CheckFree(done func(ok bool)) {
	stuck := p.StuckFree
	p.StuckFree = false
	time.AfterFunc(p.delay(), func() { done(!stuck) })
}

func (p *SimPeripheral) GenStart(done func(ok bool)) {
	fail := p.FailGenStart
	p.FailGenStart = false
	time.AfterFunc(p.delay(), func() { done(!fail) })
}

func (p *SimPeripheral) SendAddr(addr byte, dir kernel.Direction, done func(ok bool)) {
	fail := p.FailSendAddr
	p.FailSendAddr = false
	_ = dir
	time.AfterFunc(p.delay(), func() {
		if fail {
			done(false)
			return
		}
		p.mu.Lock()
		p.curAddr = addr
		p.mu.Unlock()
		done(true)
	})
}

func (p *SimPeripheral) SendMemAddr(offset uint16, width byte, done func(ok bool)) {
	fail := p.FailMemAddr
	p.FailMemAddr = false
	_ = width
	time.AfterFunc(p.delay(), func() {
		if fail {
			done(false)
			return
		}
		p.mu.Lock()
		p.curOffset = offset
		p.mu.Unlock()
		done(true)
	})
}

func (p *SimPeripheral) ReadMem(n int, done func(buf []byte, ok bool)) {
	fail := p.FailRead
	p.FailRead = false
	time.AfterFunc(p.delay(), func() {
		if fail {
			done(nil, false)
			return
		}
		p.mu.Lock()
		dev := p.deviceMemLocked(p.curAddr)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = dev[p.curOffset+uint16(i)] // zero value for never-written cells
		}
		p.curOffset += uint16(n)
		p.mu.Unlock()
		done(buf, true)
	})
}

func (p *SimPeripheral) WriteMem(buf []byte, done func(ok bool)) {
	fail := p.FailWrite
	p.FailWrite = false
	time.AfterFunc(p.delay(), func() {
		if fail {
			done(false)
			return
		}
		p.mu.Lock()
		dev := p.deviceMemLocked(p.curAddr)
		for i, b := range buf {
			dev[p.curOffset+uint16(i)] = b
		}
		p.curOffset += uint16(len(buf))
		p.mu.Unlock()
		done(true)
	})
}
