package i2c

import (
	"time"

	"tinygo.org/x/drivers"

	"coupler-fw/errcode"
	"coupler-fw/kernel"
)

// BlockingClient implements drivers.I2C so any off-the-shelf
// tinygo.org/x/drivers sensor driver can run directly over the blocking
// fallback path, sharing the same peripheral the event-driven bus
// manager drives once the scheduler starts.
var _ drivers.I2C = (*BlockingClient)(nil)

// blockingPrimitiveTimeout bounds each spin-wait phase of the blocking
// client, mirroring the per-primitive timers the event-driven bus
// manager arms, just waited on synchronously instead of via the
// kernel's mailbox.
const blockingPrimitiveTimeout = 500 * time.Millisecond

// BlockingClient performs the same device transactions as the
// event-driven DeviceManager, but synchronously by spin-waiting on the
// peripheral's completion callback, for use before the scheduler starts
// or inside a crash handler. It shares the device registry and
// validation rules with the event-driven path, but talks to the
// peripheral directly rather than through a BusManager AO.
type BlockingClient struct {
	periph   Peripheral
	registry Registry
}

// NewBlockingClient builds a blocking client driving periph directly.
func NewBlockingClient(periph Peripheral, reg Registry) *BlockingClient {
	return &BlockingClient{periph: periph, registry: reg}
}

// waitOK blocks for the given peripheral phase to call back ok, up to
// blockingPrimitiveTimeout, and translates a miss into timeoutCode.
func waitOK(timeoutCode errcode.Code, start func(done func(ok bool))) errcode.Code {
	res := make(chan bool, 1)
	start(func(ok bool) { res <- ok })
	select {
	case ok := <-res:
		if ok {
			return errcode.OK
		}
		return timeoutCode
	case <-time.After(blockingPrimitiveTimeout):
		return timeoutCode
	}
}

func (c *BlockingClient) checkFree() errcode.Code {
	return waitOK(errcode.RcvrySDAStuckLow, c.periph.CheckFree)
}

func (c *BlockingClient) genStart() errcode.Code {
	return waitOK(errcode.EV5Timeout, c.periph.GenStart)
}

func (c *BlockingClient) sendAddr(addr byte, dir kernel.Direction) errcode.Code {
	return waitOK(errcode.EV6Timeout, func(done func(ok bool)) { c.periph.SendAddr(addr, dir, done) })
}

func (c *BlockingClient) sendMemAddr(offset uint16, width byte) errcode.Code {
	return waitOK(errcode.EV8Timeout, func(done func(ok bool)) { c.periph.SendMemAddr(offset, width, done) })
}

func (c *BlockingClient) readMem(n int) ([]byte, errcode.Code) {
	res := make(chan struct {
		buf []byte
		ok  bool
	}, 1)
	c.periph.ReadMem(n, func(buf []byte, ok bool) {
		res <- struct {
			buf []byte
			ok  bool
		}{buf, ok}
	})
	select {
	case r := <-res:
		if r.ok {
			return r.buf, errcode.OK
		}
		return nil, errcode.RxneFlagTimeout
	case <-time.After(blockingPrimitiveTimeout):
		return nil, errcode.RxneFlagTimeout
	}
}

func (c *BlockingClient) writeMem(buf []byte) errcode.Code {
	return waitOK(errcode.WriteByteTimeout, func(done func(ok bool)) { c.periph.WriteMem(buf, done) })
}

// Tx performs a raw write-then-read transaction against a 7-bit address,
// the shape tinygo.org/x/drivers expects of every I2C bus implementation.
// Unlike ReadMem/WriteMem it bypasses the device registry entirely: addr
// and the frame contents are whatever the caller's driver package wants,
// not one of this board's own logical devices.
func (c *BlockingClient) Tx(addr uint16, w, r []byte) error {
	if status := c.checkFree(); status != errcode.OK {
		return status
	}
	if len(w) > 0 {
		if status := c.genStart(); status != errcode.OK {
			return status
		}
		if status := c.sendAddr(byte(addr), kernel.DirTransmit); status != errcode.OK {
			return status
		}
		if status := c.writeMem(w); status != errcode.OK {
			return status
		}
	}
	if len(r) > 0 {
		if status := c.genStart(); status != errcode.OK {
			return status
		}
		if status := c.sendAddr(byte(addr), kernel.DirReceive); status != errcode.OK {
			return status
		}
		buf, status := c.readMem(len(r))
		if status != errcode.OK {
			return status
		}
		copy(r, buf)
	}
	return nil
}

// ReadMem performs a full read transaction against devID at offset for
// count bytes, spin-waiting through the same seven-phase sequence the
// device manager drives asynchronously.
func (c *BlockingClient) ReadMem(devID DeviceID, offset uint16, count int) ([]byte, errcode.Code) {
	dev := c.registry.Lookup(devID)
	if status, ok := validateAccess(dev, devID, offset, count, false); !ok {
		return nil, status
	}
	if status := c.checkFree(); status != errcode.OK {
		return nil, status
	}
	if status := c.genStart(); status != errcode.OK {
		return nil, status
	}
	if status := c.sendAddr(dev.DevAddr, kernel.DirTransmit); status != errcode.OK {
		return nil, status
	}
	if status := c.sendMemAddr(offset, dev.MemWidth); status != errcode.OK {
		return nil, status
	}
	if status := c.genStart(); status != errcode.OK {
		return nil, status
	}
	if status := c.sendAddr(dev.DevAddr, kernel.DirReceive); status != errcode.OK {
		return nil, status
	}
	return c.readMem(count)
}

// WriteMem performs a full page-split write transaction against devID.
func (c *BlockingClient) WriteMem(devID DeviceID, offset uint16, buf []byte) errcode.Code {
	dev := c.registry.Lookup(devID)
	if status, ok := validateAccess(dev, devID, offset, len(buf), true); !ok {
		return status
	}
	if status := c.checkFree(); status != errcode.OK {
		return status
	}
	for _, page := range splitPages(offset, buf, dev.PageSize) {
		if status := c.genStart(); status != errcode.OK {
			return status
		}
		if status := c.sendAddr(dev.DevAddr, kernel.DirTransmit); status != errcode.OK {
			return status
		}
		if status := c.sendMemAddr(page.offset, dev.MemWidth); status != errcode.OK {
			return status
		}
		if status := c.writeMem(page.buf); status != errcode.OK {
			return status
		}
	}
	return errcode.OK
}
