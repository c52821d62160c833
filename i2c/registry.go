// Package i2c implements the two-layer I2C subsystem: a per-bus
// BusManager driving the STM32-style event/DMA interrupt sequence, and a
// per-bus DeviceManager sequencing multi-primitive device transactions
// against a static device registry.
package i2c

// DeviceID names a logical device on an I2C bus. The set is closed and
// every value has a registry entry; looking up an id outside this set is
// a programming error.
type DeviceID int

const (
	EEPROM DeviceID = iota
	SNROM
	EUIROM
	// IOExpTest stands in for a single-register I2C device exercising
	// the IOEXP_REG_READ/WRITE primitive sequence; no silicon part is
	// named for this role so a synthetic test device occupies the slot.
	IOExpTest
)

// Device is the compile-time registry record for one logical device.
type Device struct {
	Bus        int
	DevAddr    byte // 7-bit address
	AddrWidth  byte // device-address width, always 1 here
	MemWidth   byte // 1 or 2 bytes
	LastOffset uint16
	MinOffset  uint16
	MaxOffset  uint16
	PageSize   uint16
	ReadOnly   bool
}

// Registry is the read-only, total lookup table keyed by DeviceID.
type Registry map[DeviceID]Device

// DefaultRegistry is the on-the-wire device table: EEPROM at 0xA0
// spanning [0x00..0xFF] with 16-byte pages, SN-ROM and EUI-ROM sharing
// device address 0xB0 but distinct memory windows, both read-only.
func DefaultRegistry() Registry {
	return Registry{
		EEPROM: {
			Bus: 0, DevAddr: 0xA0, AddrWidth: 1, MemWidth: 1,
			MinOffset: 0x00, MaxOffset: 0xFF, PageSize: 16, ReadOnly: false,
		},
		SNROM: {
			Bus: 0, DevAddr: 0xB0, AddrWidth: 1, MemWidth: 1,
			MinOffset: 0x80, MaxOffset: 0x8F, PageSize: 16, ReadOnly: true,
		},
		EUIROM: {
			Bus: 0, DevAddr: 0xB0, AddrWidth: 1, MemWidth: 1,
			MinOffset: 0x98, MaxOffset: 0x9F, PageSize: 8, ReadOnly: true,
		},
		// Single readable/writable register at offset 0x00 of a separate
		// device (0xC0 on bus 1), purely to exercise IOEXP_REG_READ/WRITE
		// end to end.
		IOExpTest: {
			Bus: 1, DevAddr: 0xC0, AddrWidth: 1, MemWidth: 1,
			MinOffset: 0x00, MaxOffset: 0x00, PageSize: 1, ReadOnly: false,
		},
	}
}

// Lookup returns the registry entry for id. A missing id is a
// programming error (the registry is meant to be total over the closed
// DeviceID enum) and panics rather than returning a zero value silently.
func (r Registry) Lookup(id DeviceID) Device {
	d, ok := r[id]
	if !ok {
		panic("i2c: unknown device id in registry lookup")
	}
	return d
}
