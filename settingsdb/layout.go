// Package settingsdb implements the small, magic-word/version-gated
// field table stored at the head of the main EEPROM region, plus the
// MAC address field in the EUI-ROM region and the serial number field
// in the SN-ROM region.
package settingsdb

import "coupler-fw/i2c"

// FieldID names an element of the settings database.
type FieldID int

const (
	MagicWord FieldID = iota
	Version
	IPAddress
	MACAddress
	SerialNumber
)

// MagicWordValue is the fixed 32-bit constant (little-endian on the
// wire) that distinguishes an initialized settings record from
// blank/corrupt EEPROM.
const MagicWordValue uint32 = 0xdefec8db

// CurrentVersion is the settings-record layout version this build
// writes and expects.
const CurrentVersion uint16 = 0x0001

// DefaultIPAddress is the compiled-in default used by InitToDefault.
var DefaultIPAddress = [4]byte{169, 254, 2, 3}

// euiWindowStart is the registry's EUI-ROM MinOffset: DevEUI64Read
// always returns the whole window, so MAC_ADDRESS's event-access path
// has to know where that window begins to slice its own 6 bytes out.
const euiWindowStart uint16 = 0x98

// field describes one element's storage location.
type field struct {
	dev    i2c.DeviceID
	offset uint16
	size   int
}

// layout maps each FieldID to its storage location. MAC_ADDRESS skips
// the first two bytes of the EUI-ROM region.
var layout = map[FieldID]field{
	MagicWord:    {dev: i2c.EEPROM, offset: 0x00, size: 4},
	Version:      {dev: i2c.EEPROM, offset: 0x04, size: 2},
	IPAddress:    {dev: i2c.EEPROM, offset: 0x06, size: 4},
	MACAddress:   {dev: i2c.EUIROM, offset: 0x9A, size: 6},
	SerialNumber: {dev: i2c.SNROM, offset: 0x80, size: 16},
}
