package settingsdb

import (
	"testing"

	"coupler-fw/errcode"
	"coupler-fw/i2c"
)

func newTestDB() *DB {
	periph := i2c.NewSimPeripheral()
	client := i2c.NewBlockingClient(periph, i2c.DefaultRegistry())
	return New(client)
}

// TestGetElement_MACAddressSkipsEUIWindowHead reads the MAC over the
// blocking path: 6 bytes at 0x9A, skipping the first two bytes of the
// EUI-ROM window.
func TestGetElement_MACAddressSkipsEUIWindowHead(t *testing.T) {
	periph := i2c.NewSimPeripheral()
	periph.Seed(0xB0, 0x98, []byte{0xFF, 0xFF, 0x02, 0x42, 0xAC, 0x11, 0x00, 0x07})
	client := i2c.NewBlockingClient(periph, i2c.DefaultRegistry())
	db := New(client)

	mac, status := db.GetElement(MACAddress, 6, AccessBlocking)
	if status != errcode.OK {
		t.Fatalf("mac read failed: %v", status)
	}
	want := []byte{0x02, 0x42, 0xAC, 0x11, 0x00, 0x07}
	for i := range want {
		if mac[i] != want[i] {
			t.Fatalf("mac = %x, want %x", mac, want)
		}
	}
}

func TestIsValid_NotInit(t *testing.T) {
	db := newTestDB()

	status := db.IsValid()
	if status != errcode.NotInit {
		t.Fatalf("expected not_init on blank EEPROM, got %v", status)
	}
}

func TestInitToDefault_ThenValid(t *testing.T) {
	db := newTestDB()

	if status := db.InitToDefault(); status != errcode.OK {
		t.Fatalf("init_to_default failed: %v", status)
	}
	if status := db.IsValid(); status != errcode.OK {
		t.Fatalf("expected ok after init, got %v", status)
	}
}

func TestGetElement_BufferLen(t *testing.T) {
	db := newTestDB()

	if _, status := db.GetElement(IPAddress, 3, AccessBlocking); status != errcode.BufferLen {
		t.Fatalf("expected buffer_len for mismatched size, got %v", status)
	}
}

func TestSetElement_RefusesReadOnlyFields(t *testing.T) {
	db := newTestDB()

	if status := db.SetElement(MACAddress, make([]byte, 6), AccessBlocking); status != errcode.IsReadOnly {
		t.Fatalf("expected is_read_only for MAC_ADDRESS, got %v", status)
	}
	if status := db.SetElement(SerialNumber, make([]byte, 16), AccessBlocking); status != errcode.IsReadOnly {
		t.Fatalf("expected is_read_only for SERIAL_NUMBER, got %v", status)
	}
}

func TestGetElement_EventModeNeedsEventPath(t *testing.T) {
	db := newTestDB() // built with New: no kernel, no device manager

	if _, status := db.GetElement(IPAddress, 4, AccessEvent); status != errcode.Unimplemented {
		t.Fatalf("expected unimplemented for event access without an event path, got %v", status)
	}
}

func TestSetElement_UnknownField(t *testing.T) {
	db := newTestDB()

	if status := db.SetElement(FieldID(99), nil, AccessBlocking); status != errcode.InvalidDevice {
		t.Fatalf("expected invalid_device for unknown field, got %v", status)
	}
}
