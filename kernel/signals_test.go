package kernel

import "testing"

// TestSignalBlocksDoNotOverlap asserts that each signal block's
// [First, Last] range is disjoint from every other block's.
func TestSignalBlocksDoNotOverlap(t *testing.T) {
	type block struct {
		name        string
		first, last Signal
	}
	blocks := []block{
		{"comm-stack", CommStackFirst, CommStackLast},
		{"serial-dma", SerialDMAFirst, SerialDMALast},
		{"i2c-bus", I2CBusFirst, I2CBusLast},
		{"i2c-device", I2CDeviceFirst, I2CDeviceLast},
	}
	for _, b := range blocks {
		if b.first > b.last {
			t.Fatalf("block %s has first > last (%d > %d)", b.name, b.first, b.last)
		}
	}
	for i, a := range blocks {
		for j, b := range blocks {
			if i == j {
				continue
			}
			if a.first <= b.last && b.first <= a.last {
				t.Fatalf("block %s overlaps block %s", a.name, b.name)
			}
		}
	}
}

func TestSignalZeroIsReserved(t *testing.T) {
	if sigReservedZero != 0 {
		t.Fatalf("expected signal 0 reserved, got %d", sigReservedZero)
	}
	if CommStackFirst == 0 || SerialDMAFirst == 0 || I2CBusFirst == 0 || I2CDeviceFirst == 0 {
		t.Fatal("no externally visible signal may be the reserved zero value")
	}
}
