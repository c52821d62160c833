package kernel

// Signal identifies the kind of an Event. Signals are drawn from a flat,
// statically partitioned space: contiguous blocks are handed to each
// subsystem and the boundary values of each block are exported so a
// subsystem can assert that its own range never collides with another's.
type Signal int

const (
	sigReservedZero Signal = iota // 0 is never a valid signal

	commStackFirst
	MsgReceived // raw bytes in from the comm layer
	MsgSend     // raw bytes out to the comm layer
	commStackLast

	serialDMAFirst
	SerialRxDMAComplete
	SerialTxDMAComplete
	serialDMALast

	i2cBusFirst
	BusCheckFree
	BusStartBit
	BusSend7BitAddr
	BusSendDevAddr
	BusReadMem
	BusWriteMem
	BusDone
	i2cBusLast

	i2cDeviceFirst
	DevMemRead
	DevMemWrite
	DevSNRead
	DevEUI64Read
	DevRegRead
	DevRegWrite
	DevReadDone
	DevWriteDone
	DevTimeout
	Ignored
	i2cDeviceLast

	// Internal block: hardware-completion signals a BusManager posts to
	// itself from its simulated ISR/DMA callbacks. These never leave the
	// BusManager's own mailbox and are not part of the external
	// interface table, so they are appended at the end.
	hwInternalFirst
	HWFreeOK
	HWFreeTimeout
	HWEv5OK
	HWEv5Timeout
	HWEv6OK
	HWEv6Timeout
	HWEv8OK
	HWEv8Timeout
	HWReadDone
	HWReadTimeout
	HWWriteDone
	HWWriteTimeout
	DevWatchdogFired
	hwInternalLast
)

// Block boundaries, exported so subsystems can assert non-overlap.
const (
	CommStackFirst = commStackFirst + 1
	CommStackLast  = commStackLast - 1

	SerialDMAFirst = serialDMAFirst + 1
	SerialDMALast  = serialDMALast - 1

	I2CBusFirst = i2cBusFirst + 1
	I2CBusLast  = i2cBusLast - 1

	I2CDeviceFirst = i2cDeviceFirst + 1
	I2CDeviceLast  = i2cDeviceLast - 1
)

// String names, used only for debug-print formatting (x/fmtx), never for
// wire encoding.
func (s Signal) String() string {
	switch s {
	case MsgReceived:
		return "MSG_RECEIVED"
	case MsgSend:
		return "MSG_SEND"
	case SerialRxDMAComplete:
		return "SERIAL_RX_DMA_COMPLETE"
	case SerialTxDMAComplete:
		return "SERIAL_TX_DMA_COMPLETE"
	case BusCheckFree:
		return "CHECK_FREE"
	case BusStartBit:
		return "START_BIT"
	case BusSend7BitAddr:
		return "SEND_7BIT_ADDR"
	case BusSendDevAddr:
		return "SEND_DEV_ADDR"
	case BusReadMem:
		return "READ_MEM"
	case BusWriteMem:
		return "WRITE_MEM"
	case BusDone:
		return "BUS_DONE"
	case DevMemRead:
		return "EEPROM_RAW_MEM_READ"
	case DevMemWrite:
		return "EEPROM_RAW_MEM_WRITE"
	case DevSNRead:
		return "EEPROM_SN_READ"
	case DevEUI64Read:
		return "EEPROM_EUI64_READ"
	case DevRegRead:
		return "IOEXP_REG_READ"
	case DevRegWrite:
		return "IOEXP_REG_WRITE"
	case DevReadDone:
		return "DEV_READ_DONE"
	case DevWriteDone:
		return "DEV_WRITE_DONE"
	case DevTimeout:
		return "DEV_TIMEOUT"
	case Ignored:
		return "IGNORED"
	default:
		return "SIG_UNKNOWN"
	}
}
