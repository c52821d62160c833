package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus Code = "unknown_bus"
	BusInUse   Code = "bus_in_use"
	UnknownPin Code = "unknown_pin"
	PinInUse   Code = "pin_in_use"
	Timeout    Code = "timeout"

	Error Code = "error" // generic fallback

	// Memory / buffer category.
	NullValue Code = "null_value"
	BufferLen Code = "buffer_len"

	// I2C-bus category (closed set, carried by BUS_DONE).
	BusOK                        Code = "ok"
	BusBusy                      Code = "busy"
	RcvrySDAStuckLow             Code = "rcvry_sda_stuck_low"
	RcvryEV5NotRec               Code = "rcvry_ev5_not_rec"
	RcvryEV6NotRec               Code = "rcvry_ev6_not_rec"
	EV5Timeout                   Code = "ev5_timeout"
	EV6Timeout                   Code = "ev6_timeout"
	EV8Timeout                   Code = "ev8_timeout"
	InvalidParamsFor7BitAddr     Code = "invalid_params_for_7bit_addr"
	InvalidParamsForSendData     Code = "invalid_params_for_send_data"
	InvalidParamsForBusCheckFree Code = "invalid_params_for_bus_check_free"
	RxneFlagTimeout              Code = "rxne_flag_timeout"
	StopBitTimeout               Code = "stop_bit_timeout"
	WriteByteTimeout             Code = "write_byte_timeout"

	// I2C-device category.
	CheckBusTimeout       Code = "check_bus_timeout"
	ReadMemTimeout        Code = "read_mem_timeout"
	WriteMemTimeout       Code = "write_mem_timeout"
	ReadRegTimeout        Code = "read_reg_timeout"
	WriteRegTimeout       Code = "write_reg_timeout"
	AckDisTimeout         Code = "ack_dis_timeout"
	AckEnTimeout          Code = "ack_en_timeout"
	MemOutBounds          Code = "mem_out_bounds"
	IsReadOnly            Code = "is_read_only"
	InvalidDevice         Code = "invalid_device"
	EEPROMMemAddrBoundary Code = "eeprom_mem_addr_boundary"
	DevTimeout            Code = "dev_timeout"
	Ignored               Code = "ignored"

	// Settings-DB category.
	NotInit     Code = "not_init"
	VerMismatch Code = "ver_mismatch"

	// Reserved.
	Unimplemented Code = "unimplemented"
	Unknown       Code = "unknown"
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}
