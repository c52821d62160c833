// platform/uart_rp2.go
//go:build rp2040 || rp2350

// Package platform wires the coupler board's host-link UART on the RP2
// family, the way the HAL's rp2xxx factories wire I2C buses and GPIO pins.
package platform

import (
	"context"

	"github.com/jangala-dev/tinygo-uartx/uartx"
)

// HostLink is the debug-print/host-protocol boundary's transport: the core
// never parses host framing itself, it only ever writes bytes out and reads
// bytes in.
type HostLink interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
	SetBaudRate(br uint32)
}

type rp2HostLink struct{ u *uartx.UART }

func (r *rp2HostLink) Write(p []byte) (int, error) { return r.u.Write(p) }
func (r *rp2HostLink) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	return r.u.RecvSomeContext(ctx, p)
}
func (r *rp2HostLink) SetBaudRate(br uint32) { r.u.SetBaudRate(br) }

// DefaultHostLink configures UART0 as the coupler board's host-link, the
// RX-IRQ-backed line the blocking fallback and debug-print layers share.
func DefaultHostLink() HostLink {
	_ = uartx.UART0.Configure(uartx.UARTConfig{})
	link := &rp2HostLink{u: uartx.UART0}
	link.SetBaudRate(115200)
	return link
}
