// Package debugpub is the debug-print boundary: it formats textual
// events and publishes them onto the control bus for any subscriber (a
// console sink, a log recorder, a host-comm forwarder) to route. The
// core publishes through it but never defines the formatting or framing
// a subscriber applies downstream.
package debugpub

import (
	"coupler-fw/bus"
	"coupler-fw/kernel"
	"coupler-fw/x/fmtx"
)

const topicPrefix = "debug"

// Level tags a published line so subscribers can filter without parsing
// the text itself.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Publisher publishes formatted debug lines under "debug/<level>". With
// a kernel attached it additionally mirrors each line to the host-comm
// egress as a MSG_SEND event; that mirror allocates with margin and
// drops the line under pool pressure rather than asserting, since debug
// output must never be the thing that exhausts the event pools.
type Publisher struct {
	conn *bus.Connection
	k    *kernel.Kernel
}

// New builds a bus-only publisher.
func New(conn *bus.Connection) *Publisher {
	return &Publisher{conn: conn}
}

// NewWithHostMirror builds a publisher that also mirrors every line to
// the comm layer's egress signal.
func NewWithHostMirror(conn *bus.Connection, k *kernel.Kernel) *Publisher {
	return &Publisher{conn: conn, k: k}
}

// Printf formats and publishes one line at the given level.
func (p *Publisher) Printf(lvl Level, format string, a ...any) {
	line := fmtx.Sprintf(format, a...)
	p.conn.Publish(&bus.Message{
		Topic:   bus.T(topicPrefix, lvl.String()),
		Payload: line,
	})
	p.mirrorToHost(line)
}

// Debugf, Infof and Errorf are Printf at a fixed level.
func (p *Publisher) Debugf(format string, a ...any) { p.Printf(LevelDebug, format, a...) }
func (p *Publisher) Infof(format string, a ...any)  { p.Printf(LevelInfo, format, a...) }
func (p *Publisher) Errorf(format string, a ...any) { p.Printf(LevelError, format, a...) }

// mirrorToHost forwards line to whatever comm layer subscribes to
// MSG_SEND, truncated to the comm path's payload ceiling. A nil event
// from the with-margin allocator means the pools are under pressure;
// the line is dropped, not asserted on.
func (p *Publisher) mirrorToHost(line string) {
	if p.k == nil {
		return
	}
	ev := p.k.AllocateWithMargin(kernel.PoolLarge, kernel.MsgSend)
	if ev == nil {
		return
	}
	buf := []byte(line)
	if len(buf) > kernel.MaxRawPayload {
		buf = buf[:kernel.MaxRawPayload]
	}
	ev.Payload = kernel.RawPayload{Buf: buf}
	p.k.Publish(ev)
}
