package kernel

import (
	"time"

	"coupler-fw/x/mathx"
	"coupler-fw/x/timex"
)

// TicksPerSecond is the kernel tick rate, matching the source firmware's
// 10,000/s nominal.
const TicksPerSecond = 10000

// TickDuration converts a tick count at the kernel rate to a
// time.Duration.
func TickDuration(ticks int) time.Duration {
	return timex.TicksToDuration(ticks, TicksPerSecond)
}

// Timer is a one-shot timer event owned by a single AO. It is armed with
// a tick count and, on expiry, delivers a pre-allocated signal to the
// owning AO's mailbox via post_from_isr semantics (timer expiry runs
// off a goroutine standing in for the hardware tick ISR).
type Timer struct {
	owner   *AO
	signal  Signal
	t       *time.Timer
	armedAt int64
}

// NewTimer creates a disarmed timer that, once armed, posts sig to owner.
func NewTimer(owner *AO, sig Signal) *Timer {
	return &Timer{owner: owner, signal: sig}
}

// Arm starts the timer for the given number of kernel ticks. Re-arming an
// already-armed timer without disarming first is a logic error in the
// caller (mirrors the source's one timer per phase discipline) but is
// tolerated here by disarming first.
func (tm *Timer) Arm(ticks int) {
	tm.Disarm()
	ticks = mathx.Max(ticks, 0)
	tm.armedAt = timex.NowMs()
	tm.t = time.AfterFunc(TickDuration(ticks), func() {
		tm.owner.postFromISR(staticEvent(tm.signal))
	})
}

// Disarm cancels a pending timer. Safe to call when not armed.
func (tm *Timer) Disarm() {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}

// Rearm disarms (if needed) and arms again for a fresh tick count.
func (tm *Timer) Rearm(ticks int) { tm.Arm(ticks) }

// staticEvent builds a statically-allocated (non-pooled, refcount
// ignored) event for internal signals like timer expiry, which never
// leave the kernel and never need pool accounting.
func staticEvent(sig Signal) *Event {
	return &Event{Signal: sig, pool: PoolStatic}
}

// NewStaticEvent is the exported form of staticEvent, used by other
// packages (e.g. i2c's simulated ISR callbacks) to build internal,
// non-pooled completion signals that never cross the pub/sub fabric.
func NewStaticEvent(sig Signal) *Event {
	return staticEvent(sig)
}
