package kernel

import (
	"testing"
	"time"
)

// newTestAO builds an AO without starting its dispatch goroutine, so the
// test itself can read ao.mailbox directly to observe what Timer/Post
// deliver without racing a second consumer.
func newTestAO(t *testing.T, k *Kernel, mailboxLen int) *AO {
	t.Helper()
	return NewAO(k, "timer-test-ao", 5, mailboxLen, "Idle", func(sig Signal) (string, bool) { return "", false })
}

func TestTimer_ArmDeliversAfterTicks(t *testing.T) {
	k := NewKernel()
	ao := newTestAO(t, k, 4)

	tm := NewTimer(ao, DevTimeout)
	tm.Arm(50) // 5ms at 10,000 ticks/s

	select {
	case ev := <-ao.mailbox:
		if ev.Signal != DevTimeout {
			t.Fatalf("signal = %v, want DevTimeout", ev.Signal)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timer never fired")
	}
}

func TestTimer_DisarmCancelsDelivery(t *testing.T) {
	k := NewKernel()
	ao := newTestAO(t, k, 4)

	tm := NewTimer(ao, DevTimeout)
	tm.Arm(200) // 20ms
	tm.Disarm()

	select {
	case ev := <-ao.mailbox:
		t.Fatalf("disarmed timer delivered %v, want nothing", ev.Signal)
	case <-time.After(60 * time.Millisecond):
		// expected: nothing arrives
	}
}

func TestTimer_RearmResetsDeadline(t *testing.T) {
	k := NewKernel()
	ao := newTestAO(t, k, 4)

	tm := NewTimer(ao, DevTimeout)
	tm.Arm(300) // 30ms
	time.Sleep(10 * time.Millisecond)
	tm.Rearm(300) // pushes the deadline out another 30ms from now

	select {
	case ev := <-ao.mailbox:
		t.Fatalf("rearmed timer fired too early: %v", ev.Signal)
	case <-time.After(15 * time.Millisecond):
		// still within the rearmed window, nothing should have arrived yet
	}

	select {
	case ev := <-ao.mailbox:
		if ev.Signal != DevTimeout {
			t.Fatalf("signal = %v, want DevTimeout", ev.Signal)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("rearmed timer never fired")
	}
}
