package sched

import "testing"

func TestScheduleAfterFiresOnceAfterEnoughTicks(t *testing.T) {
	w := NewWheel(4, 10, 8)

	fired := 0
	w.ScheduleAfter(25, func() { fired++ })

	for i := 0; i < 10 && fired == 0; i++ {
		w.Tick()
	}

	if fired != 1 {
		t.Fatalf("fired = %d, want exactly 1", fired)
	}
}

func TestScheduleAfterDoesNotFireEarly(t *testing.T) {
	w := NewWheel(4, 10, 8)

	fired := false
	w.ScheduleAfter(35, func() { fired = true })

	// 35 cycles needs at least 4 ticks (slotDuration=10) to come due.
	for i := 0; i < 3; i++ {
		w.Tick()
	}
	if fired {
		t.Fatalf("event fired before its due cycle")
	}
}

func TestCancelSkipsEventWhenDue(t *testing.T) {
	w := NewWheel(4, 10, 8)

	fired := false
	id := w.ScheduleAfter(10, func() { fired = true })

	if !w.Cancel(id) {
		t.Fatalf("Cancel returned false for a live event")
	}

	for i := 0; i < 5; i++ {
		w.Tick()
	}

	if fired {
		t.Fatalf("cancelled event still fired")
	}
}

func TestCancelUnknownIDReturnsFalse(t *testing.T) {
	w := NewWheel(4, 10, 8)
	if w.Cancel(EventID(999)) {
		t.Fatalf("Cancel on an unknown id should return false")
	}
}

func TestEventBeyondSpanOverflowsAndEventuallyFires(t *testing.T) {
	w := NewWheel(4, 10, 8) // span = 40

	fired := 0
	w.ScheduleAfter(1000, func() { fired++ })

	for i := 0; i < 105; i++ {
		w.Tick()
	}

	if fired != 1 {
		t.Fatalf("fired = %d, want exactly 1 after the overflow event's due cycle elapsed", fired)
	}
}

func TestOverflowCapacityDropsFarthestEvent(t *testing.T) {
	w := NewWheel(2, 1, 1) // span = 2, overflow capacity 1

	var nearFired, farFired bool
	w.ScheduleAfter(100, func() { nearFired = true })
	// this second overflow event is farther out than the first; pushing
	// it past capacity 1 should evict the farthest (itself), not the
	// nearer one already queued.
	w.ScheduleAfter(200, func() { farFired = true })

	if w.overflow.Len() > 1 {
		t.Fatalf("overflow heap grew past capacity: len=%d", w.overflow.Len())
	}

	for i := 0; i < 210; i++ {
		w.Tick()
	}

	if !nearFired {
		t.Fatalf("nearest overflow event should have survived and fired")
	}
	if farFired {
		t.Fatalf("farthest overflow event should have been evicted, not fired")
	}
}

func TestCancelOverflowEventBeforePromotion(t *testing.T) {
	w := NewWheel(2, 1, 4)

	fired := false
	id := w.ScheduleAfter(100, func() { fired = true })
	w.Cancel(id)

	for i := 0; i < 105; i++ {
		w.Tick()
	}

	if fired {
		t.Fatalf("cancelled overflow event still fired after promotion")
	}
}
