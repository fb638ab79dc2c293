package sched

import "testing"

func TestNewClockWithRateConvertsCyclesToNanos(t *testing.T) {
	c := NewClockWithRate(2.0, 1000, 500)

	got := c.Nanos(1000)
	if got != 500 {
		t.Fatalf("Nanos at epoch = %d, want 500", got)
	}

	got = c.Nanos(1200)
	if got != 600 {
		t.Fatalf("Nanos(1200) = %d, want 600 (200 cycles / 2 cycles-per-nano = 100ns)", got)
	}
}

func TestNewClockWithRateRejectsNonPositiveRate(t *testing.T) {
	c := NewClockWithRate(0, 0, 0)
	if c.CyclesPerNano() != 1 {
		t.Fatalf("CyclesPerNano() = %v, want fallback of 1 for a non-positive rate", c.CyclesPerNano())
	}
}

func TestNanoCycleSourceIsMonotonic(t *testing.T) {
	src := NanoCycleSource()
	a := src()
	b := src()
	if b < a {
		t.Fatalf("NanoCycleSource went backwards: %d then %d", a, b)
	}
}
