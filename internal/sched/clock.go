// Package sched implements the monotonic cycle clock and the timing
// wheel used to schedule heartbeats and periodic fill checks without
// touching the OS scheduler on the hot path (§4.9).
package sched

import "time"

// Clock converts a monotonic cycle counter to nanoseconds via a
// one-time calibration against a reference wall clock. All decision
// ordering in the hot path uses cycles directly; nanoseconds are
// computed only when a value crosses into logging or configuration.
type Clock struct {
	cyclesPerNano float64
	epochCycles   uint64
	epochNanos    int64
}

// CycleSource reads the current cycle counter. The pinned hot thread is
// expected to supply a cheap, monotonic, per-core counter (e.g. an
// architecture cycle counter); tests and non-hot-path callers can use
// NanoCycleSource, which fakes a 1-cycle-per-nanosecond counter off
// time.Now() for environments with no direct cycle-counter access.
type CycleSource func() uint64

// NanoCycleSource is a CycleSource that ticks one cycle per nanosecond,
// suitable for tests and for platforms without a cheap native counter.
func NanoCycleSource() CycleSource {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start).Nanoseconds())
	}
}

// Calibrate performs the one-time calibration described in §4.9:
// sample the cycle source twice across a known wall-clock interval and
// derive cycles-per-nanosecond.
func Calibrate(source CycleSource, interval time.Duration) *Clock {
	startCycles := source()
	startNanos := time.Now().UnixNano()
	time.Sleep(interval)
	endCycles := source()
	endNanos := time.Now().UnixNano()

	cycles := float64(endCycles - startCycles)
	nanos := float64(endNanos - startNanos)
	rate := cycles / nanos
	if rate <= 0 {
		rate = 1
	}

	return &Clock{
		cyclesPerNano: rate,
		epochCycles:   startCycles,
		epochNanos:    startNanos,
	}
}

// NewClockWithRate builds a Clock from an already-known cycles-per-
// nanosecond rate, useful for tests that want to skip the real sleep in
// Calibrate.
func NewClockWithRate(rate float64, epochCycles uint64, epochNanos int64) *Clock {
	if rate <= 0 {
		rate = 1
	}
	return &Clock{cyclesPerNano: rate, epochCycles: epochCycles, epochNanos: epochNanos}
}

// Nanos converts a cycle count to nanoseconds since the process epoch,
// for logging only — never for hot-path ordering decisions.
func (c *Clock) Nanos(cycles uint64) int64 {
	delta := float64(cycles-c.epochCycles) / c.cyclesPerNano
	return c.epochNanos + int64(delta)
}

// CyclesPerNano returns the calibrated rate.
func (c *Clock) CyclesPerNano() float64 { return c.cyclesPerNano }
