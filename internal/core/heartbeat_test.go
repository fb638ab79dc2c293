package core

import "testing"

func TestVenueHeartbeatSampleTracksEMA(t *testing.T) {
	t.Parallel()

	hb := newVenueHeartbeat(1, 0.5)
	hb.sample(1000, 0)
	if got := hb.state.Load().EMARTTNanos; got != 1000 {
		t.Fatalf("EMARTTNanos after first sample = %v, want 1000", got)
	}

	hb.sample(2000, 1)
	if got := hb.state.Load().EMARTTNanos; got != 1500 {
		t.Fatalf("EMARTTNanos after second sample = %v, want 1500 (alpha=0.5)", got)
	}
	if !hb.state.Load().Connected {
		t.Fatal("Connected = false after a fresh sample, want true")
	}
}

func TestVenueHeartbeatMissDisconnectsAfterThreshold(t *testing.T) {
	t.Parallel()

	hb := newVenueHeartbeat(1, 0.5)
	hb.sample(500, 0)

	for i := 0; i < venueTimeoutThreshold-1; i++ {
		hb.miss(int64(i + 1))
		if !hb.state.Load().Connected {
			t.Fatalf("Connected = false after %d miss(es), want still true (threshold=%d)", i+1, venueTimeoutThreshold)
		}
	}

	hb.miss(int64(venueTimeoutThreshold))
	if hb.state.Load().Connected {
		t.Fatalf("Connected = true after %d consecutive misses, want false", venueTimeoutThreshold)
	}
	if got := hb.state.Load().ConsecutiveTimeouts; got != venueTimeoutThreshold {
		t.Errorf("ConsecutiveTimeouts = %d, want %d", got, venueTimeoutThreshold)
	}
}

func TestVenueHeartbeatSampleResetsMissCount(t *testing.T) {
	t.Parallel()

	hb := newVenueHeartbeat(1, 0.5)
	hb.sample(500, 0)
	hb.miss(1)
	hb.miss(2)

	hb.sample(600, 3)
	if !hb.state.Load().Connected {
		t.Fatal("Connected = false after a fresh sample following misses, want true")
	}
	if got := hb.state.Load().ConsecutiveTimeouts; got != 0 {
		t.Errorf("ConsecutiveTimeouts after a fresh sample = %d, want 0", got)
	}
}
