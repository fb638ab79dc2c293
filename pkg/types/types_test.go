package types

import "testing"

func TestRegimeMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		regime Regime
		want   float64
	}{
		{RegimeNormal, 1.0},
		{RegimeElevated, 0.7},
		{RegimeHighStress, 0.4},
		{RegimeHalted, 0.0},
	}

	for _, tt := range tests {
		if got := RegimeMultiplier(tt.regime); got != tt.want {
			t.Errorf("RegimeMultiplier(%v) = %v, want %v", tt.regime, got, tt.want)
		}
	}
}

func TestBookSnapshotBestLevelsSkipInactive(t *testing.T) {
	t.Parallel()

	snap := &BookSnapshot{
		Bids: []PriceLevel{{Price: 100, Size: 0}, {Price: 99, Size: 5}},
		Asks: []PriceLevel{{Price: 101, Size: 0}, {Price: 102, Size: 3}},
	}

	bid, ok := snap.BestBid()
	if !ok || bid.Price != 99 {
		t.Fatalf("BestBid() = %+v, %v, want price 99", bid, ok)
	}
	ask, ok := snap.BestAsk()
	if !ok || ask.Price != 102 {
		t.Fatalf("BestAsk() = %+v, %v, want price 102", ask, ok)
	}
}

func TestBookSnapshotMidAndSpreadRequireBothSides(t *testing.T) {
	t.Parallel()

	snap := &BookSnapshot{
		Bids: []PriceLevel{{Price: 100, Size: 10}},
		Asks: []PriceLevel{},
	}
	if _, ok := snap.Mid(); ok {
		t.Error("Mid() should fail with no ask side")
	}
	if _, ok := snap.Spread(); ok {
		t.Error("Spread() should fail with no ask side")
	}

	snap.Asks = []PriceLevel{{Price: 102, Size: 5}}
	mid, ok := snap.Mid()
	if !ok || mid != 101 {
		t.Fatalf("Mid() = %v, %v, want 101, true", mid, ok)
	}
	spread, ok := snap.Spread()
	if !ok || spread != 2 {
		t.Fatalf("Spread() = %v, %v, want 2, true", spread, ok)
	}
}

func TestTraceLayerString(t *testing.T) {
	t.Parallel()

	if got := LayerLobCommit.String(); got != "lob_commit" {
		t.Errorf("LayerLobCommit.String() = %q, want lob_commit", got)
	}
	if got := TraceLayer(255).String(); got != "unknown" {
		t.Errorf("TraceLayer(255).String() = %q, want unknown", got)
	}
}
