package quoter

import (
	"errors"
	"testing"
)

func testParams() Params {
	p := DefaultParams()
	p.TickSize = 1.0
	p.BaseOrderSize = 100
	p.MinOrderSize = 1
	p.MaxPosition = 1000
	p.BasePosition = 0
	return p
}

// intrinsicHalfSpread mirrors Compute's delta formula with zero latency
// cost, so tests can derive a c_L that straddles it.
func intrinsicHalfSpread(p Params, horizon float64) float64 {
	q, _ := Compute(p, 10_000, 0, horizon, 0, 0)
	return float64(q.SpreadTicks) / 2
}

// TestQuoteGatingByLatencyCost is the spec's seed scenario 5.
func TestQuoteGatingByLatencyCost(t *testing.T) {
	t.Parallel()

	p := testParams()
	horizon := 1.0
	delta := intrinsicHalfSpread(p, horizon)

	_, err := Compute(p, 10_000, 0, horizon, 2*delta, 0)
	if !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("Compute with c_L=2*delta error = %v, want ErrNotProfitable", err)
	}

	quote, err := Compute(p, 10_000, 0, horizon, delta*0.5, 0)
	if err != nil {
		t.Fatalf("Compute with c_L below gate error = %v, want nil", err)
	}
	if quote.BidPrice >= quote.AskPrice {
		t.Errorf("BidPrice %d >= AskPrice %d, want bid < ask", quote.BidPrice, quote.AskPrice)
	}
	if quote.BidSize == 0 || quote.AskSize == 0 {
		t.Errorf("BidSize=%d AskSize=%d, want both > 0", quote.BidSize, quote.AskSize)
	}
}

func TestComputeRespectsInventoryCapacityCaps(t *testing.T) {
	t.Parallel()

	p := testParams()
	p.BasePosition = 950 // near MaxPosition of 1000
	quote, err := Compute(p, 10_000, 950, 1.0, 0, 0)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if quote.BidSize > 50 {
		t.Errorf("BidSize = %d, want <= remaining headroom 50", quote.BidSize)
	}
}

func TestUnwindRecommendation(t *testing.T) {
	t.Parallel()

	if _, ok := UnwindTarget(500, 1000); ok {
		t.Error("UnwindTarget at 50% of max, want no recommendation")
	}
	target, ok := UnwindTarget(900, 1000)
	if !ok {
		t.Fatal("UnwindTarget at 90% of max, want a recommendation")
	}
	if target != 500 {
		t.Errorf("UnwindTarget() = %d, want 500 (0.5*max, signed positive)", target)
	}

	target, ok = UnwindTarget(-900, 1000)
	if !ok || target != -500 {
		t.Errorf("UnwindTarget(-900, 1000) = %d, %v, want -500, true", target, ok)
	}
}
