package signal

import (
	"testing"
	"time"

	"tick2trade/pkg/types"
)

func snap(bidPrice, bidSize, askPrice, askSize types.Ticks) *types.BookSnapshot {
	return &types.BookSnapshot{
		Bids: []types.PriceLevel{{Price: bidPrice, Size: uint64(bidSize)}},
		Asks: []types.PriceLevel{{Price: askPrice, Size: uint64(askSize)}},
	}
}

func TestDeepOFISignSensitivity(t *testing.T) {
	t.Parallel()

	prev := snap(100, 10, 101, 10)
	curr := snap(100, 15, 101, 10) // more bid size resting, ask unchanged -> positive OFI
	ofi := DeepOFI(curr, prev, 1)
	if ofi[0] <= 0 {
		t.Errorf("ofi[0] = %v, want positive for bid-side buildup", ofi[0])
	}
}

func TestMicropriceLeansAwayFromLargerSide(t *testing.T) {
	t.Parallel()

	// Heavier resting size on the ask pulls microprice toward the bid.
	s := snap(100, 10, 102, 100)
	micro, ok := Microprice(s)
	if !ok {
		t.Fatal("Microprice() ok = false")
	}
	if micro <= 100 || micro >= 101 {
		t.Errorf("Microprice() = %v, want strictly between bid and mid (leaning toward bid)", micro)
	}
}

func TestHawkesIntensityAlwaysNonNegative(t *testing.T) {
	t.Parallel()

	p := DefaultHawkesParams()
	p.LambdaBase = 0
	e := NewHawkesEngine(p)

	if got := e.Intensity(types.Buy, 0); got < 0 {
		t.Errorf("Intensity() = %v, want >= 0 with no history", got)
	}
	e.OnEvent(types.Buy, 0)
	if got := e.Intensity(types.Buy, 1000); got < 0 {
		t.Errorf("Intensity() = %v, want >= 0 far past history", got)
	}
}

func TestHawkesIntensityRisesAtEventAndDecaysBetween(t *testing.T) {
	t.Parallel()

	p := DefaultHawkesParams()
	e := NewHawkesEngine(p)

	before := e.Intensity(types.Buy, 0)
	e.OnEvent(types.Buy, 0)
	atEvent := e.Intensity(types.Buy, 0)
	if atEvent < before {
		t.Errorf("Intensity() after self-event = %v, want >= baseline %v", atEvent, before)
	}

	later1 := e.Intensity(types.Buy, 0.5)
	later2 := e.Intensity(types.Buy, 1.5)
	if later2 > later1 {
		t.Errorf("Intensity should not increase with no new events: t=0.5 -> %v, t=1.5 -> %v", later1, later2)
	}
}

func TestHawkesCrossExcitation(t *testing.T) {
	t.Parallel()

	p := DefaultHawkesParams()
	e := NewHawkesEngine(p)

	baseline := e.Intensity(types.Sell, 0)
	e.OnEvent(types.Buy, 0)
	crossed := e.Intensity(types.Sell, 0)
	if crossed <= baseline {
		t.Errorf("Sell intensity after Buy event = %v, want > baseline %v (cross-excitation)", crossed, baseline)
	}
}

func TestHawkesKernelTruncatesAtTauMax(t *testing.T) {
	t.Parallel()

	p := DefaultHawkesParams()
	p.LambdaBase = 0
	p.TauMax = 1.0
	e := NewHawkesEngine(p)
	e.OnEvent(types.Buy, 0)

	if got := e.Intensity(types.Buy, 10.0); got != 0 {
		t.Errorf("Intensity() at tau > TauMax = %v, want exactly 0", got)
	}
}

func TestHawkesHistoryEvictionMatchesRecomputation(t *testing.T) {
	t.Parallel()

	p := DefaultHawkesParams()
	p.HistoryLen = 3
	p.TauMax = 1000

	e := NewHawkesEngine(p)
	for i := 0; i < 10; i++ {
		e.OnEvent(types.Buy, float64(i))
	}

	want := NewHawkesEngine(p)
	for i := 7; i < 10; i++ {
		want.OnEvent(types.Buy, float64(i))
	}

	got := e.Intensity(types.Buy, 10)
	expected := want.Intensity(types.Buy, 10)
	if got != expected {
		t.Errorf("Intensity() after overflow = %v, want %v (matching recompute over retained window)", got, expected)
	}
}

func TestInferElapsedBelowBudgetBusyWaits(t *testing.T) {
	t.Parallel()

	cfg := InferenceConfig{FixedLatency: 2 * time.Millisecond}
	start := time.Now()
	Infer(cfg, ModelFunc(func(f []float64) Prediction { return Prediction{} }), nil, start)
	elapsed := time.Since(start)
	if elapsed < cfg.FixedLatency {
		t.Errorf("Infer returned after %v, want >= %v", elapsed, cfg.FixedLatency)
	}
}

func TestInferElapsedAboveBudgetReturnsImmediately(t *testing.T) {
	t.Parallel()

	cfg := InferenceConfig{FixedLatency: 1 * time.Nanosecond}
	start := time.Now().Add(-1 * time.Second) // already far past the budget
	before := time.Now()
	Infer(cfg, ModelFunc(func(f []float64) Prediction { return Prediction{} }), nil, start)
	if elapsed := time.Since(before); elapsed > 50*time.Millisecond {
		t.Errorf("Infer took %v once past budget, want near-immediate return", elapsed)
	}
}

func TestPipelineStepFirstCallHasZeroOFI(t *testing.T) {
	t.Parallel()

	cfg := InferenceConfig{FixedLatency: 0}
	pl := NewPipeline(10, DefaultHawkesParams(), cfg, ModelFunc(func(f []float64) Prediction { return Prediction{} }))

	fv, _ := pl.Step(snap(100, 5, 101, 5), 0, time.Now())
	if fv[types.FeatOFILevel1] != 0 {
		t.Errorf("first Step() ofi_level_1 = %v, want 0 with no previous snapshot", fv[types.FeatOFILevel1])
	}

	fv2, _ := pl.Step(snap(100, 10, 101, 5), 1, time.Now())
	if fv2[types.FeatOFILevel1] <= 0 {
		t.Errorf("second Step() ofi_level_1 = %v, want positive after bid buildup", fv2[types.FeatOFILevel1])
	}
}
