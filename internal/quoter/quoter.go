// Package quoter implements the Avellaneda-Stoikov market-making model
// with a latency-cost term (§4.6): a reservation price skewed by
// inventory, an optimal half-spread derived from risk aversion and
// order-arrival intensity, widened to cover the cost of acting on stale
// information, and gated so a quote is only emitted when it is expected
// to be profitable net of that cost.
package quoter

import (
	"math"

	"tick2trade/pkg/types"
)

// Params are the Avellaneda-Stoikov inputs for one quote computation.
// Mirrors the teacher's strategy config shape (Gamma/Sigma/K/T), adapted
// from binary-market [0,1] floats to integer-tick venue prices.
type Params struct {
	Gamma float64 // risk aversion
	Sigma float64 // volatility estimate (σ)
	Kappa float64 // order-arrival intensity (κ)

	TickSize     float64 // price units per tick, for snapping reservation/spread back to Ticks
	SafetyMargin float64 // default 0.1 (§4.6 gating)

	BaseOrderSize uint64 // notional order size before inventory scaling
	MinOrderSize  uint64
	BasePosition  int64 // current signed inventory
	MaxPosition   int64 // current_max_position, already regime-scaled (§4.7/§3 RiskState)

	// InferenceAdjustment is the fixed-latency inference stage's
	// spread_adjustment output (§4.5.3), added to the half-spread in the
	// same price units as TickSize before the latency-cost widen/gate
	// step. Zero when no inference stage is wired in.
	InferenceAdjustment float64
}

// DefaultParams returns reasonable defaults for a liquid, tightly-ticked
// instrument.
func DefaultParams() Params {
	return Params{
		Gamma:         0.1,
		Sigma:         2.0,
		Kappa:         1.5,
		TickSize:      1.0,
		SafetyMargin:  0.1,
		BaseOrderSize: 10,
		MinOrderSize:  1,
	}
}

// ErrNotProfitable is returned by Compute when the gating condition of
// §4.6 fails: expected profit does not clear the latency cost by the
// configured safety margin.
var ErrNotProfitable = errNotProfitable{}

type errNotProfitable struct{}

func (errNotProfitable) Error() string { return "quoter: expected profit below latency-cost gate" }

// Compute derives a two-sided quote from the current mid price S, the
// inventory skew q (signed, in the same units as MaxPosition), the
// remaining time-to-horizon (T-t) in seconds, and the latency cost c_L
// (§4.7's latency budget, expressed in the same price units as the
// reservation price) for one venue round-trip.
func Compute(p Params, mid types.Ticks, q int64, horizon float64, latencyCost float64, nowNanos int64) (types.Quote, error) {
	midF := float64(mid)
	qNorm := normalize(q, p.MaxPosition)

	// r = S - q*gamma*sigma^2*(T-t)
	reservation := midF - qNorm*p.Gamma*p.Sigma*p.Sigma*horizon

	// delta = (gamma*sigma^2*(T-t))/2 + (1/gamma)*ln(1 + gamma/kappa)
	halfSpread := (p.Gamma*p.Sigma*p.Sigma*horizon)/2 + (1.0/p.Gamma)*math.Log(1+p.Gamma/p.Kappa)

	// Apply the fixed-latency inference stage's spread adjustment before
	// the latency-cost widen/gate step (§4.5.3 output feeds §4.6 input).
	halfSpread += p.InferenceAdjustment
	if halfSpread < 0 {
		halfSpread = 0
	}

	// Widen to cover latency cost (§4.6: "If c_L > δ, widen: δ ← δ + (c_L − δ)").
	if latencyCost > halfSpread {
		halfSpread += latencyCost - halfSpread
	}

	// Gating: only quote if expected profit clears the latency cost by
	// the safety margin.
	if halfSpread <= latencyCost*(1+p.SafetyMargin) {
		return types.Quote{}, ErrNotProfitable
	}

	bidF := reservation - halfSpread
	askF := reservation + halfSpread
	if bidF >= askF {
		return types.Quote{}, ErrNotProfitable
	}

	bidTicks := snapDown(bidF, p.TickSize)
	askTicks := snapUp(askF, p.TickSize)
	if bidTicks >= askTicks {
		askTicks = bidTicks + 1
	}

	bidSize, askSize := sizes(p, qNorm)

	return types.Quote{
		BidPrice:         types.Ticks(bidTicks),
		AskPrice:         types.Ticks(askTicks),
		BidSize:          bidSize,
		AskSize:          askSize,
		ReservationPrice: reservation,
		SpreadTicks:      types.Ticks(askTicks - bidTicks),
		GeneratedAtNanos: nowNanos,
	}, nil
}

// sizes applies the inventory-capacity rule (§4.7): reduce size as
// inventory approaches MaxPosition, never below MinOrderSize, and never
// exceeding the remaining headroom on either side.
func sizes(p Params, qNorm float64) (bidSize, askSize uint64) {
	absQ := math.Abs(qNorm)
	factor := 1.0 - 0.5*absQ
	if factor < 0 {
		factor = 0
	}
	base := uint64(float64(p.BaseOrderSize) * factor)
	if base < p.MinOrderSize {
		base = p.MinOrderSize
	}

	headroom := uint64(0)
	if p.MaxPosition > p.BasePosition {
		headroom = uint64(p.MaxPosition - p.BasePosition)
	}
	bidSize = min64(base, headroom)
	if bidSize < p.MinOrderSize {
		bidSize = p.MinOrderSize
	}

	shortHeadroom := uint64(0)
	if p.MaxPosition+p.BasePosition > 0 {
		shortHeadroom = uint64(p.MaxPosition + p.BasePosition)
	}
	askSize = min64(base, shortHeadroom)
	if askSize < p.MinOrderSize {
		askSize = p.MinOrderSize
	}
	return bidSize, askSize
}

func normalize(q, maxPosition int64) float64 {
	if maxPosition == 0 {
		return 0
	}
	n := float64(q) / float64(maxPosition)
	if n > 1 {
		n = 1
	}
	if n < -1 {
		n = -1
	}
	return n
}

func snapDown(v, tick float64) int64 {
	return int64(math.Floor(v / tick))
}

func snapUp(v, tick float64) int64 {
	return int64(math.Ceil(v / tick))
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// UnwindTarget implements §4.7's unwind recommendation: once |position|
// exceeds 0.8 of the current max, recommend reducing to 0.5 of it,
// signed to match the current position's direction. ok is false when no
// unwind is recommended.
func UnwindTarget(position, maxPosition int64) (target int64, ok bool) {
	if maxPosition == 0 {
		return 0, false
	}
	threshold := float64(maxPosition) * 0.8
	if math.Abs(float64(position)) <= threshold {
		return 0, false
	}
	target = int64(float64(maxPosition) * 0.5)
	if position < 0 {
		target = -target
	}
	return target, true
}
