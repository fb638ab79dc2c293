// Package router selects a venue for each outbound order: it filters
// the candidate set by connectivity and latency health, scores the
// survivors on price/latency/liquidity quality, and throttles
// submission per venue (§4.7 Router).
package router

import (
	"errors"
	"math"
	"sync/atomic"

	"tick2trade/pkg/types"
)

// ErrNoVenue is returned when no venue in the candidate set passes
// filtering (§4.7: "If no venue passes, return ErrorKind::NoVenue").
var ErrNoVenue = errors.New("router: no venue passes filtering")

// Weights scores venues as w_p*price + w_l*latency + w_q*liquidity,
// summing to 1 (§4.7 defaults: 0.5/0.3/0.2).
type Weights struct {
	Price     float64
	Latency   float64
	Liquidity float64
}

// DefaultWeights returns the spec's default scoring weights.
func DefaultWeights() Weights {
	return Weights{Price: 0.5, Latency: 0.3, Liquidity: 0.2}
}

// Config tunes the filter and safety margins.
type Config struct {
	Weights          Weights
	SpikeStdDevK     float64 // k in "current_rtt <= ema_rtt + k*stddev_rtt", default 2
	LatencyBudgetPct float64 // safety margin against theoretical latency budget, default 0.8
}

// DefaultConfig returns the spec's default router tuning.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), SpikeStdDevK: 2, LatencyBudgetPct: 0.8}
}

// Venue is one candidate's state plus the quality scores the caller
// supplies for this routing decision (price/liquidity quality are
// order- and book-specific, so they aren't cached on VenueState).
type Venue struct {
	ID               uint16
	State            *types.VenueState
	PriceQuality     float64 // in [0, 1], higher is better
	LiquidityQuality float64 // in [0, 1], higher is better
	Bucket           *TokenBucket
}

// Router holds only the filter and scoring configuration; the candidate
// venues are passed to each Route call. Their VenueState snapshots are
// published out of band (by the heartbeat/EMA callback, §4.9) through
// VenueStatePtr; Route only ever reads.
type Router struct {
	cfg Config
}

// New builds a Router with the given configuration.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Route filters venues by connectivity and latency health against a
// theoretical latency cost cL, scores the survivors, and returns the
// best one. Ties are broken by lowest EMA RTT.
func (r *Router) Route(venues []Venue, cL float64) (Venue, error) {
	budget := cL * r.cfg.LatencyBudgetPct

	var best Venue
	bestScore := math.Inf(-1)
	found := false

	for _, v := range venues {
		s := v.State
		if s == nil || !s.Connected {
			continue
		}
		if s.EMARTTNanos > budget {
			continue
		}
		spikeBound := s.EMARTTNanos + r.cfg.SpikeStdDevK*s.StdDevRTTNanos
		if float64(s.CurrentRTTNanos) > spikeBound {
			continue
		}

		latencyQuality := latencyQualityScore(s.EMARTTNanos, budget)
		score := r.cfg.Weights.Price*v.PriceQuality +
			r.cfg.Weights.Latency*latencyQuality +
			r.cfg.Weights.Liquidity*v.LiquidityQuality

		switch {
		case !found:
			best, bestScore, found = v, score, true
		case score > bestScore:
			best, bestScore = v, score
		case score == bestScore && v.State.EMARTTNanos < best.State.EMARTTNanos:
			best = v
		}
	}

	if !found {
		return Venue{}, ErrNoVenue
	}
	return best, nil
}

// latencyQualityScore maps ema_rtt within [0, budget] to a quality in
// [0, 1], 1 being instantaneous.
func latencyQualityScore(emaRTT, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	q := 1 - emaRTT/budget
	if q < 0 {
		return 0
	}
	return q
}

// UnwindRecommendation mirrors quoter.UnwindTarget's threshold so the
// router package can be used standalone for order-reduction decisions
// without importing the quoter package (§4.7: "when |position| >
// 0.8*current_max_position, recommend reducing to 0.5*current_max_position").
func UnwindRecommendation(position, maxPosition int64) (target int64, recommend bool) {
	if maxPosition == 0 {
		return 0, false
	}
	if math.Abs(float64(position)) <= 0.8*float64(maxPosition) {
		return 0, false
	}
	target = int64(0.5 * float64(maxPosition))
	if position < 0 {
		target = -target
	}
	return target, true
}

// VenueStatePtr is the atomic-swap wrapper the heartbeat scheduler
// writes and the router reads, avoiding torn reads of the multi-field
// VenueState (§4.9: heartbeats drive the EMA).
type VenueStatePtr struct {
	ptr atomic.Pointer[types.VenueState]
}

// NewVenueStatePtr builds a handle pre-loaded with an initial snapshot.
func NewVenueStatePtr(initial types.VenueState) *VenueStatePtr {
	p := &VenueStatePtr{}
	p.Store(initial)
	return p
}

// Store atomically publishes a new VenueState snapshot.
func (p *VenueStatePtr) Store(s types.VenueState) { p.ptr.Store(&s) }

// Load returns the most recently published VenueState, or nil if none
// has been published yet.
func (p *VenueStatePtr) Load() *types.VenueState { return p.ptr.Load() }
