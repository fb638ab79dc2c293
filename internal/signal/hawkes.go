package signal

import (
	"math"
	"sync/atomic"

	"tick2trade/pkg/types"
)

// HawkesParams tunes the power-law self-/cross-exciting kernel (§4.5.2):
// K(τ) = (β+τ)^(-γ), γ > 1, τ in seconds.
type HawkesParams struct {
	AlphaSelf  float64
	AlphaCross float64
	Beta       float64
	Gamma      float64
	LambdaBase float64
	HistoryLen int     // H, bounded history per side
	TauMax     float64 // kernel truncation horizon, seconds
}

// DefaultHawkesParams returns conservative defaults suitable for a
// single liquid symbol.
func DefaultHawkesParams() HawkesParams {
	return HawkesParams{
		AlphaSelf:  0.6,
		AlphaCross: 0.3,
		Beta:       0.001,
		Gamma:      1.3,
		LambdaBase: 0.5,
		HistoryLen: 1024,
		TauMax:     5.0,
	}
}

// kernel evaluates K(τ) = (β+τ)^(-γ) for τ >= 0.
func kernel(p HawkesParams, tau float64) float64 {
	if tau < 0 {
		return 0
	}
	return math.Pow(p.Beta+tau, -p.Gamma)
}

// history is a bounded, append-only (with oldest-eviction) list of
// event times for one side, in seconds since an arbitrary epoch.
type history struct {
	times []float64
	head  int // index of the oldest retained entry
}

func newHistory(capacity int) *history {
	return &history{times: make([]float64, 0, capacity)}
}

func (h *history) push(t float64, capacity int) {
	h.times = append(h.times, t)
	if len(h.times)-h.head > capacity {
		h.head++
	}
	// Periodically compact so the backing slice doesn't grow unbounded.
	if h.head > capacity*2 {
		h.times = append(h.times[:0], h.times[h.head:]...)
		h.head = 0
	}
}

func (h *history) recent() []float64 {
	return h.times[h.head:]
}

// HawkesEngine tracks a two-dimensional (Buy, Sell) Hawkes process and
// answers point-in-time intensity queries. OnEvent and Intensity both
// touch the history, which is owned exclusively by the hot thread, so
// they must run on that one goroutine; only SetParams may be called from
// elsewhere, since parameters are swapped atomically (§4.5.2: "the core
// must accept atomic parameter swaps between events").
type HawkesEngine struct {
	params atomic.Pointer[HawkesParams]
	buy    *history
	sell   *history
}

// NewHawkesEngine builds an engine with the given initial parameters.
func NewHawkesEngine(params HawkesParams) *HawkesEngine {
	e := &HawkesEngine{
		buy:  newHistory(params.HistoryLen),
		sell: newHistory(params.HistoryLen),
	}
	e.params.Store(&params)
	return e
}

// SetParams atomically swaps the kernel parameters. Safe to call from
// any goroutine; the hot thread observes the new parameters at the next
// event boundary (release/acquire via atomic.Pointer).
func (e *HawkesEngine) SetParams(p HawkesParams) {
	e.params.Store(&p)
}

// OnEvent records an event of the given side at time t (seconds since
// an arbitrary monotonic epoch), evicting the oldest history entry once
// HistoryLen is exceeded.
func (e *HawkesEngine) OnEvent(side types.Side, t float64) {
	p := e.params.Load()
	if side == types.Buy {
		e.buy.push(t, p.HistoryLen)
	} else {
		e.sell.push(t, p.HistoryLen)
	}
}

// Intensity returns λ_side(t): the base rate plus self-excitation from
// same-side history and cross-excitation from the other side's history,
// both decayed through the power-law kernel and truncated at TauMax.
// Always >= 0.
func (e *HawkesEngine) Intensity(side types.Side, t float64) float64 {
	p := e.params.Load()
	own, other := e.buy, e.sell
	if side == types.Sell {
		own, other = e.sell, e.buy
	}

	lambda := p.LambdaBase
	lambda += p.AlphaSelf * decayedSum(p, own, t)
	lambda += p.AlphaCross * decayedSum(p, other, t)
	if lambda < 0 {
		return 0
	}
	return lambda
}

func decayedSum(p *HawkesParams, h *history, t float64) float64 {
	var sum float64
	for _, ti := range h.recent() {
		tau := t - ti
		if tau < 0 {
			continue
		}
		if tau > p.TauMax {
			continue
		}
		sum += kernel(*p, tau)
	}
	return sum
}
