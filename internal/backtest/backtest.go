// Package backtest implements the replay harness of §4.11: a sorted
// sequence of historical MarketEvents is pushed through the same LOB,
// signal, quoter, risk, and router stages the hot path uses, with a
// deterministic PRNG-driven fill model standing in for ExchangeAck.
//
// Determinism (§8 seed scenario 6) is the harness's defining property:
// given the same event sequence, parameters, and seed, two runs must
// produce byte-identical strategy_trace.log output. That property holds
// here because every source of nondeterminism a live run would have —
// wall-clock timing, OS scheduling jitter, real network RTT — is
// replaced by a seeded math/rand.Rand and a synthetic cycle counter
// derived from each event's own timestamp; nothing in this package reads
// time.Now() or the OS clock.
package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"tick2trade/internal/lob"
	"tick2trade/internal/logtrace"
	"tick2trade/internal/quoter"
	"tick2trade/internal/risk"
	"tick2trade/internal/router"
	"tick2trade/internal/signal"
	"tick2trade/pkg/types"
)

// FillParams tunes the per-tick fill-probability model (§4.11):
//
//	p = base · exp(−k_q·queue_pos) · exp(−k_s·spread_bps) · exp(−k_v·vol)
//	      · price_aggressiveness_factor · exp(−k_L·latency_µs)
//	      · adverse_selection_factor
//
// clamped to [0, 1]. Slippage on a fill is
//
//	sign × base_impact_bps·√(size_fraction)·mid / 10000.
type FillParams struct {
	Base                   float64
	KQueue                 float64
	KSpread                float64
	KVol                   float64
	KLatency               float64
	BaseImpactBps          float64
	AdverseSelectionFactor float64 // multiplicative; 1.0 = neutral
}

// DefaultFillParams returns parameters calibrated to decay quickly with
// queue position and spread, matching a conservative passive-fill model.
func DefaultFillParams() FillParams {
	return FillParams{
		Base:                   0.8,
		KQueue:                 0.15,
		KSpread:                0.05,
		KVol:                   0.02,
		KLatency:               0.01,
		BaseImpactBps:          0.5,
		AdverseSelectionFactor: 1.0,
	}
}

// FillProbability evaluates the §4.11 fill model for one outstanding
// order at one tick, clamped to [0, 1].
func FillProbability(p FillParams, queuePos float64, spreadBps float64, vol float64, priceAggressiveness float64, latencyMicros float64) float64 {
	prob := p.Base *
		math.Exp(-p.KQueue*queuePos) *
		math.Exp(-p.KSpread*spreadBps) *
		math.Exp(-p.KVol*vol) *
		priceAggressiveness *
		math.Exp(-p.KLatency*latencyMicros) *
		p.AdverseSelectionFactor
	if prob < 0 {
		return 0
	}
	if prob > 1 {
		return 1
	}
	return prob
}

// Slippage computes the signed price adjustment applied to a fill, in
// the same unit as mid: sign × base_impact_bps·√(size_fraction)·mid
// / 10000 (§4.11). The harness passes a mid in ticks.
func Slippage(p FillParams, sign float64, sizeFraction, mid float64) float64 {
	if sizeFraction < 0 {
		sizeFraction = 0
	}
	return sign * p.BaseImpactBps * math.Sqrt(sizeFraction) * mid / 10000.0
}

// Config configures one backtest run.
type Config struct {
	Seed               int64
	MinSimLatencyNanos int64 // configurable minimum order-to-check delay, default 500 (§8 Open Question iii)
	Fill               FillParams
	HorizonSeconds     float64 // T-t for the quoter, held constant across the replay for simplicity
	Depth              int     // OFI depth

	// LatencyCostPriceUnits is c_L expressed in the reservation price's
	// own units, fed to the quoter's widen/gate step (§4.6).
	LatencyCostPriceUnits float64
	// LatencyCostNanos is c_L expressed in the venue EMA-RTT's nanosecond
	// scale, fed to the router's latency-budget filter (§4.7 Router):
	// the same underlying latency cost, in the unit each consumer needs.
	LatencyCostNanos float64
}

// DefaultConfig returns the spec's defaults: seed 0 (caller should
// always set an explicit seed), 500ns minimum simulated latency.
func DefaultConfig() Config {
	return Config{
		MinSimLatencyNanos:    500,
		Fill:                  DefaultFillParams(),
		HorizonSeconds:        1.0,
		Depth:                 10,
		LatencyCostPriceUnits: 0.1,
		LatencyCostNanos:      1000,
	}
}

// Fill records one simulated execution.
type Fill struct {
	Seq           uint64
	ClientOrderID uint64
	Side          types.Side
	Price         types.Ticks
	SlippageTicks float64
	Quantity      uint64
	Cycle         uint64
}

// SkipReason records why a tick produced no order.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipRecoveryPending  SkipReason = "recovery_pending"
	SkipNoProfitableSide SkipReason = "not_profitable"
	SkipRiskRejected     SkipReason = "risk_rejected"
	SkipNoVenue          SkipReason = "no_venue"
)

// Result is everything the harness produced over one replay.
type Result struct {
	Fills          []Fill
	RecoveryEvents []types.RecoveryRequest
	SkipCounts     map[SkipReason]int
	Quotes         int
}

// Harness replays historical events through the LOB, signal pipeline,
// quoter, risk, and router stages and produces deterministic fills.
// Cycles come from each event's timestamp (cycleFor), so the same event
// stream and seed always produce the same sequence of decisions (§8
// scenario 6).
type Harness struct {
	cfg    Config
	rng    *rand.Rand
	book   *lob.Book
	pipe   *signal.Pipeline
	risk   *risk.State
	router *router.Router
	logger *logtrace.Logger

	clientOrderSeq uint64
}

// New builds a Harness. logger may be nil (no trace records written,
// useful for a pure fill-model unit test); pass a real *logtrace.Logger
// for the byte-identical-trace determinism property.
func New(cfg Config, book *lob.Book, pipe *signal.Pipeline, riskState *risk.State, rt *router.Router, logger *logtrace.Logger) *Harness {
	return &Harness{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		book:   book,
		pipe:   pipe,
		risk:   riskState,
		router: rt,
		logger: logger,
	}
}

// cycleFor derives a synthetic, strictly-increasing cycle counter from
// the event's own timestamp and the minimum simulated latency, so
// replay never touches a real clock (determinism requirement).
func (h *Harness) cycleFor(ev types.MarketEvent, stageOffset int64) uint64 {
	return uint64(ev.TSNanos + h.cfg.MinSimLatencyNanos + stageOffset)
}

// Replay pushes events (assumed sorted by sequence per venue) through
// the pipeline. qp.BasePosition/MaxPosition are refreshed from the risk
// state before every quote computation; venues is the router's
// candidate set, refreshed by the caller between calls if venue health
// changes during the replay.
func (h *Harness) Replay(events []types.MarketEvent, qp quoter.Params, venues []router.Venue) (Result, error) {
	res := Result{SkipCounts: make(map[SkipReason]int)}

	for _, ev := range events {
		recovery, err := h.book.Apply(ev)
		if err != nil {
			return res, fmt.Errorf("backtest: lob apply seq=%d: %w", ev.Seq, err)
		}
		if recovery != nil {
			res.RecoveryEvents = append(res.RecoveryEvents, *recovery)
			h.trace(types.LayerLobCommit, ev.Seq, h.cycleFor(ev, 0), -1)
			res.SkipCounts[SkipRecoveryPending]++
			continue
		}
		h.trace(types.LayerLobCommit, ev.Seq, h.cycleFor(ev, 0), int64(ev.Kind))

		snap := h.book.Snapshot()
		mid, ok := snap.Mid()
		if !ok {
			continue
		}

		fv, prediction := h.pipe.Step(snap, float64(ev.TSNanos)/1e9, time.Time{})
		h.trace(types.LayerSignalReady, ev.Seq, h.cycleFor(ev, 1), int64(len(fv)))

		qp.BasePosition = h.risk.Position()
		qp.MaxPosition = h.risk.CurrentMaxPosition()
		qp.InferenceAdjustment = prediction.SpreadAdjustment
		if prediction.RiskMultiplier > 0 {
			qp.MaxPosition = int64(float64(qp.MaxPosition) * prediction.RiskMultiplier)
		}

		quote, err := quoter.Compute(qp, mid, qp.BasePosition, h.cfg.HorizonSeconds, h.cfg.LatencyCostPriceUnits, ev.TSNanos)
		if err != nil {
			res.SkipCounts[SkipNoProfitableSide]++
			continue
		}
		h.trace(types.LayerQuote, ev.Seq, h.cycleFor(ev, 2), int64(quote.BidPrice))
		res.Quotes++

		if err := h.tryFill(ev, quote, qp, venues, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// tryFill runs pre-trade risk, routes the order, and, if both succeed,
// samples the fill model for each side of the quote.
func (h *Harness) tryFill(ev types.MarketEvent, quote types.Quote, qp quoter.Params, venues []router.Venue, res *Result) error {
	for _, side := range [2]types.Side{types.Buy, types.Sell} {
		price := quote.BidPrice
		qty := quote.BidSize
		if side == types.Sell {
			price = quote.AskPrice
			qty = quote.AskSize
		}
		signedQty := int64(qty)
		if side == types.Sell {
			signedQty = -signedQty
		}

		if err := h.risk.CheckPreTrade(signedQty, price, qty); err != nil {
			res.SkipCounts[SkipRiskRejected]++
			h.trace(types.LayerRisk, ev.Seq, h.cycleFor(ev, 3), 0)
			continue
		}
		h.trace(types.LayerRisk, ev.Seq, h.cycleFor(ev, 3), 1)

		venue, err := h.router.Route(venues, h.cfg.LatencyCostNanos)
		if err != nil {
			res.SkipCounts[SkipNoVenue]++
			continue
		}

		h.clientOrderSeq++
		clientOrderID := h.clientOrderSeq
		h.trace(types.LayerSubmit, ev.Seq, h.cycleFor(ev, 4), int64(clientOrderID))

		spread, _ := h.book.Snapshot().Spread()
		spreadBps := 0.0
		if mid, ok := h.book.Snapshot().Mid(); ok && mid != 0 {
			spreadBps = float64(spread) / float64(mid) * 10000
		}

		queuePos := h.rng.Float64() * 3 // synthetic queue position, deterministic given the seeded RNG
		priceAggr := 1.0
		latencyMicros := float64(venue.State.EMARTTNanos) / 1000.0

		prob := FillProbability(h.cfg.Fill, queuePos, spreadBps, 0, priceAggr, latencyMicros)
		sample := h.rng.Float64()
		if sample >= prob {
			continue
		}

		sizeFraction := float64(qty) / float64(qp.BaseOrderSize+1)
		sign := 1.0
		if side == types.Sell {
			sign = -1.0
		}
		mid, _ := h.book.Snapshot().Mid()
		slip := Slippage(h.cfg.Fill, sign, sizeFraction, float64(mid))

		h.risk.RecordFill(signedQty, 0)

		res.Fills = append(res.Fills, Fill{
			Seq:           ev.Seq,
			ClientOrderID: clientOrderID,
			Side:          side,
			Price:         price,
			SlippageTicks: slip,
			Quantity:      qty,
			Cycle:         h.cycleFor(ev, 5),
		})
		h.trace(types.LayerExchangeAck, ev.Seq, h.cycleFor(ev, 5), int64(price))
	}
	return nil
}

func (h *Harness) trace(layer types.TraceLayer, seq, cycle uint64, aux int64) {
	if h.logger == nil {
		return
	}
	_ = h.logger.Record(layer, seq, cycle, aux) // dropped-and-counted under backpressure, never blocks (§4.10)
}

