// Package core is the central orchestrator of the tick-to-trade
// pipeline: it wires ring/ingress/wire/lob/signal/quoter/risk/router/
// outbound/sched/logtrace into the single-threaded hot loop of §5 plus
// the handful of background goroutines (risk manager, kill-signal
// consumer, logger consumer, venue execution-report poller and its
// report consumer) the spec allows outside it. Heartbeats are not a
// goroutine: the hot loop runs them out of the timing wheel.
//
// Lifecycle: New() -> Run(ctx) -> [runs until ctx cancelled or Stop()] .
// Grounded on the teacher's internal/engine.Engine lifecycle shape
// (construct everything in New, launch goroutines in Run, cooperative
// shutdown), generalized from a per-market-slot dashboard bot to the
// single pinned hot thread over one venue's book that §5 describes.
package core

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tick2trade/internal/config"
	"tick2trade/internal/ingress"
	"tick2trade/internal/lob"
	"tick2trade/internal/logtrace"
	"tick2trade/internal/outbound"
	"tick2trade/internal/quoter"
	"tick2trade/internal/risk"
	"tick2trade/internal/router"
	"tick2trade/internal/sched"
	"tick2trade/internal/signal"
	"tick2trade/internal/venue"
	"tick2trade/internal/wire"
	"tick2trade/pkg/types"
)

// Core owns every hot-path stage plus the background collaborators
// (risk manager, heartbeat scheduler tick, logger consumer, venue
// execution-report poller). The hot loop itself — PollOnce through
// Submit — never waits on I/O, but it is neither lock- nor
// allocation-free: the simulator adapter and each venue's token bucket
// take a mutex, and the loop allocates published book snapshots,
// feature vectors and drained egress bytes as it runs.
type Core struct {
	cfg    config.Config
	logger *slog.Logger

	clock  *sched.Clock
	wheel  *sched.Wheel
	ingest *ingress.Poller
	sim    *ingress.Simulator
	dec    *wire.Decoder
	book   *lob.Book
	pipe   *signal.Pipeline
	qp     quoter.Params
	risk   *risk.State
	riskMgr *risk.Manager
	rt     *router.Router
	sub    *outbound.Submitter
	trace  *logtrace.Logger

	venues          []router.Venue
	pollers         []*venue.Poller
	venuePollers    map[uint16]*venue.Poller
	heartbeats      map[uint16]*venueHeartbeat
	heartbeatCycles uint64

	haltedAll atomic.Bool
	venueHalt map[uint16]*atomic.Bool

	cancel context.CancelFunc // set by Run, so Stop can unblock it
	wg     sync.WaitGroup
}

// New constructs every stage from cfg. Construction failures are fatal
// (§6 Exit conditions: "abnormal exits only on construction failures
// ... before the hot loop starts").
func New(cfg config.Config, logger *slog.Logger) (*Core, error) {
	schema, err := wire.NewSchema(cfg.Wire.VenueID, cfg.Wire.TickSize)
	if err != nil {
		return nil, fmt.Errorf("core: wire schema: %w", err)
	}

	sim := ingress.NewSimulator()
	poller := ingress.NewPoller(sim, 0) // co-located: decode runs inline from PollOnce's return

	book := lob.NewBook(cfg.Wire.VenueID, cfg.LOBDepth)

	hawkesParams := signal.HawkesParams{
		AlphaSelf: cfg.Hawkes.AlphaSelf, AlphaCross: cfg.Hawkes.AlphaCross,
		Beta: cfg.Hawkes.Beta, Gamma: cfg.Hawkes.Gamma,
		LambdaBase: cfg.Hawkes.LambdaBase, HistoryLen: cfg.Hawkes.HistoryLen,
		TauMax: cfg.Hawkes.TauMaxSecs,
	}
	inferCfg := signal.InferenceConfig{FixedLatency: time.Duration(cfg.Inference.FixedLatencyNanos) * time.Nanosecond, Now: time.Now}
	if !cfg.Inference.Enforce {
		inferCfg.FixedLatency = 0
	}
	pipe := signal.NewPipeline(cfg.LOBDepth, hawkesParams, inferCfg, signal.ModelFunc(noopModel))

	qp := quoter.Params{
		Gamma: cfg.AS.GammaRisk, Sigma: math.Sqrt(cfg.AS.Sigma2), Kappa: cfg.AS.Kappa,
		TickSize: 1.0, SafetyMargin: cfg.AS.SafetyMargin,
		BaseOrderSize: cfg.AS.BaseOrderSize, MinOrderSize: cfg.AS.MinOrderSize,
	}

	riskState := risk.NewState(risk.Config{
		BaseMaxPosition:  cfg.Risk.BaseMaxPosition,
		MaxOrderValue:    int64(cfg.Risk.MaxOrderValue),
		MaxLossThreshold: cfg.Risk.MaxLossThreshold,
		DailyMaxTrades:   cfg.Risk.DailyMaxTrades,
		ResetAuthCode:    cfg.Risk.ResetAuthCode,
	})
	riskMgr := risk.NewManager(riskState, risk.RegimeThresholds{
		Elevated: cfg.Regime.ElevatedVol, HighStress: cfg.Regime.HighStressVol, Window: time.Minute,
	}, logger)

	rt := router.New(router.Config{
		Weights:          router.Weights{Price: cfg.Router.WeightPrice, Latency: cfg.Router.WeightLatency, Liquidity: cfg.Router.WeightLiquidity},
		SpikeStdDevK:     cfg.Router.SpikeK,
		LatencyBudgetPct: cfg.Router.LatencySafetyMargin,
	})

	sub := outbound.NewSubmitter(schema, 1, 1, uint32(cfg.Wire.VenueID), 0, cfg.RingCapacity)

	clock := sched.Calibrate(sched.NanoCycleSource(), 10*time.Millisecond)
	slotCycles := uint64(cfg.Scheduler.SlotDuration.Nanoseconds()) * uint64(clock.CyclesPerNano())
	if slotCycles == 0 {
		slotCycles = 1
	}
	wheel := sched.NewWheel(cfg.Scheduler.Slots, slotCycles, 4096)

	heartbeatCycles := uint64(cfg.Scheduler.HeartbeatPeriod.Nanoseconds()) * uint64(clock.CyclesPerNano())
	if heartbeatCycles == 0 {
		heartbeatCycles = slotCycles
	}

	var signer *ecdsa.PrivateKey
	if cfg.Logger.SignerKeyHex != "" {
		signer, err = ethcrypto.HexToECDSA(cfg.Logger.SignerKeyHex)
		if err != nil {
			return nil, fmt.Errorf("core: parse logger signer key: %w", err)
		}
	}
	trace, err := logtrace.NewLogger(cfg.Logger.OutDir, cfg.Logger.RingCapacity, signer, logger)
	if err != nil {
		return nil, fmt.Errorf("core: logtrace: %w", err)
	}

	c := &Core{
		cfg: cfg, logger: logger.With("component", "core"),
		clock: clock, wheel: wheel, heartbeatCycles: heartbeatCycles,
		ingest: poller, sim: sim,
		dec: wire.NewDecoder(schema), book: book,
		pipe: pipe, qp: qp,
		risk: riskState, riskMgr: riskMgr, rt: rt,
		sub: sub, trace: trace,
		venuePollers: make(map[uint16]*venue.Poller),
		heartbeats:   make(map[uint16]*venueHeartbeat),
		venueHalt:    make(map[uint16]*atomic.Bool),
	}

	if cfg.Venue.BaseURL != "" {
		p := venue.NewPoller(venue.Config{
			VenueID: cfg.Wire.VenueID, BaseURL: cfg.Venue.BaseURL,
			PollInterval: cfg.Venue.PollInterval, Timeout: cfg.Venue.Timeout,
		}, logger)
		c.pollers = append(c.pollers, p)
		c.venuePollers[cfg.Wire.VenueID] = p
	}

	// The core ships with one concrete wire schema bound to one venue
	// (§6); register it as the sole routing candidate so the router's
	// connectivity/latency filter has something to filter. AddVenue lets
	// a caller register additional venues for multi-venue routing.
	c.AddVenue(router.Venue{
		ID:               cfg.Wire.VenueID,
		PriceQuality:     1.0,
		LiquidityQuality: 1.0,
		Bucket:           router.NewTokenBucket(cfg.Router.TokenBucketBurst, cfg.Router.TokenBucketRate),
	})

	if snap, err := risk.LoadSnapshot(cfg.Risk.PersistPath); err != nil {
		logger.Warn("risk: could not load persisted snapshot, starting flat", "err", err)
	} else {
		riskState.Restore(snap)
	}

	return c, nil
}

func noopModel(features []float64) signal.Prediction { return signal.Prediction{} }

// Feed is the ingress entry point: in production this would be driven
// by a real NICAdapter's hardware descriptor ring; here it is exposed
// so a caller (harness, test, or a WebSocket replay adapter) can push
// one wire-format packet into the simulator for the hot loop to drain
// on its next iteration (§4.2: "or a WebSocket-backed replay feed").
func (c *Core) Feed(data []byte, hwTimestampNanos int64) {
	c.sim.Feed(data, hwTimestampNanos)
}

// AddVenue registers one routing candidate, wiring it into the
// heartbeat scheduler so its VenueState gets maintained (§4.9). Must be
// called before Run or while holding no concurrent Route call in
// flight (venues is read only by the hot thread).
func (c *Core) AddVenue(v router.Venue) {
	if _, ok := c.heartbeats[v.ID]; !ok {
		c.heartbeats[v.ID] = newVenueHeartbeat(v.ID, c.cfg.Router.EMAAlpha)
	}
	if _, ok := c.venueHalt[v.ID]; !ok {
		c.venueHalt[v.ID] = new(atomic.Bool)
	}
	v.State = c.heartbeats[v.ID].state.Load()
	c.venues = append(c.venues, v)
}

// Risk exposes the hot-path risk state for external inspection/reset.
func (c *Core) Risk() *risk.State { return c.risk }

// Run starts background goroutines (risk manager, venue pollers) and
// then busy-polls the hot loop on the calling goroutine until ctx is
// cancelled or Stop is called. Run locks the calling goroutine to its OS
// thread for its whole duration; pinning that thread to an isolated core
// (§5) and applying cfg.CoreID/RTPriority is left to the deployment
// wrapper (OS-specific affinity is outside this package's scope).
func (c *Core) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.riskMgr.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeKillSignals(ctx)
	}()

	c.wheel.ScheduleAfter(c.heartbeatCycles, c.heartbeatTick)

	for _, p := range c.pollers {
		p := p
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			p.Run(ctx)
		}()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeReports(ctx, p)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			c.drainAndFlush()
			return
		default:
		}

		view, ok := c.ingest.PollOnce()
		if !ok {
			c.wheel.Tick()
			continue
		}
		c.processPacket(view)
		c.wheel.Tick()
	}
}

// consumeReports applies fills from a venue's execution-report stream to
// RiskState, off the hot path, persisting a snapshot after every fill
// when cfg.Risk.PersistEveryTrade is set (otherwise only on shutdown).
func (c *Core) consumeReports(ctx context.Context, p *venue.Poller) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep, ok := <-p.Reports():
			if !ok {
				return
			}
			if rep.Status != "filled" && rep.Status != "partially_filled" {
				continue
			}
			signedQty := int64(rep.FilledQty)
			if rep.Side == types.Sell {
				signedQty = -signedQty
			}
			c.risk.RecordFill(signedQty, 0)
			if c.cfg.Risk.PersistEveryTrade {
				if err := risk.SaveSnapshot(c.cfg.Risk.PersistPath, c.risk.Export()); err != nil {
					c.logger.Warn("risk: snapshot persist failed", "err", err)
				}
			}
		}
	}
}

// consumeKillSignals acts on the regime/PnL manager's escalations
// (§3/§4.7: "cancel all resting orders"). A zero VenueID halts every
// venue; otherwise only the named venue stops accepting new orders.
// Halting is a latch, same as the hot-path kill switch: nothing in
// this package clears it automatically.
func (c *Core) consumeKillSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-c.riskMgr.KillCh():
			if !ok {
				return
			}
			c.handleKill(sig)
		}
	}
}

func (c *Core) handleKill(sig risk.KillSignal) {
	if sig.VenueID == 0 {
		c.haltedAll.Store(true)
		c.logger.Warn("kill switch: halting all venues", "reason", sig.Reason)
		return
	}
	if h, ok := c.venueHalt[sig.VenueID]; ok {
		h.Store(true)
	}
	c.logger.Warn("kill switch: halting venue", "venue", sig.VenueID, "reason", sig.Reason)
}

// Stop cancels the context Run derived from its parameter, triggering
// cooperative shutdown on the next hot-loop iteration. Safe to call only
// after Run has started (Run installs the cancel func before entering
// its loop).
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// processPacket runs one event through decode -> LOB -> signals ->
// quoter -> risk -> router -> outbound, tracing each stage boundary.
// This is the entire tick-to-trade hot path. It is not allocation-free:
// the decoder's per-snapshot Levels slice (§4.3), the book's published
// snapshot, the pipeline's per-tick FeatureVector (§3) and each
// submitted order's drained egress bytes are allocated here.
func (c *Core) processPacket(view ingress.PacketView) {
	nowCycle := uint64(view.HWTimestamp) // deterministic stand-in cycle source for the simulator path

	c.traceSafe(types.LayerNicRx, 0, nowCycle, int64(len(view.Data)))

	ev, err := c.dec.Decode(view.Data)
	if err != nil {
		c.ingest.CountMalformed()
		return
	}
	c.traceSafe(types.LayerDecode, ev.Seq, nowCycle, int64(ev.Kind))

	recovery, err := c.book.Apply(ev)
	if err != nil {
		c.logger.Warn("lob reject", "err", err, "seq", ev.Seq)
		return
	}
	if recovery != nil {
		c.logger.Warn("sequence gap, recovery requested", "venue", recovery.VenueID, "from", recovery.FromSeq, "to", recovery.ToSeq)
		return
	}
	c.traceSafe(types.LayerLobCommit, ev.Seq, nowCycle, int64(ev.Kind))

	if ev.Kind == types.EventTrade {
		side := ev.Side
		c.pipe.OnEvent(side, float64(ev.TSNanos)/1e9)
	}

	snap := c.book.Snapshot()
	mid, ok := snap.Mid()
	if !ok {
		return
	}

	c.riskMgr.Report(risk.PositionReport{
		VenueID:     c.cfg.Wire.VenueID,
		Position:    c.risk.Position(),
		MidPrice:    float64(mid),
		RealizedPnL: c.risk.RealizedPnL(),
		Timestamp:   time.Now(),
	})

	c.refreshVenueStates()

	fv, prediction := c.pipe.Step(snap, float64(ev.TSNanos)/1e9, time.Now())
	c.traceSafe(types.LayerSignalReady, ev.Seq, nowCycle, int64(len(fv)))

	qp := c.qp
	qp.BasePosition = c.risk.Position()
	qp.MaxPosition = c.risk.CurrentMaxPosition()
	qp.InferenceAdjustment = prediction.SpreadAdjustment
	if prediction.RiskMultiplier > 0 {
		qp.MaxPosition = int64(float64(qp.MaxPosition) * prediction.RiskMultiplier)
	}

	latencyCostNanos := c.estimateLatencyCostNanos()
	latencyCostPriceUnits := latencyCostNanos / 1e3 // crude nanosecond-to-tick cost scale
	quote, err := quoter.Compute(qp, mid, qp.BasePosition, c.cfg.AS.HorizonSeconds, latencyCostPriceUnits, ev.TSNanos)
	if err != nil {
		return
	}
	c.traceSafe(types.LayerQuote, ev.Seq, nowCycle, int64(quote.BidPrice))

	c.submitSide(ev, quote.BidPrice, quote.BidSize, types.Buy, nowCycle, latencyCostNanos)
	c.submitSide(ev, quote.AskPrice, quote.AskSize, types.Sell, nowCycle, latencyCostNanos)
}

// estimateLatencyCostNanos derives c_L from the best connected venue's
// EMA RTT, standing in for the router's own latency-cost-to-budget
// reasoning (§4.7: "latency budget B from the quoter's c_L").
func (c *Core) estimateLatencyCostNanos() float64 {
	best := 0.0
	found := false
	for _, v := range c.venues {
		if v.State == nil || !v.State.Connected {
			continue
		}
		if !found || v.State.EMARTTNanos < best {
			best, found = v.State.EMARTTNanos, true
		}
	}
	if !found {
		return 0
	}
	return best
}

func (c *Core) submitSide(ev types.MarketEvent, price types.Ticks, size uint64, side types.Side, nowCycle uint64, latencyCostNanos float64) {
	signedQty := int64(size)
	if side == types.Sell {
		signedQty = -signedQty
	}

	if c.haltedAll.Load() {
		c.logger.Debug("order suppressed: kill switch active", "side", side)
		return
	}

	if err := c.risk.CheckPreTrade(signedQty, price, size); err != nil {
		c.traceSafe(types.LayerRisk, ev.Seq, nowCycle, 0)
		c.logger.Debug("order rejected by risk", "err", err, "side", side)
		return
	}
	c.traceSafe(types.LayerRisk, ev.Seq, nowCycle, 1)

	chosen, err := c.rt.Route(c.venues, latencyCostNanos)
	if err != nil {
		c.logger.Debug("no venue passes routing filters", "side", side)
		return
	}
	if h, ok := c.venueHalt[chosen.ID]; ok && h.Load() {
		c.logger.Debug("venue halted by kill switch", "venue", chosen.ID)
		return
	}
	if chosen.Bucket != nil && !chosen.Bucket.TryAcquire() {
		c.logger.Debug("venue throttled", "venue", chosen.ID)
		return
	}

	order := types.Order{
		VenueID: chosen.ID, Side: side, Price: price, Quantity: size,
		Type: types.OrderLimitGTC, ClientTimestamp: ev.TSNanos,
	}
	clientOrderID := c.sub.NextClientOrderID()
	if err := c.sub.SubmitOrder(ev.Seq, order); err != nil {
		c.logger.Debug("egress ring full, order dropped", "side", side)
		return
	}
	c.traceSafe(types.LayerSubmit, ev.Seq, nowCycle, int64(clientOrderID))

	if bytes, err := c.sub.DrainEgress(); err == nil {
		if c.sim.SubmitTX(bytes) {
			c.traceSafe(types.LayerNicTx, ev.Seq, nowCycle, int64(len(bytes)))
		}
	}
}

// traceSafe writes a deterministic trace record, swallowing backpressure
// drops per §4.10 ("the hot path drops the record (counted) rather than
// blocks").
func (c *Core) traceSafe(layer types.TraceLayer, seq, cycle uint64, aux int64) {
	if c.trace == nil {
		return
	}
	_ = c.trace.Record(layer, seq, cycle, aux)
}

// drainAndFlush runs on cooperative shutdown (§5: "the loop drains
// rings, flushes the logger, and exits").
func (c *Core) drainAndFlush() {
	for {
		if _, err := c.sub.DrainEgress(); err != nil {
			break
		}
	}
	if err := risk.SaveSnapshot(c.cfg.Risk.PersistPath, c.risk.Export()); err != nil {
		c.logger.Error("risk: snapshot persist failed", "err", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.trace != nil {
		if err := c.trace.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("logger shutdown failed", "err", err)
		}
	}
	c.wg.Wait()
}
