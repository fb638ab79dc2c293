package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tick2trade/pkg/types"
)

// PositionReport is sent by the hot thread once per tick (or per fill)
// so the background Manager can track realized PnL, rapid price
// movement, and regime transitions without sitting on the hot path.
type PositionReport struct {
	VenueID       uint16
	Position      int64
	MidPrice      float64
	UnrealizedPnL float64
	RealizedPnL   int64
	Timestamp     time.Time
}

// KillSignal tells the core to cancel all resting orders.
type KillSignal struct {
	VenueID uint16 // zero value means all venues
	Reason  string
}

// RegimeThresholds configures the stress metric (absolute percentage
// price move within Window) that upgrades the regime from Normal toward
// Halted (§6: `regime_thresholds: {elevated, high_stress}`).
type RegimeThresholds struct {
	Elevated   float64
	HighStress float64
	Window     time.Duration
}

type priceAnchor struct {
	price float64
	at    time.Time
}

// Manager aggregates position reports across venues, runs the rapid-
// price-movement regime classifier, and emits KillSignal when realized
// PnL breaches the loss threshold; a regime escalation only publishes a
// new regime and does not emit KillSignal. It owns the State that the
// hot path's CheckPreTrade reads.
//
// Grounded on the teacher's risk manager: a channel-fed background
// goroutine, mutex-protected non-hot-path bookkeeping, periodic sweep to
// clear stale anchors — generalized from per-market USD exposure
// tracking to per-venue signed-position and regime tracking.
type Manager struct {
	state      *State
	thresholds RegimeThresholds
	logger     *slog.Logger

	mu      sync.Mutex
	anchors map[uint16]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager builds a Manager wrapping the given hot-path State.
func NewManager(state *State, thresholds RegimeThresholds, logger *slog.Logger) *Manager {
	return &Manager{
		state:      state,
		thresholds: thresholds,
		logger:     logger.With("component", "risk"),
		anchors:    make(map[uint16]priceAnchor),
		reportCh:   make(chan PositionReport, 256),
		killCh:     make(chan KillSignal, 16),
	}
}

// Run drives the background loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-m.reportCh:
			m.process(report)
		case <-ticker.C:
			m.sweepAnchors()
		}
	}
}

// Report submits a position report (non-blocking; drops under backpressure
// rather than stalling the hot thread).
func (m *Manager) Report(report PositionReport) {
	select {
	case m.reportCh <- report:
	default:
		m.logger.Warn("risk report channel full, dropping report", "venue", report.VenueID)
	}
}

// KillCh returns the channel the core reads kill signals from.
func (m *Manager) KillCh() <-chan KillSignal {
	return m.killCh
}

// State returns the hot-path RiskState this manager updates.
func (m *Manager) State() *State {
	return m.state
}

func (m *Manager) process(report PositionReport) {
	if report.RealizedPnL <= -m.state.cfg.MaxLossThreshold {
		m.emitKill(report.VenueID, fmt.Sprintf("realized pnl %d breached max loss %d", report.RealizedPnL, m.state.cfg.MaxLossThreshold))
	}
	m.checkPriceMovement(report)
}

// checkPriceMovement classifies stress by how far mid price has moved
// from an anchor within the configured window, escalating the regime
// rather than immediately killing (§3 regime ladder).
func (m *Manager) checkPriceMovement(report PositionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	anchor, ok := m.anchors[report.VenueID]
	if !ok || report.Timestamp.Sub(anchor.at) > m.thresholds.Window {
		m.anchors[report.VenueID] = priceAnchor{price: report.MidPrice, at: report.Timestamp}
		return
	}
	if anchor.price == 0 {
		return
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	switch {
	case pctChange > m.thresholds.HighStress:
		m.state.SetRegime(types.RegimeHighStress)
		m.logger.Warn("regime -> high_stress", "venue", report.VenueID, "pct_change", pctChange)
	case pctChange > m.thresholds.Elevated:
		m.state.SetRegime(types.RegimeElevated)
		m.logger.Info("regime -> elevated", "venue", report.VenueID, "pct_change", pctChange)
	default:
		m.state.SetRegime(types.RegimeNormal)
	}
}

func (m *Manager) sweepAnchors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for venue, a := range m.anchors {
		if now.Sub(a.at) > m.thresholds.Window {
			delete(m.anchors, venue)
		}
	}
}

func (m *Manager) emitKill(venueID uint16, reason string) {
	m.state.killSwitch.Store(true)
	m.logger.Error("kill switch", "venue", venueID, "reason", reason)

	sig := KillSignal{VenueID: venueID, Reason: reason}
	select {
	case m.killCh <- sig:
	default:
		select {
		case <-m.killCh:
		default:
		}
		m.killCh <- sig
	}
}
