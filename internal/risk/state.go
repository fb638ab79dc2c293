// Package risk enforces the pre-trade limits and kill-switch/regime
// state machine of §4.7, plus the background aggregation (position
// reports, PnL tracking, rapid-price-movement detection) that updates
// them.
//
// The hot path (CheckPreTrade) never blocks and allocates only to build
// a rejection error: every field it reads is a plain atomic, so a
// strategy thread can call it on
// every order without contending with the background Manager goroutine
// that publishes updates to the same fields.
package risk

import (
	"errors"
	"fmt"
	"sync/atomic"

	"tick2trade/pkg/types"
)

// Config configures the static risk limits (§6 configuration surface:
// risk: {base_max_position, max_order_value, max_loss_threshold,
// daily_max_trades, reset_auth_code}).
type Config struct {
	BaseMaxPosition  int64
	MaxOrderValue    int64
	MaxLossThreshold int64
	DailyMaxTrades   uint64
	ResetAuthCode    string
}

// ErrRiskRejected wraps the specific pre-trade check that failed
// (§4.7: "Any check failing returns ErrorKind::RiskRejected(reason)").
type ErrRiskRejected struct {
	Reason string
}

func (e *ErrRiskRejected) Error() string { return "risk: rejected: " + e.Reason }

// ErrKillSwitchLatched is returned once the kill switch has latched;
// it stays latched until an authorized reset (§3 RiskState, §8 seed
// scenario 3).
var ErrKillSwitchLatched = errors.New("risk: kill switch latched")

// State holds the atomic RiskState record (§3) checked on the hot path.
// Zero value is usable but should be initialized with NewState.
type State struct {
	cfg Config

	position        atomic.Int64  // current signed inventory
	realizedPnL     atomic.Int64  // fixed-point, same unit as MaxLossThreshold
	dailyTradeCount atomic.Uint64
	killSwitch      atomic.Bool
	regime          atomic.Uint32 // types.Regime
}

// NewState builds a RiskState in Regime Normal, kill switch disengaged.
func NewState(cfg Config) *State {
	s := &State{cfg: cfg}
	s.regime.Store(uint32(types.RegimeNormal))
	return s
}

// CurrentMaxPosition returns base_max_position scaled by the current
// regime's multiplier (§3: "current_max_position = base_max_position ×
// multiplier").
func (s *State) CurrentMaxPosition() int64 {
	mult := types.RegimeMultiplier(types.Regime(s.regime.Load()))
	return int64(float64(s.cfg.BaseMaxPosition) * mult)
}

// Position, RealizedPnL, DailyTradeCount, KillSwitchActive, Regime are
// plain atomic accessors exposed for the quoter/router to read.
func (s *State) Position() int64         { return s.position.Load() }
func (s *State) RealizedPnL() int64      { return s.realizedPnL.Load() }
func (s *State) DailyTradeCount() uint64 { return s.dailyTradeCount.Load() }
func (s *State) KillSwitchActive() bool  { return s.killSwitch.Load() }
func (s *State) Regime() types.Regime    { return types.Regime(s.regime.Load()) }

// SetRegime publishes a new regime with release semantics (§4.7: "regime
// updates publish a new multiplier with release semantics").
func (s *State) SetRegime(r types.Regime) {
	s.regime.Store(uint32(r))
}

// RecordFill updates position and realized PnL after a fill, and bumps
// the daily trade counter. Position and PnL use a plain load-then-store
// with no CAS loop, so RecordFill must have a single calling goroutine
// (in internal/core, the execution-report consumer, not the hot thread
// that calls CheckPreTrade); dailyTradeCount uses Add in case multiple
// symbols share one State.
func (s *State) RecordFill(signedQty int64, pnlDelta int64) {
	s.position.Store(s.position.Load() + signedQty)
	s.realizedPnL.Store(s.realizedPnL.Load() + pnlDelta)
	s.dailyTradeCount.Add(1)

	if s.realizedPnL.Load() <= -s.cfg.MaxLossThreshold {
		s.killSwitch.Store(true)
	}
}

// Reset clears the kill switch if code matches the authorized reset
// token (§8 seed scenario 3). Returns an error for any other code,
// leaving the kill switch untouched.
func (s *State) Reset(code string) error {
	if code != s.cfg.ResetAuthCode {
		return fmt.Errorf("risk: invalid reset code")
	}
	s.killSwitch.Store(false)
	return nil
}

// CheckPreTrade runs the six ordered, wait-free pre-trade checks of
// §4.7 against a prospective order of the given signed quantity and
// price. Returns nil if every check passes.
func (s *State) CheckPreTrade(signedQty int64, price types.Ticks, quantity uint64) error {
	if s.killSwitch.Load() {
		return ErrKillSwitchLatched
	}

	projected := s.position.Load() + signedQty
	maxPos := s.CurrentMaxPosition()
	if abs64(projected) > maxPos {
		return &ErrRiskRejected{Reason: fmt.Sprintf("position %d would exceed max %d", projected, maxPos)}
	}

	orderValue := int64(price) * int64(quantity)
	if orderValue > s.cfg.MaxOrderValue {
		return &ErrRiskRejected{Reason: fmt.Sprintf("order value %d exceeds max %d", orderValue, s.cfg.MaxOrderValue)}
	}

	if s.dailyTradeCount.Load() >= s.cfg.DailyMaxTrades {
		return &ErrRiskRejected{Reason: "daily trade count limit reached"}
	}

	if s.realizedPnL.Load() <= -s.cfg.MaxLossThreshold {
		s.killSwitch.Store(true)
		return ErrKillSwitchLatched
	}

	if types.Regime(s.regime.Load()) == types.RegimeHalted {
		return &ErrRiskRejected{Reason: "regime halted"}
	}

	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
