package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tick2trade/pkg/types"
)

// Snapshot is the crash-safe subset of RiskState written to disk: enough
// to restore position, PnL, and trade-count bookkeeping across a restart
// without re-deriving them from a full event replay. The kill switch is
// deliberately persisted too — a restart must not silently clear a
// latched kill switch.
type Snapshot struct {
	Position        int64        `json:"position"`
	RealizedPnL     int64        `json:"realized_pnl"`
	DailyTradeCount uint64       `json:"daily_trade_count"`
	KillSwitch      bool         `json:"kill_switch"`
	Regime          types.Regime `json:"regime"`
}

// Export captures the current RiskState as a Snapshot.
func (s *State) Export() Snapshot {
	return Snapshot{
		Position:        s.position.Load(),
		RealizedPnL:     s.realizedPnL.Load(),
		DailyTradeCount: s.dailyTradeCount.Load(),
		KillSwitch:      s.killSwitch.Load(),
		Regime:          types.Regime(s.regime.Load()),
	}
}

// Restore overwrites the current RiskState from a Snapshot. Intended for
// startup only, before the hot loop begins calling CheckPreTrade/RecordFill.
func (s *State) Restore(snap Snapshot) {
	s.position.Store(snap.Position)
	s.realizedPnL.Store(snap.RealizedPnL)
	s.dailyTradeCount.Store(snap.DailyTradeCount)
	s.killSwitch.Store(snap.KillSwitch)
	s.regime.Store(uint32(snap.Regime))
}

// SaveSnapshot atomically persists a Snapshot to path: write to a .tmp
// file, then rename over the target, so a crash mid-write never leaves a
// corrupt or partial file behind.
func SaveSnapshot(path string, snap Snapshot) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("risk: create persist dir: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("risk: marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("risk: write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot restores a Snapshot from path. Returns the zero Snapshot
// and no error if path does not exist yet (fresh start, no prior state).
func LoadSnapshot(path string) (Snapshot, error) {
	if path == "" {
		return Snapshot{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("risk: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("risk: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
