package risk

import (
	"log/slog"
	"testing"
	"time"

	"tick2trade/pkg/types"
)

func testManager() *Manager {
	state := NewState(testConfig())
	thresholds := RegimeThresholds{Elevated: 0.01, HighStress: 0.05, Window: time.Minute}
	return NewManager(state, thresholds, slog.Default())
}

func TestManagerEscalatesRegimeOnPriceMovement(t *testing.T) {
	t.Parallel()

	m := testManager()
	now := time.Now()

	m.process(PositionReport{VenueID: 1, MidPrice: 100, Timestamp: now})
	if got := m.State().Regime(); got != types.RegimeNormal {
		t.Fatalf("Regime() after anchor set = %v, want Normal", got)
	}

	m.process(PositionReport{VenueID: 1, MidPrice: 107, Timestamp: now.Add(time.Second)})
	if got := m.State().Regime(); got != types.RegimeHighStress {
		t.Errorf("Regime() after 7%% move = %v, want HighStress", got)
	}
}

func TestManagerEmitsKillOnLossBreach(t *testing.T) {
	t.Parallel()

	m := testManager()
	m.process(PositionReport{VenueID: 2, RealizedPnL: -2000, Timestamp: time.Now()})

	select {
	case sig := <-m.KillCh():
		if sig.VenueID != 2 {
			t.Errorf("KillSignal.VenueID = %d, want 2", sig.VenueID)
		}
	default:
		t.Fatal("expected a KillSignal after loss-threshold breach")
	}
	if !m.State().KillSwitchActive() {
		t.Error("KillSwitchActive() = false, want true after emitKill")
	}
}

func TestManagerSweepAnchorsClearsExpired(t *testing.T) {
	t.Parallel()

	m := testManager()
	m.thresholds.Window = time.Millisecond
	m.process(PositionReport{VenueID: 3, MidPrice: 50, Timestamp: time.Now()})

	time.Sleep(5 * time.Millisecond)
	m.sweepAnchors()

	m.mu.Lock()
	_, ok := m.anchors[3]
	m.mu.Unlock()
	if ok {
		t.Error("anchor for venue 3 should have been swept after window expiry")
	}
}

func TestManagerReportDropsUnderBackpressure(t *testing.T) {
	t.Parallel()

	m := testManager()
	// Fill the report channel without a consumer draining it.
	for i := 0; i < cap(m.reportCh)+5; i++ {
		m.Report(PositionReport{VenueID: 1, Timestamp: time.Now()})
	}
	// Should not block or panic; channel stays at capacity.
	if len(m.reportCh) != cap(m.reportCh) {
		t.Errorf("reportCh len = %d, want %d (full, extras dropped)", len(m.reportCh), cap(m.reportCh))
	}
}
