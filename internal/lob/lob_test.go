package lob

import (
	"testing"

	"tick2trade/pkg/types"
)

func add(seq uint64, side types.Side, price types.Ticks, size uint64) types.MarketEvent {
	return types.MarketEvent{Kind: types.EventAdd, Seq: seq, Side: side, Price: price, Size: size}
}

func modify(seq uint64, side types.Side, price types.Ticks, size uint64) types.MarketEvent {
	return types.MarketEvent{Kind: types.EventModify, Seq: seq, Side: side, Price: price, Size: size}
}

func cancelEv(seq uint64, side types.Side, price types.Ticks, size uint64) types.MarketEvent {
	return types.MarketEvent{Kind: types.EventCancel, Seq: seq, Side: side, Price: price, Size: size}
}

// TestBestOfBookAfterMixedUpdates is the spec's seed scenario 2.
func TestBestOfBookAfterMixedUpdates(t *testing.T) {
	t.Parallel()

	b := NewBook(1, 10)
	b.expectedSeq = 1

	events := []types.MarketEvent{
		add(1, types.Buy, 100, 5),
		add(2, types.Buy, 101, 10),
		add(3, types.Sell, 102, 8),
		add(4, types.Sell, 103, 6),
		modify(5, types.Buy, 101, 12),
		cancelEv(6, types.Sell, 103, 6),
	}
	for _, ev := range events {
		if _, err := b.Apply(ev); err != nil {
			t.Fatalf("Apply(%+v) error = %v", ev, err)
		}
	}

	snap := b.Snapshot()
	bid, ok := snap.BestBid()
	if !ok || bid.Price != 101 || bid.Size != 12 {
		t.Fatalf("BestBid() = %+v, %v, want price 101 size 12", bid, ok)
	}
	ask, ok := snap.BestAsk()
	if !ok || ask.Price != 102 || ask.Size != 8 {
		t.Fatalf("BestAsk() = %+v, %v, want price 102 size 8", ask, ok)
	}
	mid, _ := snap.Mid()
	if mid != 101 { // integer-tick truncation of 101.5
		t.Errorf("Mid() = %d, want 101 (truncated)", mid)
	}
	spread, _ := snap.Spread()
	if spread != 1 {
		t.Errorf("Spread() = %d, want 1", spread)
	}
}

// TestGapRecovery is the spec's seed scenario 1.
func TestGapRecovery(t *testing.T) {
	t.Parallel()

	b := NewBook(1, 10)
	b.expectedSeq = 1

	for _, seq := range []uint64{1, 2, 3} {
		if _, err := b.Apply(add(seq, types.Buy, 100, 1)); err != nil {
			t.Fatalf("Apply(seq=%d) error = %v", seq, err)
		}
	}

	req, err := b.Apply(add(5, types.Buy, 100, 1))
	if err != nil {
		t.Fatalf("Apply(seq=5) error = %v", err)
	}
	if req == nil {
		t.Fatal("expected a RecoveryRequest on sequence gap")
	}
	if req.FromSeq != 4 || req.ToSeq != 5 {
		t.Errorf("RecoveryRequest = %+v, want from=4 to=5", req)
	}
	if b.State() != StateRecovering {
		t.Errorf("State() = %v, want StateRecovering", b.State())
	}

	// Further non-snapshot events are refused while recovering.
	if _, err := b.Apply(add(6, types.Buy, 100, 1)); err != nil {
		t.Fatalf("Apply during recovery error = %v", err)
	}
	if b.State() != StateRecovering {
		t.Fatal("non-snapshot event during recovery should not clear Recovering")
	}

	snapEv := types.MarketEvent{
		Kind:     types.EventSnapshotL10,
		Seq:      5,
		SnapSide: types.Buy,
		Levels:   make([]types.PriceLevel, 10),
	}
	snapEv.Levels[0] = types.PriceLevel{Price: 100, Size: 1}
	if _, err := b.Apply(snapEv); err != nil {
		t.Fatalf("Apply(snapshot) error = %v", err)
	}
	if b.State() != StateNormal {
		t.Fatalf("State() = %v, want StateNormal after qualifying snapshot", b.State())
	}

	if _, err := b.Apply(add(6, types.Buy, 99, 2)); err != nil {
		t.Fatalf("Apply(seq=6) error = %v", err)
	}
	bid, ok := b.Snapshot().BestBid()
	if !ok || bid.Price != 100 {
		t.Fatalf("BestBid() after recovery = %+v, %v, want price 100", bid, ok)
	}
}

func TestCancelNonExistentLevelIsNoOp(t *testing.T) {
	t.Parallel()

	b := NewBook(1, 10)
	b.expectedSeq = 1
	if _, err := b.Apply(add(1, types.Buy, 100, 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Apply(cancelEv(2, types.Buy, 200, 5)); err != nil {
		t.Fatal(err)
	}
	bid, ok := b.Snapshot().BestBid()
	if !ok || bid.Price != 100 || bid.Size != 5 {
		t.Fatalf("BestBid() = %+v, %v, want unchanged price 100 size 5", bid, ok)
	}
}

func TestDepthOverflowDiscardsWithoutAlteringExisting(t *testing.T) {
	t.Parallel()

	b := NewBook(1, 2)
	b.expectedSeq = 1
	events := []types.MarketEvent{
		add(1, types.Buy, 100, 1),
		add(2, types.Buy, 99, 1),
	}
	for _, ev := range events {
		if _, err := b.Apply(ev); err != nil {
			t.Fatal(err)
		}
	}
	// A new level worse than both existing (beyond depth 2) is discarded.
	if _, err := b.Apply(add(3, types.Buy, 98, 1)); err != nil {
		t.Fatal(err)
	}

	snap := b.Snapshot()
	if len(snap.Bids) != 2 {
		t.Fatalf("len(Bids) = %d, want 2", len(snap.Bids))
	}
	if snap.Bids[0].Price != 100 || snap.Bids[1].Price != 99 {
		t.Fatalf("Bids = %+v, want [100, 99] unchanged", snap.Bids)
	}
}

func TestApplyIdempotentSnapshotReplay(t *testing.T) {
	t.Parallel()

	b := NewBook(1, 10)
	b.expectedSeq = 1

	levels := make([]types.PriceLevel, 10)
	levels[0] = types.PriceLevel{Price: 100, Size: 5}
	snapEv := types.MarketEvent{Kind: types.EventSnapshotL10, Seq: 1, SnapSide: types.Buy, Levels: levels}

	if _, err := b.Apply(snapEv); err != nil {
		t.Fatal(err)
	}
	first := b.Snapshot()

	snapEv.Seq = 2
	if _, err := b.Apply(snapEv); err != nil {
		t.Fatal(err)
	}
	second := b.Snapshot()

	if first.Bids[0] != second.Bids[0] {
		t.Errorf("applying the same snapshot twice changed bids[0]: %+v != %+v", first.Bids[0], second.Bids[0])
	}
}
