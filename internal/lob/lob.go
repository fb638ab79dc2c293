// Package lob reconstructs a multi-level limit order book from a
// strictly-ordered stream of MarketEvents.
//
// The book is exclusively mutated by the hot thread (§5: "The LOB ...
// owned by the hot thread; observers get snapshots"). Bids and asks are
// flat, fixed-length arrays of PriceLevel with a side-indexed price→index
// map for O(1) lookup, the same shape as a QuantCup-style matching
// engine's pricePoints array and rishavpaul's PriceLevel, generalized
// from per-order linked lists to per-level aggregate size since the book
// only needs level depth, not order-level FIFO queues.
package lob

import (
	"sync/atomic"

	"tick2trade/pkg/types"
)

// State is the book's recovery state machine (§4.11 state machines).
type State uint8

const (
	StateNormal State = iota
	StateRecovering
)

// DefaultDepth is N in the spec's "N-level bids/asks" (default 10).
const DefaultDepth = 10

// Book maintains one venue's order book. Not safe for concurrent
// mutation — Apply is called only from the hot thread. Snapshot is safe
// to call from any goroutine; it loads an atomically published,
// immutable BookSnapshot.
type Book struct {
	venueID uint16
	depth   int

	bids    []types.PriceLevel // descending by price, len == depth
	asks    []types.PriceLevel // ascending by price
	bidIdx  map[types.Ticks]int
	askIdx  map[types.Ticks]int

	expectedSeq uint64
	state       State
	epoch       uint64

	lastTradePrice types.Ticks
	lastTradeSize  uint64

	published atomic.Pointer[types.BookSnapshot]
}

// NewBook creates an empty book for one venue with the given per-side
// depth (construction-time constant, per §5 "sizes are configuration-
// time constants").
func NewBook(venueID uint16, depth int) *Book {
	if depth <= 0 {
		depth = DefaultDepth
	}
	b := &Book{
		venueID: venueID,
		depth:   depth,
		bids:    make([]types.PriceLevel, depth),
		asks:    make([]types.PriceLevel, depth),
		bidIdx:  make(map[types.Ticks]int, depth),
		askIdx:  make(map[types.Ticks]int, depth),
	}
	b.publish()
	return b
}

// Snapshot returns the most recently published, immutable view.
func (b *Book) Snapshot() *types.BookSnapshot {
	return b.published.Load()
}

// State returns the book's current recovery state.
func (b *Book) State() State {
	return b.state
}

// Apply consumes one MarketEvent in sequence order. On a sequence gap it
// transitions to Recovering and returns a RecoveryRequest; the caller
// must stop feeding events for this venue until a Snapshot event whose
// Seq >= the gap's ToSeq arrives (§4.4 sequence-gap policy).
func (b *Book) Apply(ev types.MarketEvent) (*types.RecoveryRequest, error) {
	if ev.Kind == types.EventHeartbeat {
		return nil, nil
	}

	if b.state == StateRecovering {
		if ev.Kind != types.EventSnapshotL10 || ev.Seq < b.expectedSeq {
			return nil, nil // refuse further events until a qualifying snapshot
		}
	} else if b.expectedSeq != 0 && ev.Seq != b.expectedSeq {
		req := &types.RecoveryRequest{
			VenueID: b.venueID,
			FromSeq: b.expectedSeq,
			ToSeq:   ev.Seq,
		}
		b.state = StateRecovering
		b.expectedSeq = ev.Seq
		return req, nil
	}

	switch ev.Kind {
	case types.EventSnapshotL10:
		b.applySnapshot(ev)
	case types.EventAdd, types.EventModify:
		b.addOrModify(ev.Side, ev.Price, ev.Size, 1)
	case types.EventCancel:
		b.cancel(ev.Side, ev.Price, ev.Size)
	case types.EventTrade:
		b.trade(ev.Side, ev.Price, ev.Size)
	}

	b.expectedSeq = ev.Seq + 1
	b.state = StateNormal
	b.publish()
	return nil, nil
}

// applySnapshot replaces one side wholesale (§4.4: "Snapshot: replace
// both sides atomically with the supplied levels" — in practice each
// wire snapshot message carries one side, SnapSide, and the caller sends
// both sides to fully resync a venue).
func (b *Book) applySnapshot(ev types.MarketEvent) {
	levels := make([]types.PriceLevel, b.depth)
	copy(levels, ev.Levels)

	if ev.SnapSide == types.Buy {
		b.bids = levels
		b.bidIdx = rebuildIndex(levels)
	} else {
		b.asks = levels
		b.askIdx = rebuildIndex(levels)
	}
}

func rebuildIndex(levels []types.PriceLevel) map[types.Ticks]int {
	idx := make(map[types.Ticks]int, len(levels))
	for i, l := range levels {
		if l.Active() {
			idx[l.Price] = i
		}
	}
	return idx
}

// addOrModify sets the size at price on side, inserting a new level in
// sorted position if absent. A new level beyond the top-N is discarded
// without altering existing levels (§8 boundary behaviour).
func (b *Book) addOrModify(side types.Side, price types.Ticks, size uint64, orderCount uint32) {
	levels, idx := b.sideArrays(side)

	if i, ok := idx[price]; ok {
		if size == 0 {
			b.removeLevel(levels, idx, i)
			return
		}
		levels[i].Size = size
		levels[i].OrderCount = orderCount
		return
	}
	if size == 0 {
		return
	}

	pos := insertionPosition(levels, side, price)
	if pos >= len(levels) {
		return // beyond top-N, discard
	}

	// The level falling off the end (if any) is dropped from the book
	// entirely; its index entry must go with it.
	if dropped := levels[len(levels)-1]; dropped.Active() {
		delete(idx, dropped.Price)
	}

	for i := len(levels) - 1; i > pos; i-- {
		levels[i] = levels[i-1]
		if levels[i].Active() {
			idx[levels[i].Price] = i
		}
	}
	levels[pos] = types.PriceLevel{Price: price, Size: size, OrderCount: orderCount}
	idx[price] = pos
}

// insertionPosition returns where price belongs in levels, kept
// descending for bids and ascending for asks.
func insertionPosition(levels []types.PriceLevel, side types.Side, price types.Ticks) int {
	for i, l := range levels {
		if !l.Active() {
			return i
		}
		if side == types.Buy && price > l.Price {
			return i
		}
		if side == types.Sell && price < l.Price {
			return i
		}
	}
	return len(levels)
}

// cancel decrements size at price by amount; a level reaching zero is
// removed and the array compacted. Canceling a non-existent level is a
// no-op (§8 round-trip/idempotence).
func (b *Book) cancel(side types.Side, price types.Ticks, amount uint64) {
	levels, idx := b.sideArrays(side)
	i, ok := idx[price]
	if !ok {
		return
	}
	if amount >= levels[i].Size {
		b.removeLevel(levels, idx, i)
		return
	}
	levels[i].Size -= amount
}

// trade subtracts a traded quantity from the resting level and updates
// the last-trade cache (§4.4: "if aggressor side known, update
// last-trade cache").
func (b *Book) trade(side types.Side, price types.Ticks, size uint64) {
	b.lastTradePrice = price
	b.lastTradeSize = size
	b.cancel(side, price, size)
}

func (b *Book) removeLevel(levels []types.PriceLevel, idx map[types.Ticks]int, i int) {
	delete(idx, levels[i].Price)
	copy(levels[i:], levels[i+1:])
	levels[len(levels)-1] = types.PriceLevel{}
	for j := i; j < len(levels); j++ {
		if levels[j].Active() {
			idx[levels[j].Price] = j
		}
	}
}

func (b *Book) sideArrays(side types.Side) ([]types.PriceLevel, map[types.Ticks]int) {
	if side == types.Buy {
		return b.bids, b.bidIdx
	}
	return b.asks, b.askIdx
}

// publish builds a fresh, immutable BookSnapshot from current state and
// atomically installs it. Copy-on-publish is simpler than epoch-based
// reclamation and cheap at N=10-20 levels; either is acceptable per §9.
func (b *Book) publish() {
	b.epoch++
	bids := make([]types.PriceLevel, len(b.bids))
	copy(bids, b.bids)
	asks := make([]types.PriceLevel, len(b.asks))
	copy(asks, b.asks)

	b.published.Store(&types.BookSnapshot{
		Epoch:     b.epoch,
		VenueID:   b.venueID,
		LastSeq:   b.expectedSeq,
		Bids:      bids,
		Asks:      asks,
		Timestamp: 0,
	})
}
