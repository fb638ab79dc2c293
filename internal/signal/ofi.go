// Package signal computes the per-tick feature vector: multi-level
// order flow imbalance, Hawkes self-/cross-exciting intensities, and a
// fixed-latency inference stage over the resulting features (§4.5).
package signal

import "tick2trade/pkg/types"

// DeepOFI computes per-level order flow imbalance between two
// consecutive book snapshots, for levels [0, depth) (§4.5.1):
//
//	ofi_i = (curr.bid_size[i] - prev.bid_size[i]) - (curr.ask_size[i] - prev.ask_size[i])
func DeepOFI(curr, prev *types.BookSnapshot, depth int) []float64 {
	ofi := make([]float64, depth)
	for i := 0; i < depth; i++ {
		var currBid, prevBid, currAsk, prevAsk float64
		if i < len(curr.Bids) {
			currBid = float64(curr.Bids[i].Size)
		}
		if i < len(prev.Bids) {
			prevBid = float64(prev.Bids[i].Size)
		}
		if i < len(curr.Asks) {
			currAsk = float64(curr.Asks[i].Size)
		}
		if i < len(prev.Asks) {
			prevAsk = float64(prev.Asks[i].Size)
		}
		ofi[i] = (currBid - prevBid) - (currAsk - prevAsk)
	}
	return ofi
}

// SumLevels sums the first n entries of a per-level OFI slice (used for
// the ofi_level_1/5/10 aggregates).
func SumLevels(ofi []float64, n int) float64 {
	if n > len(ofi) {
		n = len(ofi)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += ofi[i]
	}
	return sum
}

// WeightedOFI sums a per-level OFI slice with weight 1/(i+1).
func WeightedOFI(ofi []float64) float64 {
	var sum float64
	for i, v := range ofi {
		sum += v / float64(i+1)
	}
	return sum
}

// Microprice returns the size-weighted mid price — each side's price is
// weighted by the opposite side's size, so it leans away from the side
// with more resting size at the top of book, toward the thinner side —
// and whether both sides were present to compute it.
func Microprice(snap *types.BookSnapshot) (float64, bool) {
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	totalSize := float64(bid.Size + ask.Size)
	if totalSize == 0 {
		return 0, false
	}
	return (float64(bid.Price)*float64(ask.Size) + float64(ask.Price)*float64(bid.Size)) / totalSize, true
}

// VolumeImbalanceRatio returns (bid_size - ask_size) / (bid_size +
// ask_size) at the top of book, in [-1, 1].
func VolumeImbalanceRatio(snap *types.BookSnapshot) (float64, bool) {
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	total := float64(bid.Size + ask.Size)
	if total == 0 {
		return 0, false
	}
	return (float64(bid.Size) - float64(ask.Size)) / total, true
}
