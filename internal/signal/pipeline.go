package signal

import (
	"time"

	"tick2trade/pkg/types"
)

// Pipeline wires deep OFI, the Hawkes intensity engine, and the
// fixed-latency inference stage into one per-tick feature-vector and
// prediction producer (§4.5). Not safe for concurrent use — Step runs
// on the single pinned hot thread, same as the LOB it reads from.
type Pipeline struct {
	depth    int
	hawkes   *HawkesEngine
	infer    InferenceConfig
	model    Model
	prevSnap *types.BookSnapshot
	prevMid  float64
	haveMid  bool
}

// NewPipeline builds a signal pipeline over the given per-level OFI
// depth, Hawkes parameters, inference config, and prediction model.
func NewPipeline(depth int, hawkes HawkesParams, infer InferenceConfig, model Model) *Pipeline {
	return &Pipeline{
		depth:  depth,
		hawkes: NewHawkesEngine(hawkes),
		infer:  infer,
		model:  model,
	}
}

// OnEvent feeds a fill/trade event to the Hawkes engine so subsequent
// intensity queries reflect it (§4.5.2: "on each event ... update both
// intensities").
func (p *Pipeline) OnEvent(side types.Side, t float64) {
	p.hawkes.OnEvent(side, t)
}

// Step computes the full feature vector for the current book snapshot
// against the previous one (deep OFI needs both), runs the fixed-latency
// inference stage, and returns the vector alongside the model's
// prediction. The first call after construction has no previous
// snapshot to diff against, so OFI terms are zero.
func (p *Pipeline) Step(snap *types.BookSnapshot, hawkesT float64, start time.Time) (types.FeatureVector, Prediction) {
	fv := make(types.FeatureVector, types.FeatCount)

	if p.prevSnap != nil {
		ofi := DeepOFI(snap, p.prevSnap, p.depth)
		fv[types.FeatOFILevel1] = SumLevels(ofi, 1)
		fv[types.FeatOFILevel5] = SumLevels(ofi, 5)
		fv[types.FeatOFILevel10] = SumLevels(ofi, 10)
		fv[types.FeatOFIWeighted] = WeightedOFI(ofi)
	}

	if micro, ok := Microprice(snap); ok {
		fv[types.FeatMicroprice] = micro
	}
	if vir, ok := VolumeImbalanceRatio(snap); ok {
		fv[types.FeatVolumeImbalance] = vir
	}

	fv[types.FeatHawkesBuyIntensity] = p.hawkes.Intensity(types.Buy, hawkesT)
	fv[types.FeatHawkesSellIntensity] = p.hawkes.Intensity(types.Sell, hawkesT)

	if spread, ok := snap.Spread(); ok {
		fv[types.FeatSpreadTicks] = float64(spread)
	}
	if bid, ok := snap.BestBid(); ok {
		fv[types.FeatBestBidSize] = float64(bid.Size)
	}
	if ask, ok := snap.BestAsk(); ok {
		fv[types.FeatBestAskSize] = float64(ask.Size)
	}
	if mid, ok := snap.Mid(); ok {
		if p.haveMid && p.prevMid != 0 {
			fv[types.FeatMidReturn] = (float64(mid) - p.prevMid) / p.prevMid
		}
		p.prevMid, p.haveMid = float64(mid), true
	}

	p.prevSnap = snap

	prediction := Infer(p.infer, p.model, fv, start)
	return fv, prediction
}

// SetHawkesParams atomically swaps the Hawkes kernel parameters between
// events (§4.5.2).
func (p *Pipeline) SetHawkesParams(params HawkesParams) {
	p.hawkes.SetParams(params)
}
