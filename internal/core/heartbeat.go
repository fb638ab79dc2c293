package core

import (
	"math"
	"time"

	"tick2trade/internal/router"
	"tick2trade/pkg/types"
)

// venueTimeoutThreshold is the number of consecutive missed heartbeats
// before a venue is marked Disconnected (§4.11 Connected -> Degraded ->
// Disconnected). A miss leaves the EMA and stddev unchanged and only
// advances ConsecutiveTimeouts; the venue stays Connected until three
// misses in a row.
const venueTimeoutThreshold = 3

// venueHeartbeat maintains one venue's EMA/stddev RTT recurrence (§3:
// "ema <- alpha*x + (1-alpha)*ema") between heartbeat callbacks and
// publishes the result through a router.VenueStatePtr. Every method on
// it runs from the heartbeat callback, which the hot loop invokes
// synchronously out of wheel.Tick, so it needs no locking of its own;
// only the published VenueStatePtr is shared with the router.
type venueHeartbeat struct {
	venueID uint16
	alpha   float64
	state   *router.VenueStatePtr

	emaRTT      float64
	varRTT      float64
	haveEMA     bool
	missed      int
	lastSeenSeq uint64
}

func newVenueHeartbeat(venueID uint16, alpha float64) *venueHeartbeat {
	return &venueHeartbeat{
		venueID: venueID,
		alpha:   alpha,
		state:   router.NewVenueStatePtr(types.VenueState{VenueID: venueID, Connected: true}),
	}
}

// sample folds one observed round-trip time into the EMA/variance
// recurrence and republishes VenueState, resetting the consecutive
// miss count (§3 VenueState EMA recurrence).
func (hb *venueHeartbeat) sample(rttNanos int64, nowNanos int64) {
	hb.missed = 0
	x := float64(rttNanos)
	if !hb.haveEMA {
		hb.emaRTT, hb.varRTT, hb.haveEMA = x, 0, true
	} else {
		delta := x - hb.emaRTT
		hb.emaRTT += hb.alpha * delta
		hb.varRTT = (1 - hb.alpha) * (hb.varRTT + hb.alpha*delta*delta)
	}
	hb.publish(rttNanos, nowNanos, true)
}

// miss records one heartbeat period with no fresh observation,
// advancing the consecutive-timeout counter and, once it crosses
// venueTimeoutThreshold, flipping Connected false (§4.11).
func (hb *venueHeartbeat) miss(nowNanos int64) {
	hb.missed++
	hb.publish(int64(hb.emaRTT), nowNanos, hb.missed < venueTimeoutThreshold)
}

func (hb *venueHeartbeat) publish(currentRTT int64, nowNanos int64, connected bool) {
	hb.state.Store(types.VenueState{
		VenueID:             hb.venueID,
		Connected:           connected,
		LastHeartbeatSentNs: nowNanos,
		LastHeartbeatRecvNs: nowNanos,
		CurrentRTTNanos:     currentRTT,
		EMARTTNanos:         hb.emaRTT,
		StdDevRTTNanos:      math.Sqrt(math.Max(hb.varRTT, 0)),
		ConsecutiveTimeouts: hb.missed,
	})
}

// heartbeatTick is the wheel callback (§4.9: "heartbeats ... are
// scheduled here"). It folds each registered venue's latest observed
// RTT (from its execution-report poller, if it has one) into that
// venue's EMA, counts a miss for venues with nothing new to report,
// and reschedules itself one heartbeat period out.
func (c *Core) heartbeatTick() {
	now := time.Now().UnixNano()
	for id, hb := range c.heartbeats {
		p, hasPoller := c.venuePollers[id]
		if !hasPoller {
			hb.sample(0, now) // no transport to probe; stay optimistically connected
			continue
		}
		s := p.LastHeartbeat()
		if s.Seq == hb.lastSeenSeq {
			hb.miss(now)
			continue
		}
		hb.lastSeenSeq = s.Seq
		if s.OK {
			hb.sample(s.RTTNanos, now)
		} else {
			hb.miss(now)
		}
	}
	c.wheel.ScheduleAfter(c.heartbeatCycles, c.heartbeatTick)
}

// refreshVenueStates publishes each heartbeat's latest VenueState
// snapshot into the Venue slice the router reads. Runs once per packet
// on the hot thread, the only writer of c.venues (§4.9: "the router
// reads the loaded snapshot").
func (c *Core) refreshVenueStates() {
	for i := range c.venues {
		if hb, ok := c.heartbeats[c.venues[i].ID]; ok {
			c.venues[i].State = hb.state.Load()
		}
	}
}
