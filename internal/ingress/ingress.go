// Package ingress implements the busy-polled packet ingress stage of
// §4.2: a pinned hot thread polls a NICAdapter for zero-copy PacketViews,
// counts malformed/dropped packets, and either calls downstream code
// directly or pushes the view onto an SPSC ring for a decoupled decode
// stage.
//
// The core never names a specific driver (§6 NIC interface): any
// adapter implementing NICAdapter suffices, real kernel-bypass, a
// simulator, or a WebSocket-backed replay feed (see wsreplay.go). Only
// the adapter is an interface; PollOnce itself is monomorphic and
// allocation-free once the ring and buffer pool are sized.
package ingress

import (
	"sync/atomic"

	"tick2trade/internal/ring"
)

// PacketView is a zero-copy reference to one received packet: a pointer
// into a pre-allocated DMA buffer (here, a plain Go byte slice owned by
// the NICAdapter, reused across calls to PostRxBuffer), its length, and
// the hardware (or simulated) receive timestamp.
//
// Downstream code must not retain Data past the call that returns it,
// or past the next PostRxBuffer for the same slot — the adapter is free
// to reuse the backing array once posted (§4.2: "clears the descriptor
// ... re-posts the buffer to the hardware tail").
type PacketView struct {
	Data        []byte
	HWTimestamp int64 // nanoseconds, monotonic epoch
}

// NICAdapter is the abstract NIC interface of §6: poll for one received
// packet, submit bytes for transmission, and repost the buffer a
// consumed PacketView referenced so the ring can reuse that slot.
type NICAdapter interface {
	// PollRX returns the next available packet, or ok == false if none
	// is ready yet. Never blocks.
	PollRX() (view PacketView, ok bool)
	// SubmitTX enqueues bytes for transmission. Returns false under
	// backpressure (§4.2: drop-oldest is forbidden — the caller must not
	// re-post and must retry instead).
	SubmitTX(bytes []byte) bool
	// PostRXBuffer returns the descriptor slot the last PollRX result
	// came from to the hardware (or simulated) RX ring.
	PostRXBuffer()
}

// Stats are the packet-ingress drop/error counters observers read
// (§4.3 failure semantics: "drop, increment counter, continue").
type Stats struct {
	Received  atomic.Uint64
	Malformed atomic.Uint64
	Dropped   atomic.Uint64 // descriptor-ring-full backpressure, not re-posted
}

// Poller busy-polls one NICAdapter on a single goroutine (intended to be
// pinned to an isolated core by the caller via runtime.LockOSThread).
// ShutdownFlag is checked once per iteration (§5: "Shutdown is
// cooperative: a single atomic flag is polled once per hot-loop
// iteration").
type Poller struct {
	adapter NICAdapter
	out     *ring.SPSC[PacketView]
	stats   Stats
	stop    atomic.Bool

	held    PacketView // packet the full output ring refused, pushed again before the next PollRX
	holding bool
}

// NewPoller builds a Poller over adapter, publishing accepted packets to
// an SPSC ring of the given capacity for a decoupled decode stage. A nil
// ring capacity of 0 means the caller drives PollOnce directly and reads
// its return value instead (co-located decode on the same core, per §2's
// "or direct function call when co-located on one core").
func NewPoller(adapter NICAdapter, ringCapacity int) *Poller {
	p := &Poller{adapter: adapter}
	if ringCapacity > 0 {
		p.out = ring.NewSPSC[PacketView](ringCapacity)
	}
	return p
}

// Stop sets the cooperative shutdown flag; Run exits after its current
// iteration.
func (p *Poller) Stop() { p.stop.Store(true) }

// PollOnce performs exactly one busy-poll iteration: if a packet is
// ready, it is counted received, posted to the output ring (when one is
// configured), and its descriptor slot is returned to the hardware.
// PollOnce never blocks and never allocates on the success path.
//
// When an output ring is configured and full, the packet's descriptor is
// deliberately NOT reposted (§4.2: "propagate backpressure by not
// re-posting") — PollOnce leaves the slot outstanding, keeps the view,
// and retries pushing it on its next call before polling the adapter
// again.
func (p *Poller) PollOnce() (PacketView, bool) {
	if p.holding {
		if err := p.out.TryPush(p.held); err != nil {
			return PacketView{}, false
		}
		view := p.held
		p.held, p.holding = PacketView{}, false
		p.adapter.PostRXBuffer()
		return view, true
	}

	view, ok := p.adapter.PollRX()
	if !ok {
		return PacketView{}, false
	}
	p.stats.Received.Add(1)

	if p.out == nil {
		p.adapter.PostRXBuffer()
		return view, true
	}

	if err := p.out.TryPush(view); err != nil {
		p.stats.Dropped.Add(1)
		p.held, p.holding = view, true
		return PacketView{}, false // not reposted; retried on the next PollOnce
	}
	p.adapter.PostRXBuffer()
	return view, true
}

// Out exposes the decoupled output ring, when configured.
func (p *Poller) Out() *ring.SPSC[PacketView] { return p.out }

// Run busy-polls until Stop is called, invoking onPacket for every
// accepted packet that was not instead routed through Out's ring.
func (p *Poller) Run(onPacket func(PacketView)) {
	for !p.stop.Load() {
		view, ok := p.PollOnce()
		if ok && p.out == nil && onPacket != nil {
			onPacket(view)
		}
	}
}

// Received, Malformed, Dropped expose the atomic counters directly.
func (p *Poller) Received() uint64  { return p.stats.Received.Load() }
func (p *Poller) Malformed() uint64 { return p.stats.Malformed.Load() }
func (p *Poller) Dropped() uint64   { return p.stats.Dropped.Load() }

// CountMalformed lets the decode stage (which owns the actual parse
// failure classification) feed malformed-packet counts back into
// ingress-level stats, since §4.3 says the ingress stage is the one that
// "drops and counts" a DecodeMalformed result.
func (p *Poller) CountMalformed() { p.stats.Malformed.Add(1) }
