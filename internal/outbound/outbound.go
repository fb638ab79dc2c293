// Package outbound wraps the wire encoder and egress ring into the
// submission path described in §4.8: per-(venue, symbol, type) order
// templates, an atomic monotonic client_order_id counter, and a
// single-memcpy patch-and-push into the NIC TX stage's SPSC ring.
package outbound

import (
	"sync/atomic"

	"tick2trade/internal/ring"
	"tick2trade/internal/wire"
	"tick2trade/pkg/types"
)

// egressSlot is one pre-allocated record the egress ring carries; it
// wraps the fixed-size wire record so the ring's element type has no
// pointer indirection into an outside buffer.
type egressSlot struct {
	len int
	buf [wire.OutRecordLen]byte
}

// Submitter owns one venue/symbol's order and cancel templates, the
// monotonic client_order_id counter, and the egress ring feeding the
// NIC TX stage.
type Submitter struct {
	encoder    *wire.Encoder
	orderTmpl  *wire.Template
	cancelTmpl *wire.Template

	nextClientOrderID atomic.Uint64
	egress            *ring.SPSC[egressSlot]
}

// NewSubmitter builds a Submitter for one (venue, symbol, tif) tuple.
// clientID/sessionID/symbolID are baked into both templates at
// construction, matching §4.8's "static fields filled in" (never
// patched again after this point).
func NewSubmitter(schema wire.Schema, clientID, sessionID uint64, symbolID uint32, tif uint8, egressCapacity int) *Submitter {
	return &Submitter{
		encoder:    wire.NewEncoder(schema),
		orderTmpl:  wire.NewOrderTemplate(clientID, sessionID, symbolID, tif),
		cancelTmpl: wire.CancelTemplate(clientID, sessionID, symbolID),
		egress:     ring.NewSPSC[egressSlot](egressCapacity),
	}
}

// SubmitOrder patches a new order record from the pre-built template and
// pushes it to the egress ring for the NIC TX stage to drain. No
// allocation: the destination bytes live in the ring's pre-constructed
// slot.
func (s *Submitter) SubmitOrder(seq uint64, order types.Order) error {
	clientOrderID := s.nextClientOrderID.Add(1)
	order.ClientOrderID = clientOrderID

	var slot egressSlot
	slot.len = s.encoder.PatchOrder(slot.buf[:], s.orderTmpl, seq, order)
	return s.egress.TryPush(slot)
}

// SubmitCancel patches a cancel record from the cancel template and
// pushes it to the egress ring.
func (s *Submitter) SubmitCancel(seq uint64, order types.Order) error {
	order.Type = types.OrderCancel

	var slot egressSlot
	slot.len = s.encoder.PatchOrder(slot.buf[:], s.cancelTmpl, seq, order)
	return s.egress.TryPush(slot)
}

// DrainEgress is called by the NIC TX stage to pop the next wire-ready
// record. Returns ring.ErrWouldBlock when empty.
func (s *Submitter) DrainEgress() ([]byte, error) {
	slot, err := s.egress.TryPop()
	if err != nil {
		return nil, err
	}
	out := make([]byte, slot.len)
	copy(out, slot.buf[:slot.len])
	return out, nil
}

// NextClientOrderID previews the counter without consuming it (for
// logging/diagnostics only; the authoritative increment happens inside
// SubmitOrder).
func (s *Submitter) NextClientOrderID() uint64 {
	return s.nextClientOrderID.Load() + 1
}
