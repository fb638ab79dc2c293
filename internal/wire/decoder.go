// Package wire implements the inbound and outbound binary wire contract
// described by the decoder/outbound-path component: fixed byte offsets,
// explicit endianness, and exact fixed-point price conversion at the
// boundary between the venue's decimal prices and the book's integer
// ticks.
//
// HOT PATH: every function here runs on the single pinned hot thread.
// Decode never allocates beyond the returned MarketEvent's Levels slice
// (only populated for snapshots), and never copies the packet payload —
// fields are read in place with encoding/binary.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tick2trade/pkg/types"
)

// ErrDecodeMalformed is returned for an unrecognized message type or a
// packet too short for its declared fields. The caller drops and counts
// it; it never propagates past the ingress stage.
var ErrDecodeMalformed = errors.New("wire: malformed packet")

// Wire message type tags, part of the inbound contract (§6).
const (
	msgAdd uint8 = iota + 1
	msgModify
	msgCancel
	msgTrade
	msgSnapshotL10
	msgHeartbeat
)

const headerLen = 46 // fixed prefix common to every non-snapshot message
const levelRecLen = 21

// Schema declares the decoder's wire contract: how a venue's decimal
// prices map onto integer ticks. Additional venues plug in by
// constructing a Schema with their own TickSize — the decoder logic
// itself never changes (§6: "additional schemas plug in").
type Schema struct {
	VenueID  uint16
	TickSize decimal.Decimal // price increment; 1 tick == this many units of the venue's decimal price
}

// NewSchema builds a Schema from a decimal tick size string (e.g. "0.01").
func NewSchema(venueID uint16, tickSize string) (Schema, error) {
	ts, err := decimal.NewFromString(tickSize)
	if err != nil {
		return Schema{}, fmt.Errorf("wire: invalid tick size %q: %w", tickSize, err)
	}
	if ts.Sign() <= 0 {
		return Schema{}, fmt.Errorf("wire: tick size must be positive, got %s", tickSize)
	}
	return Schema{VenueID: venueID, TickSize: ts}, nil
}

// Decoder parses wire bytes into typed MarketEvents per a fixed Schema.
// Pure: no mutable state beyond what's passed in, deterministic output
// for identical input (§4.3).
type Decoder struct {
	schema Schema
}

// NewDecoder builds a Decoder bound to one wire schema.
func NewDecoder(schema Schema) *Decoder {
	return &Decoder{schema: schema}
}

// Decode parses buf into a MarketEvent. The returned event holds no
// reference to buf: scalar fields are copied out, and Levels (for
// EventSnapshotL10) is always a freshly allocated slice, since level
// count is only known after parsing the header.
func (d *Decoder) Decode(buf []byte) (types.MarketEvent, error) {
	if len(buf) < headerLen {
		return types.MarketEvent{}, ErrDecodeMalformed
	}

	msgType := buf[0]
	seq := binary.BigEndian.Uint64(buf[1:9])
	venueID := binary.BigEndian.Uint16(buf[9:11])
	tsNanos := int64(binary.BigEndian.Uint64(buf[11:19]))
	sideByte := buf[19]

	ev := types.MarketEvent{
		Seq:     seq,
		VenueID: venueID,
		TSNanos: tsNanos,
	}
	if sideByte == 1 {
		ev.Side = types.Sell
	} else {
		ev.Side = types.Buy
	}

	switch msgType {
	case msgAdd:
		ev.Kind = types.EventAdd
	case msgModify:
		ev.Kind = types.EventModify
	case msgCancel:
		ev.Kind = types.EventCancel
	case msgTrade:
		ev.Kind = types.EventTrade
	case msgHeartbeat:
		ev.Kind = types.EventHeartbeat
		return ev, nil
	case msgSnapshotL10:
		return d.decodeSnapshot(buf, ev)
	default:
		return types.MarketEvent{}, ErrDecodeMalformed
	}

	price, err := d.decodePrice(buf[20:29])
	if err != nil {
		return types.MarketEvent{}, err
	}
	ev.Price = price
	ev.Size = binary.BigEndian.Uint64(buf[29:37])
	orderID := binary.BigEndian.Uint64(buf[37:45])
	ev.HasOrder = buf[45] != 0
	if ev.HasOrder {
		ev.OrderID = orderID
	}
	return ev, nil
}

func (d *Decoder) decodeSnapshot(buf []byte, ev types.MarketEvent) (types.MarketEvent, error) {
	if len(buf) < headerLen+2 {
		return types.MarketEvent{}, ErrDecodeMalformed
	}
	ev.Kind = types.EventSnapshotL10
	ev.SnapSide = ev.Side
	count := int(binary.BigEndian.Uint16(buf[headerLen : headerLen+2]))
	need := headerLen + 2 + count*levelRecLen
	if len(buf) < need {
		return types.MarketEvent{}, ErrDecodeMalformed
	}

	levels := make([]types.PriceLevel, count)
	off := headerLen + 2
	for i := 0; i < count; i++ {
		rec := buf[off : off+levelRecLen]
		price, err := d.decodePrice(rec[0:9])
		if err != nil {
			return types.MarketEvent{}, err
		}
		levels[i] = types.PriceLevel{
			Price:      price,
			Size:       binary.BigEndian.Uint64(rec[9:17]),
			OrderCount: binary.BigEndian.Uint32(rec[17:21]),
		}
		off += levelRecLen
	}
	ev.Levels = levels
	return ev, nil
}

// decodePrice reads a 9-byte mantissa+exponent decimal field and returns
// it as an integer number of ticks, rounding to the nearest tick. This
// is the decoder's one fixed-point boundary: everything downstream of
// here (the book, signals, the quoter) is integer arithmetic.
func (d *Decoder) decodePrice(field []byte) (types.Ticks, error) {
	if len(field) != 9 {
		return 0, ErrDecodeMalformed
	}
	mantissa := int64(binary.BigEndian.Uint64(field[0:8]))
	exponent := int32(int8(field[8]))
	dec := decimal.New(mantissa, exponent)
	ticks := dec.DivRound(d.schema.TickSize, 0)
	return types.Ticks(ticks.IntPart()), nil
}
