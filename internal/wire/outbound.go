package wire

import (
	"encoding/binary"

	"github.com/shopspring/decimal"

	"tick2trade/pkg/types"
)

// Outbound wire message types (§6).
const (
	OutMsgNewOrder uint8 = 1
	OutMsgCancel   uint8 = 2
)

// outbound record layout, fixed offsets per §6. All multi-byte fields
// big-endian. Length is constant so templates can be memcpy'd whole.
//
//	0   seq            uint64
//	8   msgType        uint8
//	9   msgLen         uint16
//	11  clientID       uint64
//	19  sessionID      uint64
//	27  clientTS       int64
//	35  clientOrderID  uint64
//	43  symbolID       uint32
//	47  side           uint8
//	48  orderType      uint8
//	49  tif            uint8
//	50  padding        uint8
//	51  priceMantissa  int64
//	59  priceExponent  int8
//	60  quantity       uint64
//	68  checksum       uint32
const (
	outOffSeq           = 0
	outOffMsgType       = 8
	outOffMsgLen        = 9
	outOffClientID      = 11
	outOffSessionID     = 19
	outOffClientTS      = 27
	outOffClientOrderID = 35
	outOffSymbolID      = 43
	outOffSide          = 47
	outOffOrderType     = 48
	outOffTIF           = 49
	outOffPriceMantissa = 51
	outOffPriceExponent = 59
	outOffQuantity      = 60
	outOffChecksum      = 68
	OutRecordLen        = 72
)

// Template is a pre-built binary order record for one (venue, symbol,
// type) tuple, per §4.8: static fields filled in at construction, then
// copied whole into an egress slot and patched at known offsets on
// submission. No allocation on the hot path after construction.
type Template struct {
	bytes [OutRecordLen]byte
}

// NewOrderTemplate builds a reusable NewOrder template for one
// (clientID, sessionID, symbolID) tuple.
func NewOrderTemplate(clientID, sessionID uint64, symbolID uint32, tif uint8) *Template {
	t := &Template{}
	binary.BigEndian.PutUint64(t.bytes[outOffClientID:], clientID)
	binary.BigEndian.PutUint64(t.bytes[outOffSessionID:], sessionID)
	binary.BigEndian.PutUint32(t.bytes[outOffSymbolID:], symbolID)
	t.bytes[outOffMsgType] = OutMsgNewOrder
	t.bytes[outOffOrderType] = 0
	t.bytes[outOffTIF] = tif
	binary.BigEndian.PutUint16(t.bytes[outOffMsgLen:], OutRecordLen)
	return t
}

// CancelTemplate builds a reusable Cancel template. Cancel messages
// share the same layout but a separate template, per §4.8.
func CancelTemplate(clientID, sessionID uint64, symbolID uint32) *Template {
	t := &Template{}
	binary.BigEndian.PutUint64(t.bytes[outOffClientID:], clientID)
	binary.BigEndian.PutUint64(t.bytes[outOffSessionID:], sessionID)
	binary.BigEndian.PutUint32(t.bytes[outOffSymbolID:], symbolID)
	t.bytes[outOffMsgType] = OutMsgCancel
	binary.BigEndian.PutUint16(t.bytes[outOffMsgLen:], OutRecordLen)
	return t
}

// Encoder patches a Template's dynamic fields into a caller-provided
// egress slot. One Encoder per outbound wire schema (tick size for
// price conversion back to the venue's decimal representation).
type Encoder struct {
	schema Schema
}

// NewEncoder builds an Encoder bound to a schema's tick size.
func NewEncoder(schema Schema) *Encoder {
	return &Encoder{schema: schema}
}

// PatchOrder copies tmpl into dst and patches the dynamic fields: seq,
// client_order_id, side, price, quantity, client_timestamp. dst must be
// at least OutRecordLen bytes. Returns the number of bytes written.
func (e *Encoder) PatchOrder(dst []byte, tmpl *Template, seq uint64, order types.Order) int {
	copy(dst, tmpl.bytes[:])

	binary.BigEndian.PutUint64(dst[outOffSeq:], seq)
	binary.BigEndian.PutUint64(dst[outOffClientOrderID:], order.ClientOrderID)
	binary.BigEndian.PutUint64(dst[outOffClientTS:], uint64(order.ClientTimestamp))

	var sideByte uint8
	if order.Side == types.Sell {
		sideByte = 1
	}
	dst[outOffSide] = sideByte
	dst[outOffOrderType] = uint8(order.Type)

	mantissa, exponent := e.encodePrice(order.Price)
	binary.BigEndian.PutUint64(dst[outOffPriceMantissa:], uint64(mantissa))
	dst[outOffPriceExponent] = byte(int8(exponent))

	binary.BigEndian.PutUint64(dst[outOffQuantity:], order.Quantity)

	checksum := crc32Checksum(dst[:outOffChecksum])
	binary.BigEndian.PutUint32(dst[outOffChecksum:], checksum)

	return OutRecordLen
}

// encodePrice converts integer ticks back to the venue's decimal
// mantissa/exponent representation using the schema's tick size.
func (e *Encoder) encodePrice(ticks types.Ticks) (int64, int32) {
	dec := decimal.New(int64(ticks), 0).Mul(e.schema.TickSize)
	coeff := dec.Coefficient()
	exp := dec.Exponent()
	return coeff.Int64(), exp
}

// crc32Checksum is a small table-free CRC-32 (IEEE) used for the
// outbound record's optional checksum field, computed over the header
// and patched fields before the checksum slot itself.
func crc32Checksum(data []byte) uint32 {
	const poly = 0xEDB88320
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
