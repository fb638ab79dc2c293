package wire

import (
	"encoding/binary"
	"testing"

	"tick2trade/pkg/types"
)

func testSchema(t *testing.T) Schema {
	t.Helper()
	s, err := NewSchema(1, "0.01")
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	return s
}

func encodeTestAdd(seq uint64, side uint8, priceMantissa int64, priceExp int8, size uint64) []byte {
	buf := make([]byte, headerLen)
	buf[0] = msgAdd
	binary.BigEndian.PutUint64(buf[1:9], seq)
	binary.BigEndian.PutUint16(buf[9:11], 1)
	binary.BigEndian.PutUint64(buf[11:19], 123456)
	buf[19] = side
	binary.BigEndian.PutUint64(buf[20:28], uint64(priceMantissa))
	buf[28] = byte(priceExp)
	binary.BigEndian.PutUint64(buf[29:37], size)
	binary.BigEndian.PutUint64(buf[37:45], 777)
	buf[45] = 1
	return buf
}

func TestDecodeAdd(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testSchema(t))
	// price 1.00, tick size 0.01 -> 100 ticks
	buf := encodeTestAdd(5, 0, 100, -2, 10)

	ev, err := d.Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.Kind != types.EventAdd {
		t.Errorf("Kind = %v, want EventAdd", ev.Kind)
	}
	if ev.Seq != 5 {
		t.Errorf("Seq = %d, want 5", ev.Seq)
	}
	if ev.Price != 100 {
		t.Errorf("Price = %d ticks, want 100", ev.Price)
	}
	if ev.Size != 10 {
		t.Errorf("Size = %d, want 10", ev.Size)
	}
	if !ev.HasOrder || ev.OrderID != 777 {
		t.Errorf("OrderID = %d, HasOrder = %v, want 777, true", ev.OrderID, ev.HasOrder)
	}
}

func TestDecodeTruncatedPacketIsMalformed(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testSchema(t))
	buf := encodeTestAdd(5, 0, 100, -2, 10)
	_, err := d.Decode(buf[:headerLen-1])
	if err != ErrDecodeMalformed {
		t.Errorf("Decode() error = %v, want ErrDecodeMalformed", err)
	}
}

func TestDecodeUnknownMessageTypeIsMalformed(t *testing.T) {
	t.Parallel()

	d := NewDecoder(testSchema(t))
	buf := encodeTestAdd(5, 0, 100, -2, 10)
	buf[0] = 99
	_, err := d.Decode(buf)
	if err != ErrDecodeMalformed {
		t.Errorf("Decode() error = %v, want ErrDecodeMalformed", err)
	}
}

func TestEncodeDecodeOrderRoundTrips(t *testing.T) {
	t.Parallel()

	schema := testSchema(t)
	enc := NewEncoder(schema)
	tmpl := NewOrderTemplate(1, 2, 42, 0)

	order := types.Order{
		ClientOrderID:   99,
		VenueID:         1,
		Side:            types.Sell,
		Price:           150, // 1.50 at tick 0.01
		Quantity:        25,
		Type:            types.OrderLimitGTC,
		ClientTimestamp: 1000,
		SymbolID:        42,
	}

	dst := make([]byte, OutRecordLen)
	n := enc.PatchOrder(dst, tmpl, 7, order)
	if n != OutRecordLen {
		t.Fatalf("PatchOrder() wrote %d bytes, want %d", n, OutRecordLen)
	}

	if got := binary.BigEndian.Uint64(dst[outOffSeq:]); got != 7 {
		t.Errorf("seq = %d, want 7", got)
	}
	if got := binary.BigEndian.Uint64(dst[outOffClientOrderID:]); got != 99 {
		t.Errorf("client_order_id = %d, want 99", got)
	}
	if dst[outOffSide] != 1 {
		t.Errorf("side byte = %d, want 1 (sell)", dst[outOffSide])
	}
	if got := binary.BigEndian.Uint64(dst[outOffQuantity:]); got != 25 {
		t.Errorf("quantity = %d, want 25", got)
	}

	// Round-trip price through the decoder's decodePrice to confirm exact
	// reconstruction through the decimal boundary.
	d := NewDecoder(schema)
	priceField := make([]byte, 9)
	copy(priceField, dst[outOffPriceMantissa:outOffPriceMantissa+8])
	priceField[8] = dst[outOffPriceExponent]
	gotTicks, err := d.decodePrice(priceField)
	if err != nil {
		t.Fatalf("decodePrice() error = %v", err)
	}
	if gotTicks != order.Price {
		t.Errorf("round-tripped price = %d ticks, want %d", gotTicks, order.Price)
	}
}
