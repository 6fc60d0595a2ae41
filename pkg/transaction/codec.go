package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/uhyunpark/perpgate/pkg/crypto"
)

// Wire layout, little-endian fixed width integers:
//
//	order  v1: version u8 | kind u8 | nonce u64 | owner [32] | market_len u8 | market
//	           | side u8 | price u64 | quantity u64 | expiry u64 | leverage u64
//	           | position_effect u8 | margin_mode u8 | reduce_only u8 | margin_amount u64
//	cancel v1: version u8 | kind u8 | nonce u64 | owner [32] | market_len u8 | market
//	           | order_id u64
//
// Fields are written in this fixed order regardless of how the intent was
// populated, so equal intents always produce equal bytes.

// Version is the current codec version
const Version uint8 = 1

const headerSize = 1 + 1 + 8 + crypto.PublicKeySize + 1

var (
	ErrEncodingInvariant = errors.New("encoding invariant violated")
	ErrMalformed         = errors.New("malformed message")
)

// EncodeOrder returns the canonical bytes of an order intent
func EncodeOrder(o *OrderIntent) ([]byte, error) {
	if o.Side > Sell || o.PositionEffect > Close || o.MarginMode > Isolated {
		return nil, fmt.Errorf("%w: enum out of range", ErrEncodingInvariant)
	}
	buf, err := appendHeader(make([]byte, 0, headerSize+len(o.MarketID)+44), KindOrder, o.Nonce, o.Owner, o.MarketID)
	if err != nil {
		return nil, err
	}

	buf = append(buf, uint8(o.Side))
	buf = binary.LittleEndian.AppendUint64(buf, o.Price)
	buf = binary.LittleEndian.AppendUint64(buf, o.Quantity)
	buf = binary.LittleEndian.AppendUint64(buf, o.Expiry)
	buf = binary.LittleEndian.AppendUint64(buf, o.Leverage)
	buf = append(buf, uint8(o.PositionEffect), uint8(o.MarginMode), boolByte(o.ReduceOnly))
	buf = binary.LittleEndian.AppendUint64(buf, o.MarginAmount)
	return buf, nil
}

// EncodeCancel returns the canonical bytes of a cancel intent
func EncodeCancel(c *CancelIntent) ([]byte, error) {
	buf, err := appendHeader(make([]byte, 0, headerSize+len(c.MarketID)+8), KindCancel, c.Nonce, c.Owner, c.MarketID)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint64(buf, c.OrderID), nil
}

func appendHeader(buf []byte, kind Kind, nonce uint64, owner crypto.PublicKey, market string) ([]byte, error) {
	if len(market) == 0 || len(market) > MaxMarketIDLen {
		return nil, fmt.Errorf("%w: market id length %d", ErrEncodingInvariant, len(market))
	}
	buf = append(buf, Version, uint8(kind))
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = append(buf, owner[:]...)
	buf = append(buf, uint8(len(market)))
	return append(buf, market...), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// PeekKind reads the version and kind without decoding the body
func PeekKind(b []byte) (Kind, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0] != Version {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrMalformed, b[0])
	}
	k := Kind(b[1])
	if k != KindOrder && k != KindCancel {
		return 0, fmt.Errorf("%w: unknown kind %d", ErrMalformed, b[1])
	}
	return k, nil
}

// DecodeOrder is the strict inverse of EncodeOrder
func DecodeOrder(b []byte) (*OrderIntent, error) {
	r := reader{buf: b}
	var o OrderIntent
	r.header(KindOrder, &o.Nonce, &o.Owner, &o.MarketID)
	o.Side = Side(r.enum(uint8(Sell)))
	o.Price = r.u64()
	o.Quantity = r.u64()
	o.Expiry = r.u64()
	o.Leverage = r.u64()
	o.PositionEffect = PositionEffect(r.enum(uint8(Close)))
	o.MarginMode = MarginMode(r.enum(uint8(Isolated)))
	o.ReduceOnly = r.enum(1) == 1
	o.MarginAmount = r.u64()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &o, nil
}

// DecodeCancel is the strict inverse of EncodeCancel
func DecodeCancel(b []byte) (*CancelIntent, error) {
	r := reader{buf: b}
	var c CancelIntent
	r.header(KindCancel, &c.Nonce, &c.Owner, &c.MarketID)
	c.OrderID = r.u64()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// reader keeps the first error and turns later reads into no-ops
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: short input at offset %d", ErrMalformed, r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) enum(limit uint8) uint8 {
	off := r.off
	v := r.u8()
	if r.err == nil && v > limit {
		r.err = fmt.Errorf("%w: value %d at offset %d", ErrMalformed, v, off)
	}
	return v
}

func (r *reader) header(want Kind, nonce *uint64, owner *crypto.PublicKey, market *string) {
	kind, err := PeekKind(r.buf)
	if err != nil {
		r.err = err
		return
	}
	if kind != want {
		r.err = fmt.Errorf("%w: expected %s, got %s", ErrMalformed, want, kind)
		return
	}
	r.off = 2
	*nonce = r.u64()
	copy(owner[:], r.take(crypto.PublicKeySize))
	n := int(r.u8())
	if r.err == nil && n == 0 {
		r.err = fmt.Errorf("%w: empty market id", ErrMalformed)
	}
	*market = string(r.take(n))
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return nil
}
