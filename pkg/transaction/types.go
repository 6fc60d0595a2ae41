package transaction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/perpgate/pkg/crypto"
)

// Kind identifies the message type on the wire
type Kind uint8

const (
	KindOrder  Kind = 1 // Place order (signed)
	KindCancel Kind = 2 // Cancel order (signed)
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Side of an order
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// PositionEffect says whether an order opens or closes exposure
type PositionEffect uint8

const (
	Open  PositionEffect = 0
	Close PositionEffect = 1
)

func (p PositionEffect) String() string {
	switch p {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return fmt.Sprintf("effect(%d)", uint8(p))
	}
}

// MarginMode selects shared or per-position collateral
type MarginMode uint8

const (
	Cross    MarginMode = 0
	Isolated MarginMode = 1
)

func (m MarginMode) String() string {
	switch m {
	case Cross:
		return "cross"
	case Isolated:
		return "isolated"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseSide accepts "buy" or "sell" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, invalidf(ErrInvalidEnum, "side %q", s)
}

// ParsePositionEffect accepts "open" or "close"; empty means open
func ParsePositionEffect(s string) (PositionEffect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return Open, nil
	case "close":
		return Close, nil
	}
	return 0, invalidf(ErrInvalidEnum, "position effect %q", s)
}

// ParseMarginMode accepts "cross" or "isolated"; empty means cross
func ParseMarginMode(s string) (MarginMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cross":
		return Cross, nil
	case "isolated":
		return Isolated, nil
	}
	return 0, invalidf(ErrInvalidEnum, "margin mode %q", s)
}

// Leverage bounds, inclusive
const (
	MinLeverage = 1
	MaxLeverage = 100
)

// MaxMarketIDLen is the largest market id the length prefix can carry
const MaxMarketIDLen = 255

var (
	ErrInvalidIntent      = errors.New("invalid intent")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrLeverageOutOfRange = errors.New("leverage out of range")
	ErrReduceOnlyOpen     = errors.New("reduce-only order cannot open a position")
	ErrInvalidMarket      = errors.New("invalid market id")
	ErrInvalidEnum        = errors.New("invalid enum value")
	ErrZeroOwner          = errors.New("missing owner")
	ErrInvalidExpiry      = errors.New("expiry before unix epoch")
)

func invalidf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidIntent, sentinel, fmt.Sprintf(format, args...))
}

// OrderIntent is a perp order in wire units, ready to encode.
// Price is in quote units, Quantity in base units.
type OrderIntent struct {
	Nonce          uint64
	Owner          crypto.PublicKey
	MarketID       string
	Side           Side
	Price          uint64
	Quantity       uint64
	Expiry         uint64 // unix seconds, 0 = no expiry
	Leverage       uint64
	PositionEffect PositionEffect
	MarginMode     MarginMode
	ReduceOnly     bool
	MarginAmount   uint64 // quote units, 0 = sequencer derives
}

// Validate checks the structural invariants that must hold before signing
func (o *OrderIntent) Validate() error {
	if err := validateCommon(o.Owner, o.MarketID); err != nil {
		return err
	}
	if o.Side > Sell {
		return invalidf(ErrInvalidEnum, "side %d", o.Side)
	}
	if o.PositionEffect > Close {
		return invalidf(ErrInvalidEnum, "position effect %d", o.PositionEffect)
	}
	if o.MarginMode > Isolated {
		return invalidf(ErrInvalidEnum, "margin mode %d", o.MarginMode)
	}
	if o.Price == 0 {
		return invalidf(ErrInvalidPrice, "got 0")
	}
	if o.Quantity == 0 {
		return invalidf(ErrInvalidQuantity, "got 0")
	}
	if o.Leverage < MinLeverage || o.Leverage > MaxLeverage {
		return invalidf(ErrLeverageOutOfRange, "%d not in [%d, %d]", o.Leverage, MinLeverage, MaxLeverage)
	}
	if o.ReduceOnly && o.PositionEffect != Close {
		return invalidf(ErrReduceOnlyOpen, "position effect %s", o.PositionEffect)
	}
	return nil
}

// CancelIntent asks the sequencer to cancel a resting order
type CancelIntent struct {
	Nonce    uint64
	Owner    crypto.PublicKey
	MarketID string
	OrderID  uint64
}

// Validate checks owner and market
func (c *CancelIntent) Validate() error {
	return validateCommon(c.Owner, c.MarketID)
}

func validateCommon(owner crypto.PublicKey, marketID string) error {
	if owner.IsZero() {
		return invalidf(ErrZeroOwner, "owner is the zero key")
	}
	if marketID == "" {
		return invalidf(ErrInvalidMarket, "empty")
	}
	if len(marketID) > MaxMarketIDLen {
		return invalidf(ErrInvalidMarket, "%d bytes exceeds %d", len(marketID), MaxMarketIDLen)
	}
	return nil
}
