package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/perpgate/pkg/units"
)

var (
	ErrUnknownMarket   = errors.New("unknown market")
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrExponentChanged = errors.New("asset exponent changed within session")
	ErrInvalidMarket   = errors.New("invalid market")
)

// Well-known mints
const (
	SOLMint         = "So11111111111111111111111111111111111111112"
	USDCMint        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	TestnetSOLMint  = "11111111111111111111111111111112"
	TestnetUSDCMint = "11111111111111111111111111111113"
)

// DefaultAssets are registered with every new registry
func DefaultAssets() []units.Asset {
	return []units.Asset{
		{Symbol: "SOL", Mint: SOLMint, Exponent: 9},
		{Symbol: "USDC", Mint: USDCMint, Exponent: 6},
		{Symbol: "SOL", Mint: TestnetSOLMint, Exponent: 9},
		{Symbol: "USDC", Mint: TestnetUSDCMint, Exponent: 6},
	}
}

// Market is a perp market with its base and quote scales.
// Prices are quoted in Quote units, quantities in Base units.
type Market struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Kind         string      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Base         units.Asset `json:"base" yaml:"base"`
	Quote        units.Asset `json:"quote" yaml:"quote"`
	BaseLotSize  uint64      `json:"base_lot_size,omitempty" yaml:"base_lot_size,omitempty"`
	QuoteLotSize uint64      `json:"quote_lot_size,omitempty" yaml:"quote_lot_size,omitempty"`
}

// Validate checks id and both asset exponents
func (m *Market) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMarket)
	}
	if err := m.Base.Validate(); err != nil {
		return fmt.Errorf("%w: %s base: %w", ErrInvalidMarket, m.ID, err)
	}
	if err := m.Quote.Validate(); err != nil {
		return fmt.Errorf("%w: %s quote: %w", ErrInvalidMarket, m.ID, err)
	}
	return nil
}

// PriceUnits converts a human price to quote units
func (m *Market) PriceUnits(price decimal.Decimal) (uint64, error) {
	return m.Quote.ToUnits(price)
}

// QuantityUnits converts a human quantity to base units
func (m *Market) QuantityUnits(qty decimal.Decimal) (uint64, error) {
	return m.Base.ToUnits(qty)
}

// Price converts quote units back to a human price
func (m *Market) Price(u uint64) decimal.Decimal {
	return m.Quote.FromUnits(u)
}

// Quantity converts base units back to a human quantity
func (m *Market) Quantity(u uint64) decimal.Decimal {
	return m.Base.FromUnits(u)
}

// MarginUnits derives the quote-unit margin for an order at the given leverage
func (m *Market) MarginUnits(price, quantity, leverage uint64) (uint64, error) {
	return units.MarginAmount(price, quantity, m.Base.Exponent, leverage)
}

func (m *Market) String() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
