package units

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset describes a token's human-to-integer scale
type Asset struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Mint     string `json:"mint" yaml:"mint"`
	Exponent int32  `json:"exponent" yaml:"exponent"`
}

// Validate checks the exponent bound
func (a Asset) Validate() error {
	if err := checkExponent(a.Exponent); err != nil {
		return fmt.Errorf("asset %s: %w", a.Symbol, err)
	}
	return nil
}

// ToUnits converts a human amount of this asset exactly
func (a Asset) ToUnits(v decimal.Decimal) (uint64, error) {
	return ToFixedPoint(v, a.Exponent)
}

// FromUnits converts integer units of this asset back to a human amount
func (a Asset) FromUnits(u uint64) decimal.Decimal {
	return FromFixedPoint(u, a.Exponent)
}

// Unit is the smallest representable amount, 10^-Exponent
func (a Asset) Unit() decimal.Decimal {
	return decimal.New(1, -a.Exponent)
}
