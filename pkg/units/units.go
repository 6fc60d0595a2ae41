// Package units converts between human decimal amounts and the fixed-point
// integers carried on the wire.
//
// Floats are accepted only through FromFloat, which turns them into their
// shortest decimal form once. Everything downstream works on decimal.Decimal
// or uint64 and never re-rounds.
package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxExponent bounds asset exponents; 10^30 already exceeds the uint64 range
const MaxExponent = 30

var (
	ErrPrecisionLoss  = errors.New("precision loss")
	ErrOverflow       = errors.New("value overflows uint64")
	ErrInvalidRange   = errors.New("value out of range")
	ErrInvalidDecimal = errors.New("invalid decimal")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Converter performs fixed-point conversion with a tolerance.
// Epsilon is in human units; the zero value demands exact representation.
type Converter struct {
	Epsilon decimal.Decimal
}

// Exact is the default converter: any truncation is an error
var Exact = Converter{}

// ToFixedPoint converts with the exact converter
func ToFixedPoint(v decimal.Decimal, exp int32) (uint64, error) {
	return Exact.ToFixedPoint(v, exp)
}

// ToFixedPoint returns round(v * 10^exp), rounding half away from zero.
// The rounding is only accepted when it moves v by at most c.Epsilon.
func (c Converter) ToFixedPoint(v decimal.Decimal, exp int32) (uint64, error) {
	if err := checkExponent(exp); err != nil {
		return 0, err
	}
	if v.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidRange, v)
	}

	scaled := v.Shift(exp)
	rounded := scaled.Round(0)

	if !rounded.Equal(scaled) {
		loss := scaled.Sub(rounded).Abs().Shift(-exp)
		if loss.GreaterThan(c.Epsilon.Abs()) {
			return 0, fmt.Errorf("%w: %s needs more than %d decimals", ErrPrecisionLoss, v, exp)
		}
	}

	if rounded.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("%w: %s at exponent %d", ErrOverflow, v, exp)
	}
	return rounded.BigInt().Uint64(), nil
}

// FromFixedPoint is the exact inverse of ToFixedPoint
func FromFixedPoint(u uint64, exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), -exp)
}

// FromFloat converts a float to its shortest round-tripping decimal.
// This is the only place a float enters the pipeline.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidRange, f)
	}
	return decimal.NewFromFloat(f), nil
}

// ParseDecimal parses a human decimal string such as "185.50"
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return d, nil
}

// MarginAmount returns floor(price * quantity / 10^baseExp / leverage).
// price is in quote units and quantity in base units, so the result is the
// quote-unit collateral backing the order.
func MarginAmount(price, quantity uint64, baseExp int32, leverage uint64) (uint64, error) {
	if err := checkExponent(baseExp); err != nil {
		return 0, err
	}
	if leverage == 0 {
		return 0, fmt.Errorf("%w: leverage must be positive", ErrInvalidRange)
	}

	notional := new(big.Int).Mul(new(big.Int).SetUint64(price), new(big.Int).SetUint64(quantity))
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseExp)), nil)
	divisor.Mul(divisor, new(big.Int).SetUint64(leverage))

	margin := notional.Quo(notional, divisor)
	if !margin.IsUint64() {
		return 0, fmt.Errorf("%w: margin for price %d quantity %d", ErrOverflow, price, quantity)
	}
	return margin.Uint64(), nil
}

func checkExponent(exp int32) error {
	if exp < 0 || exp > MaxExponent {
		return fmt.Errorf("%w: exponent %d not in [0, %d]", ErrInvalidRange, exp, MaxExponent)
	}
	return nil
}
