package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Money is a token amount expressed in the smallest indivisible unit of its
// asset (wei, microalgo, satoshi, ...). The engine never deals in display
// units; conversions happen at the API boundary.
type Money uint64

// ErrNegativeAmount is returned when trying to create a Money with a negative amount.
var ErrNegativeAmount = errors.New("amount cannot be negative")

// NewFromDecimal converts a base-unit decimal into Money, truncating any
// fractional part. Base units are indivisible, so a fraction here is a caller
// bug upstream and not worth an error.
func NewFromDecimal(amount decimal.Decimal) (Money, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}

	return Money(amount.IntPart()), nil // nolint:gosec
}

// Decimal returns the amount as a decimal for rate arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromUint64(uint64(m))
}

// ApplyRate converts a source-asset amount into the destination asset at the
// given rate, truncating to base units.
func (m Money) ApplyRate(rate decimal.Decimal) (Money, error) {
	return NewFromDecimal(m.Decimal().Mul(rate))
}

// Sub subtracts n from m, clamping at zero. Remaining-amount arithmetic must
// never underflow a uint64.
func (m Money) Sub(n Money) Money {
	if n >= m {
		return 0
	}

	return m - n
}

// Min returns the smaller of the two amounts.
func Min(a, b Money) Money {
	if a < b {
		return a
	}

	return b
}
