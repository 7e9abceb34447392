package utils

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/money"
)

// SafeInt64ToMoney safely converts int64 to money, returning an error for negative amounts
func SafeInt64ToMoney(value int64) (money.Money, error) {
	if value < 0 {
		return 0, fmt.Errorf("amount %d is negative", value)
	}

	return money.Money(value), nil
}

// SafeMoneyToInt64 safely converts money to int64, returning an error if overflow would occur
func SafeMoneyToInt64(value money.Money) (int64, error) {
	if uint64(value) > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds int64 maximum %d", value, int64(math.MaxInt64))
	}

	return int64(value), nil //nolint:gosec // Conversion is safe after overflow check
}

// SafeDecimalToMoney floors a decimal amount to whole base units, returning an
// error for negative amounts or amounts outside the uint64 range.
func SafeDecimalToMoney(value decimal.Decimal) (money.Money, error) {
	if value.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", value)
	}
	floored := value.Floor().BigInt()
	if !floored.IsUint64() {
		return 0, fmt.Errorf("amount %s exceeds uint64 range", value)
	}

	return money.Money(floored.Uint64()), nil
}
