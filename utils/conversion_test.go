package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionbridge/swapd/money"
)

func TestSafeInt64ToMoney(t *testing.T) {
	m, err := SafeInt64ToMoney(42)
	require.NoError(t, err)
	assert.Equal(t, money.Money(42), m)

	_, err = SafeInt64ToMoney(-1)
	assert.ErrorContains(t, err, "negative")
}

func TestSafeMoneyToInt64(t *testing.T) {
	n, err := SafeMoneyToInt64(money.Money(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = SafeMoneyToInt64(money.Money(1) << 63)
	assert.ErrorContains(t, err, "exceeds int64 maximum")
}

func TestSafeDecimalToMoney(t *testing.T) {
	m, err := SafeDecimalToMoney(decimal.RequireFromString("123.9"))
	require.NoError(t, err)
	assert.Equal(t, money.Money(123), m)

	_, err = SafeDecimalToMoney(decimal.RequireFromString("-0.5"))
	assert.ErrorContains(t, err, "negative")

	_, err = SafeDecimalToMoney(decimal.RequireFromString("18446744073709551616"))
	assert.ErrorContains(t, err, "exceeds uint64 range")
}
