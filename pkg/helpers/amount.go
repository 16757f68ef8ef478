// Package helpers - amount conversion between base units and decimal strings.
package helpers

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount(100000000, 8) returns "1" (1 BTC).
func FormatAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// ParseAmount parses a decimal string to smallest units, truncating any
// precision beyond the chain's decimals.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("negative amount: %s", s)
	}

	base := d.Shift(int32(decimals)).Truncate(0)
	bi := base.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}
	return bi.Uint64(), nil
}

// BaseUnitsToDecimal converts an amount in smallest units to a decimal value.
func BaseUnitsToDecimal(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// BigBaseUnitsToDecimal converts a *big.Int base-unit amount to a decimal value.
// Used for EVM balances which can exceed uint64.
func BigBaseUnitsToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
