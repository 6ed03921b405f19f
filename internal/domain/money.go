package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// RoundFiat rounds a fiat amount to 2 decimal places, half up. Applied only
// at the USD/NGN boundary; crypto amounts keep full precision until they are
// converted to token units for on-chain submission.
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts a fiat amount to its integer minor unit (kobo for
// NGN), rounding half up.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ToTokenUnits scales an amount into on-chain integer units for a token with
// the given number of decimals.
func ToTokenUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Round(0).BigInt()
}

// FromTokenUnits converts raw on-chain units back into a decimal amount.
func FromTokenUnits(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(-decimals)
}

// ApplyPercentage returns base * pct / 100.
func ApplyPercentage(base decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(decimal.NewFromInt(100))
}
