// Package money centralizes monetary and multiplier arithmetic.
// All amounts are shopspring decimals rounded to two places; float64 is
// never used for balance-bearing values.
package money

import (
	"github.com/shopspring/decimal"
)

const Places = 2

func init() {
	// Amounts travel as JSON numbers on the wire, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Round normalizes a value to two decimal places, half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FromFloat converts a client-supplied float into a two-place amount.
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}

// Payout computes wager * multiplier * (1 - rake), rounded to two places.
func Payout(wager, multiplier, rake decimal.Decimal) decimal.Decimal {
	return Round(wager.Mul(multiplier).Mul(One.Sub(rake)))
}

// Profit is the payout of a won bet minus its wager.
func Profit(wager, multiplier, rake decimal.Decimal) decimal.Decimal {
	return Payout(wager, multiplier, rake).Sub(wager)
}

// Cents converts a two-place amount to an integer cents value for storage.
func Cents(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// FromCents converts a stored cents value back into a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -Places)
}
