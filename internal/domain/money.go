package domain

import "github.com/shopspring/decimal"

var (
	half    = decimal.RequireFromString("0.5")
	hundred = decimal.NewFromInt(100)
	// Cent is the smallest monetary step and the tolerance used when comparing tender sums.
	Cent = decimal.RequireFromString("0.01")
)

// Round2 rounds a monetary amount to two decimal places, halves toward positive infinity.
// Every rounding step in pricing goes through this function.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(2).Add(half).Floor().Shift(-2)
}

// Percent converts a percentage such as 8 into the multiplier 0.08.
func Percent(value decimal.Decimal) decimal.Decimal {
	return value.Div(hundred)
}

// NonNegative clamps negative amounts to zero.
func NonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// ClampPercent keeps a percentage inside [0, 100].
func ClampPercent(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	if value.GreaterThan(hundred) {
		return hundred
	}
	return value
}

// WithinCent reports whether two amounts differ by at most one cent.
func WithinCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Cent)
}
