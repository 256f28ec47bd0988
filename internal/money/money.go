// Package money holds the shared decimal conventions: amounts stay at full
// precision while they move through the pipeline and are rounded to two
// places (half up) only at display and submission boundaries.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds to 2 decimal places, halves away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// NonNegative floors a derived amount at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Percent returns base * pct / 100 at full precision.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// ClampMax caps d at max.
func ClampMax(d, max decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(max) {
		return max
	}
	return d
}
