// Package pricing computes cart aggregates. The pipeline is always a full
// recompute from the line items; nothing is maintained incrementally.
package pricing

import (
	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/money"
)

// TaxPolicy selects how total tax is derived.
type TaxPolicy int

const (
	// TaxNone charges no tax (purchase orders).
	TaxNone TaxPolicy = iota
	// TaxPreDiscount applies the flat rate to the undiscounted subtotal,
	// so the discount never reduces the tax base.
	TaxPreDiscount
	// TaxPerLine sums the per-line tax amounts carried on the items.
	TaxPerLine
)

// Compute runs the pipeline: subtotal, clamped discount, tax per policy,
// grand total. Intermediate values stay at full precision; each Totals field
// is rounded to 2 decimals on the way out.
func Compute(items []domain.LineItem, disc domain.DiscountSpec, policy TaxPolicy, taxRate decimal.Decimal) domain.Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(item.Quantity))
	}

	discount := money.NonNegative(disc.FixedAmount).Add(money.Percent(subtotal, money.NonNegative(disc.Percent)))
	discount = money.ClampMax(discount, subtotal)
	discounted := money.NonNegative(subtotal.Sub(discount))

	tax := decimal.Zero
	switch policy {
	case TaxPreDiscount:
		tax = money.Percent(subtotal, taxRate)
	case TaxPerLine:
		for _, item := range items {
			tax = tax.Add(item.LineTax)
		}
	}

	return domain.Totals{
		Subtotal:           money.Round2(subtotal),
		DiscountAmount:     money.Round2(discount),
		DiscountedSubtotal: money.Round2(discounted),
		TotalTax:           money.Round2(tax),
		GrandTotal:         money.Round2(discounted.Add(tax)),
	}
}

// LineTax derives the default per-line tax for the given rate.
func LineTax(unitPrice, qty, taxRate decimal.Decimal) decimal.Decimal {
	return money.Percent(unitPrice.Mul(qty), taxRate)
}
