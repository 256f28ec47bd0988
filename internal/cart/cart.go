// Package cart implements the register cart: an ordered set of line items
// whose aggregates are recomputed in full after every mutation.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/pricing"
)

var (
	ErrOutOfStock      = errors.New("item is out of stock")
	ErrStockExceeded   = errors.New("quantity exceeds available stock")
	ErrInvalidQuantity = errors.New("quantity must be a whole number")
	ErrInvalidRate     = errors.New("rate must not be negative")
	ErrInvalidLineTax  = errors.New("line tax must not be negative")
	ErrInvalidDiscount = errors.New("discount must not be negative")
	ErrRateLocked      = errors.New("rate is not editable in this register")
	ErrLineTaxLocked   = errors.New("line tax is not editable in this register")
	ErrLineNotFound    = errors.New("line item not found")
)

var one = decimal.NewFromInt(1)

// Cart holds the lines in insertion order. It is not safe for concurrent
// use; the session layer serializes access.
type Cart struct {
	profile     Profile
	items       []domain.LineItem
	discount    domain.DiscountSpec
	totals      domain.Totals
	counter     int
	subscribers []func(domain.Totals)
}

func New(profile Profile) *Cart {
	c := &Cart{profile: profile}
	c.recompute()
	return c
}

func (c *Cart) Profile() Profile { return c.profile }

// Subscribe registers a callback invoked with the fresh totals after every
// recompute.
func (c *Cart) Subscribe(fn func(domain.Totals)) {
	c.subscribers = append(c.subscribers, fn)
}

// AddOrIncrement appends the product with quantity 1, or bumps the existing
// line's quantity by 1. Stock-enforced profiles reject additions past the
// tracked stock and leave the cart untouched.
func (c *Cart) AddOrIncrement(p domain.Product) error {
	tracked := c.profile.EnforceStock && p.TrackStock

	if idx := c.find(p.ItemCode); idx >= 0 {
		line := &c.items[idx]
		next := line.Quantity.Add(one)
		if line.AvailableStock != nil && next.GreaterThan(*line.AvailableStock) {
			return ErrStockExceeded
		}
		line.Quantity = next
		c.recompute()
		return nil
	}

	if tracked && !p.Stock.IsPositive() {
		return ErrOutOfStock
	}

	line := domain.LineItem{
		ItemCode:      p.ItemCode,
		Description:   p.Description,
		UnitOfMeasure: p.UnitOfMeasure,
		UnitPrice:     c.profile.UnitPrice(p),
		Quantity:      one,
	}
	if tracked {
		stock := p.Stock
		line.AvailableStock = &stock
	}
	c.items = append(c.items, line)
	c.counter++
	c.recompute()
	return nil
}

// SetQuantity replaces a line's quantity. Zero or negative removes the line.
// A quantity above the tracked stock is rejected and the previous quantity
// kept.
func (c *Cart) SetQuantity(itemCode string, qty decimal.Decimal) error {
	idx := c.find(itemCode)
	if idx < 0 {
		return ErrLineNotFound
	}
	if !qty.IsPositive() {
		c.Remove(itemCode)
		return nil
	}
	if c.profile.IntegerQuantity && !qty.IsInteger() {
		return ErrInvalidQuantity
	}
	line := &c.items[idx]
	if line.AvailableStock != nil && qty.GreaterThan(*line.AvailableStock) {
		return ErrStockExceeded
	}
	line.Quantity = qty
	c.recompute()
	return nil
}

// SetRate overrides a line's unit price on rate-editable registers.
func (c *Cart) SetRate(itemCode string, rate decimal.Decimal) error {
	if !c.profile.RateEditable {
		return ErrRateLocked
	}
	if rate.IsNegative() {
		return ErrInvalidRate
	}
	idx := c.find(itemCode)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.items[idx].UnitPrice = rate
	c.recompute()
	return nil
}

// SetLineTax overrides a line's tax amount where the register allows it.
// The override sticks until the line is removed; recomputes keep it.
func (c *Cart) SetLineTax(itemCode string, tax decimal.Decimal) error {
	if !c.profile.LineTaxEditable {
		return ErrLineTaxLocked
	}
	if tax.IsNegative() {
		return ErrInvalidLineTax
	}
	idx := c.find(itemCode)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.items[idx].LineTax = tax
	c.items[idx].LineTaxEdited = true
	c.recompute()
	return nil
}

// Remove drops a line. Removing an absent code is a no-op.
func (c *Cart) Remove(itemCode string) {
	idx := c.find(itemCode)
	if idx < 0 {
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.recompute()
}

// Clear empties the cart and zeroes every aggregate.
func (c *Cart) Clear() {
	c.items = nil
	c.discount = domain.DiscountSpec{}
	c.recompute()
}

// SetDiscount replaces the cart-level discount. Negative components are
// rejected; the pipeline clamps the combined amount to the subtotal.
func (c *Cart) SetDiscount(d domain.DiscountSpec) error {
	if d.FixedAmount.IsNegative() || d.Percent.IsNegative() {
		return ErrInvalidDiscount
	}
	c.discount = d
	c.recompute()
	return nil
}

func (c *Cart) Discount() domain.DiscountSpec { return c.discount }

func (c *Cart) Totals() domain.Totals { return c.totals }

func (c *Cart) Len() int { return len(c.items) }

// ItemCount sums line quantities.
func (c *Cart) ItemCount() decimal.Decimal {
	count := decimal.Zero
	for _, item := range c.items {
		count = count.Add(item.Quantity)
	}
	return count
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []domain.LineItem {
	return copyItems(c.items)
}

// Snapshot captures the cart for hold/resume and draft mirroring.
func (c *Cart) Snapshot() domain.CartSnapshot {
	return domain.CartSnapshot{
		Items:    copyItems(c.items),
		Discount: c.discount,
		Counter:  c.counter,
	}
}

// Restore replaces the cart contents with a snapshot and recomputes.
func (c *Cart) Restore(snap domain.CartSnapshot) {
	c.items = copyItems(snap.Items)
	c.discount = snap.Discount
	c.counter = snap.Counter
	c.recompute()
}

func (c *Cart) find(itemCode string) int {
	for i, item := range c.items {
		if item.ItemCode == itemCode {
			return i
		}
	}
	return -1
}

// recompute refreshes line totals, rederives non-overridden line tax, runs
// the pricing pipeline and notifies subscribers. Every mutation funnels
// through here so aggregates can never drift from the lines.
func (c *Cart) recompute() {
	for i := range c.items {
		line := &c.items[i]
		line.LineTotal = line.UnitPrice.Mul(line.Quantity)
		switch {
		case c.profile.TaxPolicy == pricing.TaxNone:
			line.LineTax = decimal.Zero
		case line.LineTaxEdited && c.profile.LineTaxEditable:
			// keep the operator's figure
		default:
			line.LineTax = pricing.LineTax(line.UnitPrice, line.Quantity, c.profile.TaxRate)
		}
	}
	c.totals = pricing.Compute(c.items, c.discount, c.profile.TaxPolicy, c.profile.TaxRate)
	for _, fn := range c.subscribers {
		fn(c.totals)
	}
}

func copyItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].AvailableStock != nil {
			stock := *out[i].AvailableStock
			out[i].AvailableStock = &stock
		}
	}
	return out
}
