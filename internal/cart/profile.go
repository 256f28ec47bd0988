package cart

import (
	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/pricing"
)

// PriceField selects which product price seeds a new line.
type PriceField int

const (
	PriceStandard PriceField = iota
	PriceCost
	PriceAverage
)

// Profile parametrizes one register context. The same cart engine serves
// every screen; only the knobs differ.
type Profile struct {
	Name            string
	TaxPolicy       pricing.TaxPolicy
	TaxRate         decimal.Decimal
	PriceField      PriceField
	EnforceStock    bool
	IntegerQuantity bool
	RateEditable    bool
	LineTaxEditable bool
	VoucherKind     string
	VoucherPrefix   string
}

// UnitPrice picks the profile's price field off a product.
func (p Profile) UnitPrice(prod domain.Product) decimal.Decimal {
	switch p.PriceField {
	case PriceCost:
		return prod.StdCost
	case PriceAverage:
		return prod.AvgCost
	default:
		return prod.StdPrice
	}
}

// POSSale is the front-register profile: per-line derived tax, standard
// prices, whole-unit quantities, stock enforced.
func POSSale(taxRate decimal.Decimal) Profile {
	return Profile{
		Name:            "pos",
		TaxPolicy:       pricing.TaxPerLine,
		TaxRate:         taxRate,
		PriceField:      PriceStandard,
		EnforceStock:    true,
		IntegerQuantity: true,
		VoucherKind:     domain.VoucherPOSSale,
		VoucherPrefix:   "SO",
	}
}

// EditSale mirrors POSSale but lets the operator override per-line tax.
func EditSale(taxRate decimal.Decimal) Profile {
	p := POSSale(taxRate)
	p.Name = "edit_sale"
	p.LineTaxEditable = true
	return p
}

// PurchaseOrder builds receiving carts: cost prices, fractional quantities,
// editable rates, no tax and no stock ceiling.
func PurchaseOrder() Profile {
	return Profile{
		Name:          "purchase_order",
		TaxPolicy:     pricing.TaxNone,
		PriceField:    PriceCost,
		RateEditable:  true,
		VoucherKind:   domain.VoucherPurchaseOrder,
		VoucherPrefix: "PO",
	}
}

// SalesReturn prices lines at average cost and taxes the undiscounted
// subtotal.
func SalesReturn(taxRate decimal.Decimal) Profile {
	return Profile{
		Name:          "sales_return",
		TaxPolicy:     pricing.TaxPreDiscount,
		TaxRate:       taxRate,
		PriceField:    PriceAverage,
		RateEditable:  true,
		VoucherKind:   domain.VoucherSalesReturn,
		VoucherPrefix: "SR",
	}
}

// Profiles returns the register table keyed by profile name.
func Profiles(taxRate decimal.Decimal) map[string]Profile {
	table := map[string]Profile{}
	for _, p := range []Profile{POSSale(taxRate), EditSale(taxRate), PurchaseOrder(), SalesReturn(taxRate)} {
		table[p.Name] = p
	}
	return table
}
