package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at the register.
const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentCredit = "credit"
)

// Voucher kinds. The kind decides the number series and the stock direction:
// sales decrement on-hand stock, purchases and returns increment it.
const (
	VoucherPOSSale       = "pos_sale"
	VoucherPurchaseOrder = "purchase_order"
	VoucherSalesReturn   = "sales_return"
)

// Voucher statuses.
const (
	VoucherStatusDraft     = "draft"
	VoucherStatusConfirmed = "confirmed"
	VoucherStatusDeleted   = "deleted"
)

type Product struct {
	ItemCode      string          `json:"item_code"`
	Description   string          `json:"description"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	Barcode       string          `json:"barcode,omitempty"`
	StdPrice      decimal.Decimal `json:"std_price"`
	StdCost       decimal.Decimal `json:"std_cost"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Stock         decimal.Decimal `json:"stock"`
	TrackStock    bool            `json:"track_stock"`
	Active        bool            `json:"active"`
}

// LineItem is one cart row. AvailableStock is nil when the register context
// does not enforce stock (purchase orders, returns) or the product is
// untracked. LineTaxEdited marks a manual override that recomputes must not
// clobber.
type LineItem struct {
	ItemCode       string           `json:"item_code"`
	Description    string           `json:"description"`
	UnitOfMeasure  string           `json:"unit_of_measure"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	Quantity       decimal.Decimal  `json:"quantity"`
	AvailableStock *decimal.Decimal `json:"available_stock,omitempty"`
	LineTax        decimal.Decimal  `json:"line_tax"`
	LineTaxEdited  bool             `json:"line_tax_edited,omitempty"`
	LineTotal      decimal.Decimal  `json:"line_total"`
}

type DiscountSpec struct {
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	Percent     decimal.Decimal `json:"percent"`
}

func (d DiscountSpec) IsZero() bool {
	return d.FixedAmount.IsZero() && d.Percent.IsZero()
}

// Totals is the pricing pipeline output, rounded to 2 decimals.
type Totals struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountedSubtotal decimal.Decimal `json:"discounted_subtotal"`
	TotalTax           decimal.Decimal `json:"total_tax"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
}

// PaymentState is the reconciliation snapshot shown next to the cart.
// CashPortionDue and ReturnAmount are derived, never stored authoritatively.
type PaymentState struct {
	Method         string          `json:"method"`
	CardAmount     decimal.Decimal `json:"card_amount"`
	PayAmount      decimal.Decimal `json:"pay_amount"`
	PayEdited      bool            `json:"pay_edited,omitempty"`
	CardNumber     string          `json:"card_number,omitempty"`
	BankName       string          `json:"bank_name,omitempty"`
	CashPortionDue decimal.Decimal `json:"cash_portion_due"`
	ReturnAmount   decimal.Decimal `json:"return_amount"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// CartSnapshot captures the mutable cart state for hold/resume and for the
// draft mirror. Counter preserves insertion order across restores.
type CartSnapshot struct {
	Items    []LineItem   `json:"items"`
	Discount DiscountSpec `json:"discount"`
	Counter  int          `json:"counter"`
}

type HeldTransaction struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	Register string          `json:"register"`
	Cart     CartSnapshot    `json:"cart"`
	Payment  PaymentState    `json:"payment"`
	Customer Customer        `json:"customer"`
	Notes    string          `json:"notes,omitempty"`
	Total    decimal.Decimal `json:"total"`
	HeldAt   time.Time       `json:"held_at"`
	HeldBy   string          `json:"held_by,omitempty"`
}

// CartDraft is the durable mirror of an open session, written after every
// mutation and reloaded on session open. Last write wins.
type CartDraft struct {
	Items     []LineItem        `json:"items"`
	Discount  DiscountSpec      `json:"discount"`
	Counter   int               `json:"counter"`
	Timestamp time.Time         `json:"timestamp"`
	FormData  map[string]string `json:"form_data,omitempty"`
}

// StockConflict reports one line the authoritative store refused.
type StockConflict struct {
	ItemCode       string          `json:"item_code"`
	RequestedQty   decimal.Decimal `json:"requested_quantity"`
	AvailableStock decimal.Decimal `json:"available_stock"`
}

type VoucherLine struct {
	ItemCode      string          `json:"item_code"`
	Description   string          `json:"description"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTax       decimal.Decimal `json:"line_tax"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

type Voucher struct {
	VoucherNo      string        `json:"voucher_no"`
	TenantID       string        `json:"tenant_id"`
	Kind           string        `json:"kind"`
	Status         string        `json:"status"`
	Lines          []VoucherLine `json:"lines"`
	Totals         Totals        `json:"totals"`
	Payment        PaymentState  `json:"payment"`
	Customer       Customer      `json:"customer"`
	Notes          string        `json:"notes,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedBy      string        `json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type AvgPriceRow struct {
	ItemCode    string          `json:"item_code"`
	Description string          `json:"description"`
	AvgRate     decimal.Decimal `json:"avg_rate"`
	StockQty    decimal.Decimal `json:"stock_qty"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the authenticated operator behind a request. Registers lists the
// register profiles the token grants; "*" grants all of them.
type Actor struct {
	Username  string   `json:"username"`
	Role      string   `json:"role"`
	Registers []string `json:"registers,omitempty"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ---- request/response payloads ----

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type TenantResponse struct {
	Success  bool   `json:"success"`
	TenantID string `json:"tenant_id"`
}

type ProductSearchResult struct {
	ID            string          `json:"id"`
	Text          string          `json:"text"`
	ItemCode      string          `json:"item_code"`
	Description   string          `json:"description"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Stock         decimal.Decimal `json:"stock"`
}

type ProductSearchResponse struct {
	Results    []ProductSearchResult `json:"results"`
	Pagination Pagination            `json:"pagination"`
}

type Pagination struct {
	More bool `json:"more"`
}

type AddItemRequest struct {
	ItemCode string `json:"item_code,omitempty"`
	Barcode  string `json:"barcode,omitempty"`
}

type DiscountRequest struct {
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	Percent     decimal.Decimal `json:"percent"`
}

type PaymentMethodRequest struct {
	Method string `json:"method"`
}

type PaymentAmountsRequest struct {
	CardAmount *decimal.Decimal `json:"card_amount,omitempty"`
	PayAmount  *decimal.Decimal `json:"pay_amount,omitempty"`
	CardNumber *string          `json:"card_number,omitempty"`
	BankName   *string          `json:"bank_name,omitempty"`
}

type HoldRequest struct {
	Customer Customer `json:"customer"`
	Notes    string   `json:"notes,omitempty"`
}

type CheckoutRequest struct {
	Customer       Customer          `json:"customer"`
	Notes          string            `json:"notes,omitempty"`
	FormData       map[string]string `json:"form_data,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type CheckoutResponse struct {
	Success   bool   `json:"success"`
	VoucherNo string `json:"voucher_no"`
	Message   string `json:"message,omitempty"`
}

// CartView is the full render model returned by every cart mutation.
type CartView struct {
	Register  string          `json:"register"`
	Items     []LineItem      `json:"items"`
	Totals    Totals          `json:"totals"`
	Payment   PaymentState    `json:"payment"`
	Discount  DiscountSpec    `json:"discount"`
	ItemCount decimal.Decimal `json:"item_count"`
	HeldCount int             `json:"held_count"`
}
