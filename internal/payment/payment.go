// Package payment tracks how a cart total will be settled. The reconciler
// re-derives the cash portion and change after every edit so the figures on
// screen can never disagree with the total.
package payment

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/money"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrNotCardMethod     = errors.New("card fields require the card method")
)

// Reconciler is one register's payment state. Not safe for concurrent use;
// the session layer serializes access.
type Reconciler struct {
	method     string
	total      decimal.Decimal
	cardAmount decimal.Decimal
	payAmount  decimal.Decimal
	payEdited  bool
	cardNumber string
	bankName   string
}

// NewReconciler starts on cash with a zero total.
func NewReconciler() *Reconciler {
	return &Reconciler{method: domain.PaymentCash}
}

func (r *Reconciler) Method() string { return r.method }

// SetMethod switches the settlement method and seeds the dependent fields.
// Entering card pre-fills the card amount with the full total and zeroes the
// tendered cash; leaving card clears the card fields entirely.
func (r *Reconciler) SetMethod(method string) error {
	switch method {
	case domain.PaymentCash, domain.PaymentCredit:
		r.method = method
		r.cardAmount = decimal.Zero
		r.cardNumber = ""
		r.bankName = ""
		r.payAmount = r.total
		r.payEdited = false
	case domain.PaymentCard:
		r.method = method
		r.cardAmount = r.total
		r.payAmount = decimal.Zero
		r.payEdited = false
	default:
		return ErrUnsupportedMethod
	}
	return nil
}

// SetTotal feeds a new grand total into the machine. Card amounts above the
// new total are clamped down; the tendered amount is re-seeded to the cash
// portion due.
func (r *Reconciler) SetTotal(total decimal.Decimal) {
	r.total = money.NonNegative(total)
	if r.method == domain.PaymentCard {
		r.cardAmount = money.ClampMax(r.cardAmount, r.total)
	}
	r.payAmount = r.cashPortionDue()
	if r.method == domain.PaymentCard {
		r.payAmount = decimal.Zero
	}
	r.payEdited = false
}

// SetCardAmount adjusts the card split. The cash portion is re-derived and
// the tendered amount follows it unless the operator has typed a tendered
// amount since the last seed.
func (r *Reconciler) SetCardAmount(amount decimal.Decimal) error {
	if r.method != domain.PaymentCard {
		return ErrNotCardMethod
	}
	r.cardAmount = amount
	if !r.payEdited {
		r.payAmount = r.cashPortionDue()
	}
	return nil
}

// SetPayAmount records an operator-typed tendered amount.
func (r *Reconciler) SetPayAmount(amount decimal.Decimal) {
	r.payAmount = amount
	r.payEdited = true
}

func (r *Reconciler) SetCardNumber(number string) error {
	if r.method != domain.PaymentCard {
		return ErrNotCardMethod
	}
	r.cardNumber = strings.TrimSpace(number)
	return nil
}

func (r *Reconciler) SetBankName(name string) error {
	if r.method != domain.PaymentCard {
		return ErrNotCardMethod
	}
	r.bankName = strings.TrimSpace(name)
	return nil
}

// cashPortionDue is the part of the total the card does not cover. It never
// goes negative even when the card amount exceeds the total.
func (r *Reconciler) cashPortionDue() decimal.Decimal {
	if r.method == domain.PaymentCard {
		return money.NonNegative(r.total.Sub(r.cardAmount))
	}
	return r.total
}

// returnAmount is the change owed: tendered minus cash portion, floored at
// zero.
func (r *Reconciler) returnAmount() decimal.Decimal {
	return money.NonNegative(r.payAmount.Sub(r.cashPortionDue()))
}

// State snapshots the machine with derived fields rounded for display.
func (r *Reconciler) State() domain.PaymentState {
	return domain.PaymentState{
		Method:         r.method,
		CardAmount:     money.Round2(r.cardAmount),
		PayAmount:      money.Round2(r.payAmount),
		PayEdited:      r.payEdited,
		CardNumber:     r.cardNumber,
		BankName:       r.bankName,
		CashPortionDue: money.Round2(r.cashPortionDue()),
		ReturnAmount:   money.Round2(r.returnAmount()),
	}
}

// Restore rebuilds the machine from a held snapshot.
func (r *Reconciler) Restore(state domain.PaymentState, total decimal.Decimal) {
	method := state.Method
	if method == "" {
		method = domain.PaymentCash
	}
	r.method = method
	r.total = money.NonNegative(total)
	r.cardAmount = state.CardAmount
	r.payAmount = state.PayAmount
	r.payEdited = state.PayEdited
	r.cardNumber = state.CardNumber
	r.bankName = state.BankName
}
