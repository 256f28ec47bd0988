// Package validation holds the pure input checks shared by the register
// screens. Functions either normalize a value or reject it with a reason a
// cashier can read; nothing here touches the cart or the store.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/money"
)

const maxNotesLength = 500

var (
	barcodePattern   = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)
	digitsOnly       = regexp.MustCompile(`^[0-9]+$`)
	scriptTagPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	hundred          = decimal.NewFromInt(100)
)

// CardNumber accepts the last 4 digits of a card, tolerating spaces and
// dashes in the input.
func CardNumber(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	if len(cleaned) != 4 || !digitsOnly.MatchString(cleaned) {
		return "", fmt.Errorf("card number must be exactly 4 digits")
	}
	return cleaned, nil
}

func BankName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("bank name is required for card payments")
	}
	if len(name) > 80 {
		return "", fmt.Errorf("bank name must be at most 80 characters")
	}
	return name, nil
}

// CardAmount must cover some of the total without exceeding it.
func CardAmount(amount, grandTotal decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("card amount must be greater than zero")
	}
	if amount.GreaterThan(grandTotal) {
		return decimal.Zero, fmt.Errorf("card amount must not exceed the total %s", grandTotal)
	}
	return amount, nil
}

// PayAmount checks the tendered cash against the portion due.
func PayAmount(pay, cashPortionDue decimal.Decimal) (decimal.Decimal, error) {
	if pay.IsNegative() {
		return decimal.Zero, fmt.Errorf("pay amount must not be negative")
	}
	if pay.LessThan(cashPortionDue) {
		return decimal.Zero, fmt.Errorf("pay amount %s is less than the amount due %s", pay, cashPortionDue)
	}
	return pay, nil
}

func FixedDiscount(amount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("discount must not be negative")
	}
	if amount.GreaterThan(subtotal) {
		return decimal.Zero, fmt.Errorf("discount must not exceed the subtotal %s", subtotal)
	}
	return amount, nil
}

// PercentDiscount validates the percentage alongside the fixed component so
// the combined discount can never exceed the subtotal.
func PercentDiscount(pct, fixed, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if pct.IsNegative() {
		return decimal.Zero, fmt.Errorf("discount percent must not be negative")
	}
	if pct.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("discount percent must be at most 100")
	}
	combined := fixed.Add(money.Percent(subtotal, pct))
	if combined.GreaterThan(subtotal) {
		return decimal.Zero, fmt.Errorf("combined discount %s exceeds the subtotal %s", money.Round2(combined), subtotal)
	}
	return pct, nil
}

// Barcode uppercases and checks the scanner input: 3 to 20 characters, A-Z
// and digits only.
func Barcode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !barcodePattern.MatchString(code) {
		return "", fmt.Errorf("barcode must be 3-20 characters, letters and digits only")
	}
	return code, nil
}

// Notes strips script tags and bounds the length.
func Notes(raw string) (string, error) {
	notes := strings.TrimSpace(scriptTagPattern.ReplaceAllString(raw, ""))
	if len(notes) > maxNotesLength {
		return "", fmt.Errorf("notes must be at most %d characters", maxNotesLength)
	}
	return notes, nil
}

// Transaction runs every applicable submit-gate rule and returns ALL failing
// reasons, so the operator fixes the form in one pass instead of
// whack-a-mole.
func Transaction(lineCount int, totals domain.Totals, pay domain.PaymentState) []string {
	var reasons []string

	if lineCount == 0 {
		reasons = append(reasons, "cart is empty")
	}
	if !totals.GrandTotal.IsPositive() {
		reasons = append(reasons, "transaction total must be greater than zero")
	}

	switch pay.Method {
	case domain.PaymentCard:
		if _, err := CardAmount(pay.CardAmount, totals.GrandTotal); err != nil {
			reasons = append(reasons, err.Error())
		}
		if _, err := CardNumber(pay.CardNumber); err != nil {
			reasons = append(reasons, err.Error())
		}
		if _, err := BankName(pay.BankName); err != nil {
			reasons = append(reasons, err.Error())
		}
		if pay.CashPortionDue.IsPositive() {
			if _, err := PayAmount(pay.PayAmount, pay.CashPortionDue); err != nil {
				reasons = append(reasons, err.Error())
			}
		}
	case domain.PaymentCash:
		if _, err := PayAmount(pay.PayAmount, totals.GrandTotal); err != nil {
			reasons = append(reasons, err.Error())
		}
	case domain.PaymentCredit:
		// nothing tendered up front
	default:
		reasons = append(reasons, "unsupported payment method")
	}

	return reasons
}
