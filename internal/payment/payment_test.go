package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCashMethodTracksTotal(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("246.25"))

	state := r.State()
	if state.Method != domain.PaymentCash {
		t.Fatalf("default method = %s, want cash", state.Method)
	}
	if !state.CashPortionDue.Equal(dec("246.25")) {
		t.Fatalf("cash portion = %s, want full total", state.CashPortionDue)
	}
	if !state.PayAmount.Equal(dec("246.25")) {
		t.Fatalf("pay amount = %s, want seeded to total", state.PayAmount)
	}
	if !state.ReturnAmount.IsZero() {
		t.Fatalf("return = %s, want 0", state.ReturnAmount)
	}
}

func TestCardSeedsFullTotalAndSplitReconciles(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("246.25"))

	if err := r.SetMethod(domain.PaymentCard); err != nil {
		t.Fatalf("set method: %v", err)
	}
	state := r.State()
	if !state.CardAmount.Equal(dec("246.25")) {
		t.Fatalf("card amount = %s, want seeded to total", state.CardAmount)
	}
	if !state.CashPortionDue.IsZero() || !state.PayAmount.IsZero() {
		t.Fatalf("card entry should zero cash portion and tendered, got %s / %s", state.CashPortionDue, state.PayAmount)
	}

	if err := r.SetCardAmount(dec("200")); err != nil {
		t.Fatalf("set card amount: %v", err)
	}
	state = r.State()
	if !state.CashPortionDue.Equal(dec("46.25")) {
		t.Fatalf("cash portion = %s, want 46.25", state.CashPortionDue)
	}
	if !state.PayAmount.Equal(dec("46.25")) {
		t.Fatalf("pay amount should follow the cash portion, got %s", state.PayAmount)
	}
	if !state.ReturnAmount.IsZero() {
		t.Fatalf("return = %s, want 0", state.ReturnAmount)
	}

	r.SetPayAmount(dec("50"))
	state = r.State()
	if !state.ReturnAmount.Equal(dec("3.75")) {
		t.Fatalf("return = %s, want 3.75", state.ReturnAmount)
	}
}

func TestEditedPayAmountIsNotClobbered(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("100"))
	_ = r.SetMethod(domain.PaymentCard)
	_ = r.SetCardAmount(dec("60"))

	r.SetPayAmount(dec("45"))
	_ = r.SetCardAmount(dec("50"))

	state := r.State()
	if !state.PayAmount.Equal(dec("45")) {
		t.Fatalf("pay amount = %s, operator edit should survive card re-split", state.PayAmount)
	}
	if !state.CashPortionDue.Equal(dec("50")) {
		t.Fatalf("cash portion = %s, want 50", state.CashPortionDue)
	}
}

func TestSwitchingBackToCashClearsCardFields(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("100"))
	_ = r.SetMethod(domain.PaymentCard)
	_ = r.SetCardAmount(dec("80"))
	_ = r.SetCardNumber("1234")
	_ = r.SetBankName("First Bank")

	if err := r.SetMethod(domain.PaymentCash); err != nil {
		t.Fatalf("switch to cash: %v", err)
	}
	state := r.State()
	if !state.CardAmount.IsZero() || state.CardNumber != "" || state.BankName != "" {
		t.Fatalf("card fields should clear on leaving card, got %+v", state)
	}
	if !state.PayAmount.Equal(dec("100")) {
		t.Fatalf("pay amount = %s, want re-seeded to total", state.PayAmount)
	}
}

func TestTotalChangeClampsCardAmount(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("300"))
	_ = r.SetMethod(domain.PaymentCard)
	_ = r.SetCardAmount(dec("300"))

	r.SetTotal(dec("246.25"))

	state := r.State()
	if !state.CardAmount.Equal(dec("246.25")) {
		t.Fatalf("card amount = %s, want clamped to new total", state.CardAmount)
	}
	if !state.CashPortionDue.IsZero() {
		t.Fatalf("cash portion = %s, want 0", state.CashPortionDue)
	}
}

func TestReturnNeverNegative(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("100"))
	r.SetPayAmount(dec("60"))

	if got := r.State().ReturnAmount; !got.IsZero() {
		t.Fatalf("return = %s, underpayment must not yield negative change", got)
	}
}

func TestUnsupportedMethodRejected(t *testing.T) {
	r := NewReconciler()
	if err := r.SetMethod("cheque"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
	if r.Method() != domain.PaymentCash {
		t.Fatalf("method changed after rejected transition: %s", r.Method())
	}
}

func TestCardFieldsLockedOutsideCard(t *testing.T) {
	r := NewReconciler()
	if err := r.SetCardAmount(dec("10")); !errors.Is(err, ErrNotCardMethod) {
		t.Fatalf("expected ErrNotCardMethod, got %v", err)
	}
	if err := r.SetCardNumber("1234"); !errors.Is(err, ErrNotCardMethod) {
		t.Fatalf("expected ErrNotCardMethod, got %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	r := NewReconciler()
	r.SetTotal(dec("100"))
	_ = r.SetMethod(domain.PaymentCard)
	_ = r.SetCardAmount(dec("60"))
	r.SetPayAmount(dec("45"))
	snap := r.State()

	fresh := NewReconciler()
	fresh.Restore(snap, dec("100"))

	got := fresh.State()
	if got.Method != snap.Method || !got.CardAmount.Equal(snap.CardAmount) || !got.PayAmount.Equal(snap.PayAmount) {
		t.Fatalf("restore mismatch: %+v vs %+v", got, snap)
	}
	if !got.CashPortionDue.Equal(dec("40")) {
		t.Fatalf("cash portion after restore = %s, want 40", got.CashPortionDue)
	}
}
