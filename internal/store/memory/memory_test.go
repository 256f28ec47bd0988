package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/store"
)

func saleVoucher(itemCode string, qty int64, key string) domain.Voucher {
	q := decimal.NewFromInt(qty)
	price := decimal.RequireFromString("25.00")
	total := price.Mul(q)
	return domain.Voucher{
		TenantID: "100001",
		Kind:     domain.VoucherPOSSale,
		Lines: []domain.VoucherLine{{
			ItemCode:  itemCode,
			Quantity:  q,
			UnitPrice: price,
			LineTotal: total,
		}},
		Totals:         domain.Totals{Subtotal: total, DiscountedSubtotal: total, GrandTotal: total},
		Payment:        domain.PaymentState{Method: domain.PaymentCash, PayAmount: total},
		IdempotencyKey: key,
	}
}

func TestVoucherNumberingIsPerKindSeries(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, _, err := s.CreateVoucher(ctx, saleVoucher("FG-0001", 1, "k1"))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if first.VoucherNo != "SO--000001" {
		t.Fatalf("expected SO--000001, got %s", first.VoucherNo)
	}

	po := saleVoucher("RM-0100", 2, "k2")
	po.Kind = domain.VoucherPurchaseOrder
	created, _, err := s.CreateVoucher(ctx, po)
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	if created.VoucherNo != "PO--000001" {
		t.Fatalf("expected PO series to start fresh, got %s", created.VoucherNo)
	}

	second, _, err := s.CreateVoucher(ctx, saleVoucher("FG-0001", 1, "k3"))
	if err != nil {
		t.Fatalf("create second sale: %v", err)
	}
	if second.VoucherNo != "SO--000002" {
		t.Fatalf("expected SO--000002, got %s", second.VoucherNo)
	}
}

func TestCreateVoucherIdempotencyReturnsExisting(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, _, err := s.CreateVoucher(ctx, saleVoucher("FG-0001", 1, "same-key"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	replay, _, err := s.CreateVoucher(ctx, saleVoucher("FG-0001", 1, "same-key"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.VoucherNo != first.VoucherNo {
		t.Fatalf("expected replay to return %s, got %s", first.VoucherNo, replay.VoucherNo)
	}
}

func TestCreateVoucherStockConflictLeavesStockUntouched(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// FG-0003 seeds with stock 5.
	_, conflicts, err := s.CreateVoucher(ctx, saleVoucher("FG-0003", 9, "over"))
	if !errors.Is(err, store.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}
	if len(conflicts) != 1 || !conflicts[0].AvailableStock.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}

	product, err := s.GetProductByCode(ctx, "100001", "FG-0003")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Stock.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected stock unchanged at 5, got %s", product.Stock)
	}
}

func TestListHeldTransactionsNewestFirst(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.CreateHeldTransaction(ctx, domain.HeldTransaction{
			ID:       fmt.Sprintf("HOLD-%d", i),
			TenantID: "100001",
			Register: "pos",
			HeldAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("hold %d: %v", i, err)
		}
	}

	held, err := s.ListHeldTransactions(ctx, "100001", "pos", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(held) != 3 {
		t.Fatalf("expected 3 holds, got %d", len(held))
	}
	for i := 1; i < len(held); i++ {
		if held[i].HeldAt.After(held[i-1].HeldAt) {
			t.Fatalf("expected newest first ordering, got %v then %v", held[i-1].HeldAt, held[i].HeldAt)
		}
	}
}

func TestWrongTenantRejected(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.GetProductByCode(ctx, "999999", "FG-0001"); err == nil {
		t.Fatalf("expected wrong tenant to be rejected")
	}
}

func TestConfirmVoucherSkipsUntrackedStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	po := saleVoucher("RM-0100", 2, "untracked-po")
	po.Kind = domain.VoucherPurchaseOrder
	created, _, err := s.CreateVoucher(ctx, po)
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	if _, err := s.ConfirmVoucher(ctx, "100001", created.VoucherNo); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// RM-0100 does not track stock, so posting must not move its quantity.
	product, err := s.GetProductByCode(ctx, "100001", "RM-0100")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Stock.Equal(decimal.RequireFromString("14.5")) {
		t.Fatalf("untracked stock moved on confirm: %s", product.Stock)
	}
}
