package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lumipos/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidVoucher = errors.New("invalid voucher")
	ErrStockConflict  = errors.New("stock conflict")
)

// Repository is the authoritative collaborator behind the register: stock
// truth, voucher numbering, held transactions and user accounts all live
// here. CreateVoucher re-checks stock server-side regardless of what the
// cart believed; conflicts come back per line alongside ErrStockConflict.
type Repository interface {
	TenantID(ctx context.Context) (string, error)

	SearchProducts(ctx context.Context, tenantID string, search string, page int, pageSize int) ([]domain.Product, bool, error)
	GetProductByCode(ctx context.Context, tenantID string, itemCode string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, tenantID string, barcode string) (*domain.Product, error)
	SearchAvgPrices(ctx context.Context, tenantID string, query string, limit int) ([]domain.AvgPriceRow, error)

	CreateVoucher(ctx context.Context, voucher domain.Voucher) (*domain.Voucher, []domain.StockConflict, error)
	GetVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error)
	ConfirmVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error)
	DeleteVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error)
	FindVoucherByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Voucher, error)

	CreateHeldTransaction(ctx context.Context, held domain.HeldTransaction) (*domain.HeldTransaction, error)
	ListHeldTransactions(ctx context.Context, tenantID string, register string, limit int) ([]domain.HeldTransaction, error)
	PopHeldTransaction(ctx context.Context, tenantID string, holdID string) (*domain.HeldTransaction, error)
	DeleteHeldTransaction(ctx context.Context, tenantID string, holdID string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// VoucherNo formats a series number, e.g. SO--000001.
func VoucherNo(prefix string, seq int64) string {
	return fmt.Sprintf("%s--%06d", strings.ToUpper(prefix), seq)
}
