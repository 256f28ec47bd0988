// Package memory is the in-process Repository used for dev mode and tests.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/store"
	"lumipos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	tenantID        string
	products        map[string]domain.Product
	barcodes        map[string]string
	vouchersByNo    map[string]*domain.Voucher
	vouchersByIdem  map[string]string
	voucherSeq      map[string]int64
	heldByID        map[string]domain.HeldTransaction
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New(tenantID string) *Store {
	if tenantID == "" {
		tenantID = "100001"
	}
	return &Store{
		tenantID:        tenantID,
		products:        map[string]domain.Product{},
		barcodes:        map[string]string{},
		vouchersByNo:    map[string]*domain.Voucher{},
		vouchersByIdem:  map[string]string{},
		voucherSeq:      map[string]int64{},
		heldByID:        map[string]domain.HeldTransaction{},
		usersByUsername: seedUsers(),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewSeeded returns a store preloaded with a small catalog for dev mode and
// tests.
func NewSeeded() *Store {
	s := New("100001")
	seed := []domain.Product{
		{ItemCode: "FG-0001", Description: "Laundry Soap 200g", UnitOfMeasure: "pcs", Barcode: "LS200G", StdPrice: dec("25.00"), StdCost: dec("15.00"), AvgCost: dec("16.20"), Stock: dec("120"), TrackStock: true, Active: true},
		{ItemCode: "FG-0002", Description: "Dish Liquid 500ml", UnitOfMeasure: "btl", Barcode: "DL500ML", StdPrice: dec("48.50"), StdCost: dec("30.00"), AvgCost: dec("31.75"), Stock: dec("64"), TrackStock: true, Active: true},
		{ItemCode: "FG-0003", Description: "Toilet Cleaner 1L", UnitOfMeasure: "btl", Barcode: "TC1L", StdPrice: dec("95.00"), StdCost: dec("62.00"), AvgCost: dec("60.40"), Stock: dec("5"), TrackStock: true, Active: true},
		{ItemCode: "FG-0004", Description: "Air Freshener Lemon", UnitOfMeasure: "pcs", Barcode: "AFLEMON", StdPrice: dec("35.00"), StdCost: dec("22.00"), AvgCost: dec("21.90"), Stock: dec("0"), TrackStock: true, Active: true},
		{ItemCode: "RM-0100", Description: "Caustic Soda 25kg", UnitOfMeasure: "bag", StdPrice: dec("0"), StdCost: dec("1240.00"), AvgCost: dec("1198.55"), Stock: dec("14.5"), TrackStock: false, Active: true},
		{ItemCode: "RM-0101", Description: "Soda Ash 50kg", UnitOfMeasure: "bag", StdPrice: dec("0"), StdCost: dec("2150.00"), AvgCost: dec("2105.00"), Stock: dec("8"), TrackStock: false, Active: true},
	}
	for _, p := range seed {
		s.products[p.ItemCode] = p
		if p.Barcode != "" {
			s.barcodes[p.Barcode] = p.ItemCode
		}
	}
	return s
}

func (s *Store) TenantID(ctx context.Context) (string, error) {
	return s.tenantID, nil
}

func (s *Store) checkTenant(tenantID string) error {
	if tenantID != s.tenantID {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SearchProducts(ctx context.Context, tenantID string, search string, page int, pageSize int) ([]domain.Product, bool, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, false, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	needle := strings.ToLower(strings.TrimSpace(search))

	s.mu.RLock()
	matched := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(p.ItemCode), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) ||
			strings.Contains(strings.ToLower(p.Barcode), needle) {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ItemCode < matched[j].ItemCode })

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []domain.Product{}, false, nil
	}
	end := start + pageSize
	more := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], more, nil
}

func (s *Store) GetProductByCode(ctx context.Context, tenantID string, itemCode string) (*domain.Product, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[itemCode]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, tenantID string, barcode string) (*domain.Product, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	code, ok := s.barcodes[strings.ToUpper(strings.TrimSpace(barcode))]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetProductByCode(ctx, tenantID, code)
}

func (s *Store) SearchAvgPrices(ctx context.Context, tenantID string, query string, limit int) ([]domain.AvgPriceRow, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.products))
	for code := range s.products {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rows := make([]domain.AvgPriceRow, 0, limit)
	for _, code := range codes {
		p := s.products[code]
		if needle != "" && !strings.Contains(strings.ToLower(p.ItemCode), needle) && !strings.Contains(strings.ToLower(p.Description), needle) {
			continue
		}
		rows = append(rows, domain.AvgPriceRow{
			ItemCode:    p.ItemCode,
			Description: p.Description,
			AvgRate:     p.AvgCost,
			StockQty:    p.Stock,
		})
		if len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// CreateVoucher is the authoritative commit. POS sales re-check tracked
// stock under the lock and decrement it atomically with the voucher insert;
// purchase orders and returns are created as drafts and move stock at
// confirmation. A reused idempotency key returns the original voucher.
func (s *Store) CreateVoucher(ctx context.Context, voucher domain.Voucher) (*domain.Voucher, []domain.StockConflict, error) {
	if err := s.checkTenant(voucher.TenantID); err != nil {
		return nil, nil, err
	}
	if len(voucher.Lines) == 0 || !voucher.Totals.GrandTotal.IsPositive() {
		return nil, nil, store.ErrInvalidVoucher
	}
	prefix, ok := voucherPrefix(voucher.Kind)
	if !ok {
		return nil, nil, store.ErrInvalidVoucher
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if voucher.IdempotencyKey != "" {
		if no, ok := s.vouchersByIdem[voucher.IdempotencyKey]; ok {
			existing := *s.vouchersByNo[no]
			return &existing, nil, nil
		}
	}

	if voucher.Kind == domain.VoucherPOSSale {
		conflicts := s.stockConflictsLocked(voucher.Lines)
		if len(conflicts) > 0 {
			return nil, conflicts, store.ErrStockConflict
		}
		s.applyStockLocked(voucher.Lines, true)
		voucher.Status = domain.VoucherStatusConfirmed
	} else {
		voucher.Status = domain.VoucherStatusDraft
	}

	s.voucherSeq[prefix]++
	voucher.VoucherNo = store.VoucherNo(prefix, s.voucherSeq[prefix])
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}

	stored := voucher
	s.vouchersByNo[stored.VoucherNo] = &stored
	if stored.IdempotencyKey != "" {
		s.vouchersByIdem[stored.IdempotencyKey] = stored.VoucherNo
	}
	created := stored
	return &created, nil, nil
}

func voucherPrefix(kind string) (string, bool) {
	switch kind {
	case domain.VoucherPOSSale:
		return "SO", true
	case domain.VoucherPurchaseOrder:
		return "PO", true
	case domain.VoucherSalesReturn:
		return "SR", true
	default:
		return "", false
	}
}

func (s *Store) stockConflictsLocked(lines []domain.VoucherLine) []domain.StockConflict {
	var conflicts []domain.StockConflict
	for _, line := range lines {
		p, ok := s.products[line.ItemCode]
		if !ok {
			conflicts = append(conflicts, domain.StockConflict{
				ItemCode:       line.ItemCode,
				RequestedQty:   line.Quantity,
				AvailableStock: decimal.Zero,
			})
			continue
		}
		if p.TrackStock && line.Quantity.GreaterThan(p.Stock) {
			conflicts = append(conflicts, domain.StockConflict{
				ItemCode:       line.ItemCode,
				RequestedQty:   line.Quantity,
				AvailableStock: p.Stock,
			})
		}
	}
	return conflicts
}

func (s *Store) applyStockLocked(lines []domain.VoucherLine, decrement bool) {
	for _, line := range lines {
		p, ok := s.products[line.ItemCode]
		if !ok || !p.TrackStock {
			continue
		}
		if decrement {
			p.Stock = p.Stock.Sub(line.Quantity)
		} else {
			p.Stock = p.Stock.Add(line.Quantity)
		}
		s.products[line.ItemCode] = p
	}
}

func (s *Store) GetVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vouchersByNo[voucherNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *v
	return &found, nil
}

// ConfirmVoucher posts a draft: purchase orders and sales returns add their
// quantities to stock at this point.
func (s *Store) ConfirmVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchersByNo[voucherNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	if v.Status != domain.VoucherStatusDraft {
		return nil, store.ErrInvalidVoucher
	}
	s.applyStockLocked(v.Lines, false)
	v.Status = domain.VoucherStatusConfirmed
	confirmed := *v
	return &confirmed, nil
}

func (s *Store) DeleteVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchersByNo[voucherNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	if v.Status != domain.VoucherStatusDraft {
		return nil, store.ErrInvalidVoucher
	}
	v.Status = domain.VoucherStatusDeleted
	deleted := *v
	return &deleted, nil
}

func (s *Store) FindVoucherByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Voucher, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	no, ok := s.vouchersByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *s.vouchersByNo[no]
	return &found, nil
}

func (s *Store) CreateHeldTransaction(ctx context.Context, held domain.HeldTransaction) (*domain.HeldTransaction, error) {
	if err := s.checkTenant(held.TenantID); err != nil {
		return nil, err
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	if held.ID == "" {
		held.ID = xid.Hold(held.HeldAt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heldByID[held.ID] = held
	created := held
	return &created, nil
}

func (s *Store) ListHeldTransactions(ctx context.Context, tenantID string, register string, limit int) ([]domain.HeldTransaction, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	s.mu.RLock()
	held := make([]domain.HeldTransaction, 0, len(s.heldByID))
	for _, h := range s.heldByID {
		if h.TenantID == tenantID && (register == "" || h.Register == register) {
			held = append(held, h)
		}
	}
	s.mu.RUnlock()

	sort.Slice(held, func(i, j int) bool { return held[i].HeldAt.After(held[j].HeldAt) })
	if len(held) > limit {
		held = held[:limit]
	}
	return held, nil
}

// PopHeldTransaction atomically loads and removes a hold so two registers
// cannot resume the same snapshot.
func (s *Store) PopHeldTransaction(ctx context.Context, tenantID string, holdID string) (*domain.HeldTransaction, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heldByID[holdID]
	if !ok || h.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	delete(s.heldByID, holdID)
	popped := h
	return &popped, nil
}

// DeleteHeldTransaction is idempotent: discarding an already-removed hold
// succeeds.
func (s *Store) DeleteHeldTransaction(ctx context.Context, tenantID string, holdID string) error {
	if err := s.checkTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heldByID, holdID)
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := s.checkTenant(tenantID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

// SetStock is a test hook for arranging stock levels.
func (s *Store) SetStock(itemCode string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[itemCode]; ok {
		p.Stock = qty
		s.products[itemCode] = p
	}
}
