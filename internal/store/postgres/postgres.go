package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/store"
	"lumipos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) TenantID(ctx context.Context) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id
		FROM tenant_settings
		ORDER BY tenant_id
		LIMIT 1
	`).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

func (s *Store) SearchProducts(ctx context.Context, tenantID string, search string, page int, pageSize int) ([]domain.Product, bool, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	pattern := "%" + strings.TrimSpace(search) + "%"

	// Fetch one extra row to decide whether another page exists.
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, description, unit_of_measure, COALESCE(barcode,''),
			std_price, std_cost, avg_cost, stock, track_stock, active
		FROM products
		WHERE tenant_id = $1
			AND active = true
			AND (item_code ILIKE $2 OR description ILIKE $2 OR barcode ILIKE $2)
		ORDER BY item_code
		LIMIT $3 OFFSET $4
	`, tenantID, pattern, pageSize+1, offset)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, pageSize+1)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ItemCode, &p.Description, &p.UnitOfMeasure, &p.Barcode, &p.StdPrice, &p.StdCost, &p.AvgCost, &p.Stock, &p.TrackStock, &p.Active); err != nil {
			return nil, false, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	more := len(products) > pageSize
	if more {
		products = products[:pageSize]
	}
	return products, more, nil
}

func (s *Store) GetProductByCode(ctx context.Context, tenantID string, itemCode string) (*domain.Product, error) {
	return s.getProduct(ctx, tenantID, "item_code", itemCode)
}

func (s *Store) GetProductByBarcode(ctx context.Context, tenantID string, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, tenantID, "barcode", barcode)
}

func (s *Store) getProduct(ctx context.Context, tenantID string, column string, value string) (*domain.Product, error) {
	if column != "item_code" && column != "barcode" {
		return nil, errors.New("unsupported lookup column")
	}

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT item_code, description, unit_of_measure, COALESCE(barcode,''),
			std_price, std_cost, avg_cost, stock, track_stock, active
		FROM products
		WHERE tenant_id = $1 AND `+column+` = $2
	`, tenantID, value).Scan(&p.ItemCode, &p.Description, &p.UnitOfMeasure, &p.Barcode, &p.StdPrice, &p.StdCost, &p.AvgCost, &p.Stock, &p.TrackStock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SearchAvgPrices(ctx context.Context, tenantID string, query string, limit int) ([]domain.AvgPriceRow, error) {
	if limit < 1 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, description, avg_cost, stock
		FROM products
		WHERE tenant_id = $1
			AND active = true
			AND (item_code ILIKE $2 OR description ILIKE $2)
		ORDER BY item_code
		LIMIT $3
	`, tenantID, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AvgPriceRow, 0, limit)
	for rows.Next() {
		var row domain.AvgPriceRow
		if err := rows.Scan(&row.ItemCode, &row.Description, &row.AvgRate, &row.StockQty); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateVoucher persists a voucher inside one serializable transaction.
// POS sales lock and decrement product stock; a shortfall on any line aborts
// the whole voucher and reports every failing line. Purchase orders and
// sales returns are created as drafts and move stock only on confirm.
func (s *Store) CreateVoucher(ctx context.Context, voucher domain.Voucher) (*domain.Voucher, []domain.StockConflict, error) {
	if len(voucher.Lines) == 0 {
		return nil, nil, store.ErrInvalidVoucher
	}
	if voucher.IdempotencyKey != "" {
		existing, err := s.FindVoucherByIdempotency(ctx, voucher.TenantID, voucher.IdempotencyKey)
		if err == nil {
			return existing, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if voucher.Kind == domain.VoucherPOSSale {
		conflicts, err := s.decrementStockLocked(ctx, pgTx, voucher)
		if err != nil {
			return nil, nil, err
		}
		if len(conflicts) > 0 {
			return nil, conflicts, store.ErrStockConflict
		}
		voucher.Status = domain.VoucherStatusConfirmed
	} else {
		voucher.Status = domain.VoucherStatusDraft
	}

	var seq int64
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO voucher_series (tenant_id, kind, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, kind)
		DO UPDATE SET seq = voucher_series.seq + 1
		RETURNING seq
	`, voucher.TenantID, voucher.Kind).Scan(&seq)
	if err != nil {
		return nil, nil, err
	}
	voucher.VoucherNo = store.VoucherNo(voucherPrefix(voucher.Kind), seq)
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}

	paymentJSON, err := json.Marshal(voucher.Payment)
	if err != nil {
		return nil, nil, err
	}
	customerJSON, err := json.Marshal(voucher.Customer)
	if err != nil {
		return nil, nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO vouchers (
			voucher_no, tenant_id, kind, status, subtotal, discount_amount,
			discounted_subtotal, total_tax, grand_total, payment, customer,
			notes, idempotency_key, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, voucher.VoucherNo, voucher.TenantID, voucher.Kind, voucher.Status,
		voucher.Totals.Subtotal, voucher.Totals.DiscountAmount, voucher.Totals.DiscountedSubtotal,
		voucher.Totals.TotalTax, voucher.Totals.GrandTotal, paymentJSON, customerJSON,
		voucher.Notes, nullIfEmpty(voucher.IdempotencyKey), voucher.CreatedBy, voucher.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindVoucherByIdempotency(ctx, voucher.TenantID, voucher.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil, nil
			}
		}
		return nil, nil, err
	}

	for idx, line := range voucher.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO voucher_lines (
				voucher_no, tenant_id, line_no, item_code, description,
				unit_of_measure, quantity, unit_price, line_tax, line_total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, voucher.VoucherNo, voucher.TenantID, idx+1, line.ItemCode, line.Description,
			line.UnitOfMeasure, line.Quantity, line.UnitPrice, line.LineTax, line.LineTotal)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	created := voucher
	return &created, nil, nil
}

// decrementStockLocked locks the tracked product rows, collects every line
// whose requested quantity exceeds on-hand stock, and decrements only when
// all lines fit.
func (s *Store) decrementStockLocked(ctx context.Context, pgTx *sql.Tx, voucher domain.Voucher) ([]domain.StockConflict, error) {
	conflicts := make([]domain.StockConflict, 0)
	type movement struct {
		itemCode string
		qty      decimal.Decimal
	}
	apply := make([]movement, 0, len(voucher.Lines))

	for _, line := range voucher.Lines {
		var stock decimal.Decimal
		var tracked bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT stock, track_stock
			FROM products
			WHERE tenant_id = $1 AND item_code = $2
			FOR UPDATE
		`, voucher.TenantID, line.ItemCode).Scan(&stock, &tracked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				conflicts = append(conflicts, domain.StockConflict{
					ItemCode:       line.ItemCode,
					RequestedQty:   line.Quantity,
					AvailableStock: decimal.Zero,
				})
				continue
			}
			return nil, err
		}
		if !tracked {
			continue
		}
		if line.Quantity.GreaterThan(stock) {
			conflicts = append(conflicts, domain.StockConflict{
				ItemCode:       line.ItemCode,
				RequestedQty:   line.Quantity,
				AvailableStock: stock,
			})
			continue
		}
		apply = append(apply, movement{itemCode: line.ItemCode, qty: line.Quantity})
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}

	for _, m := range apply {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $3, updated_at = now()
			WHERE tenant_id = $1 AND item_code = $2
		`, voucher.TenantID, m.itemCode, m.qty)
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Store) GetVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	return s.findVoucher(ctx, tenantID, "voucher_no", voucherNo)
}

func (s *Store) FindVoucherByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Voucher, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findVoucher(ctx, tenantID, "idempotency_key", key)
}

func (s *Store) findVoucher(ctx context.Context, tenantID string, column string, value string) (*domain.Voucher, error) {
	if column != "voucher_no" && column != "idempotency_key" {
		return nil, errors.New("unsupported lookup column")
	}

	var voucher domain.Voucher
	var paymentJSON []byte
	var customerJSON []byte
	var idemKey sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT voucher_no, tenant_id, kind, status, subtotal, discount_amount,
			discounted_subtotal, total_tax, grand_total, payment, customer,
			notes, idempotency_key, created_by, created_at
		FROM vouchers
		WHERE tenant_id = $1 AND `+column+` = $2
	`, tenantID, value).Scan(
		&voucher.VoucherNo,
		&voucher.TenantID,
		&voucher.Kind,
		&voucher.Status,
		&voucher.Totals.Subtotal,
		&voucher.Totals.DiscountAmount,
		&voucher.Totals.DiscountedSubtotal,
		&voucher.Totals.TotalTax,
		&voucher.Totals.GrandTotal,
		&paymentJSON,
		&customerJSON,
		&voucher.Notes,
		&idemKey,
		&voucher.CreatedBy,
		&voucher.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(paymentJSON, &voucher.Payment); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customerJSON, &voucher.Customer); err != nil {
		return nil, err
	}
	if idemKey.Valid {
		voucher.IdempotencyKey = idemKey.String
	}
	voucher.CreatedAt = voucher.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, description, unit_of_measure, quantity, unit_price, line_tax, line_total
		FROM voucher_lines
		WHERE tenant_id = $1 AND voucher_no = $2
		ORDER BY line_no ASC
	`, tenantID, voucher.VoucherNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.VoucherLine, 0, 8)
	for rows.Next() {
		var line domain.VoucherLine
		if err := rows.Scan(&line.ItemCode, &line.Description, &line.UnitOfMeasure, &line.Quantity, &line.UnitPrice, &line.LineTax, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	voucher.Lines = lines

	return &voucher, nil
}

// ConfirmVoucher moves a draft to confirmed and posts its stock movement.
// Purchase orders and sales returns both increase on-hand stock.
func (s *Store) ConfirmVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM vouchers
		WHERE tenant_id = $1 AND voucher_no = $2
		FOR UPDATE
	`, tenantID, voucherNo).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.VoucherStatusDraft {
		return nil, store.ErrInvalidVoucher
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT item_code, quantity
		FROM voucher_lines
		WHERE tenant_id = $1 AND voucher_no = $2
	`, tenantID, voucherNo)
	if err != nil {
		return nil, err
	}
	type movement struct {
		itemCode string
		qty      decimal.Decimal
	}
	movements := make([]movement, 0, 8)
	for lineRows.Next() {
		var m movement
		if err := lineRows.Scan(&m.itemCode, &m.qty); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	for _, m := range movements {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $3, updated_at = now()
			WHERE tenant_id = $1 AND item_code = $2 AND track_stock = true
		`, tenantID, m.itemCode, m.qty)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE vouchers
		SET status = $3
		WHERE tenant_id = $1 AND voucher_no = $2
	`, tenantID, voucherNo, domain.VoucherStatusConfirmed)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetVoucher(ctx, tenantID, voucherNo)
}

// DeleteVoucher marks a draft deleted. Confirmed vouchers have posted stock
// and cannot be deleted.
func (s *Store) DeleteVoucher(ctx context.Context, tenantID string, voucherNo string) (*domain.Voucher, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE vouchers
		SET status = $3
		WHERE tenant_id = $1 AND voucher_no = $2 AND status = $4
		RETURNING status
	`, tenantID, voucherNo, domain.VoucherStatusDeleted, domain.VoucherStatusDraft).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either missing or not a draft; distinguish for the caller.
			if _, lookupErr := s.GetVoucher(ctx, tenantID, voucherNo); lookupErr == nil {
				return nil, store.ErrInvalidVoucher
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.GetVoucher(ctx, tenantID, voucherNo)
}

func (s *Store) CreateHeldTransaction(ctx context.Context, held domain.HeldTransaction) (*domain.HeldTransaction, error) {
	if held.ID == "" {
		held.ID = xid.Hold(time.Now().UTC())
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	payload, err := json.Marshal(held)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_transactions (id, tenant_id, register, total, payload, held_at, held_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, held.ID, held.TenantID, held.Register, held.Total, payload, held.HeldAt, held.HeldBy)
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

func (s *Store) ListHeldTransactions(ctx context.Context, tenantID string, register string, limit int) ([]domain.HeldTransaction, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM held_transactions
		WHERE tenant_id = $1 AND register = $2
		ORDER BY held_at DESC
		LIMIT $3
	`, tenantID, register, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	held := make([]domain.HeldTransaction, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entry domain.HeldTransaction
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, err
		}
		held = append(held, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return held, nil
}

// PopHeldTransaction atomically removes and returns a held transaction so a
// double resume cannot restore the same cart twice.
func (s *Store) PopHeldTransaction(ctx context.Context, tenantID string, holdID string) (*domain.HeldTransaction, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM held_transactions
		WHERE tenant_id = $1 AND id = $2
		RETURNING payload
	`, tenantID, holdID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var held domain.HeldTransaction
	if err := json.Unmarshal(payload, &held); err != nil {
		return nil, err
	}
	return &held, nil
}

func (s *Store) DeleteHeldTransaction(ctx context.Context, tenantID string, holdID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM held_transactions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, holdID)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.TenantID, entry.Actor, entry.Action, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor, action, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Actor, &entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func voucherPrefix(kind string) string {
	switch kind {
	case domain.VoucherPurchaseOrder:
		return "PO"
	case domain.VoucherSalesReturn:
		return "SR"
	default:
		return "SO"
	}
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
