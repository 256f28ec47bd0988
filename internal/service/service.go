// Package service coordinates register sessions: one live cart and payment
// reconciler per register context, backed by the repository for stock truth
// and voucher numbering, with a durable draft mirror behind each session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lumipos/backend/internal/cache"
	"lumipos/backend/internal/cart"
	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/payment"
	"lumipos/backend/internal/store"
	"lumipos/backend/internal/validation"
)

var (
	ErrUnknownRegister    = errors.New("unknown register")
	ErrTenantUnresolved   = errors.New("tenant id not resolved")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrStaleSearch        = errors.New("stale search result discarded")
)

// ValidationError carries every failing submit-gate reason at once.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// ServerValidationError reports the per-line stock conflicts the repository
// found at commit time. The cart is left untouched so the operator can
// adjust quantities and retry.
type ServerValidationError struct {
	Conflicts []domain.StockConflict
}

func (e *ServerValidationError) Error() string {
	return fmt.Sprintf("server rejected %d line(s) for insufficient stock", len(e.Conflicts))
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type session struct {
	mu         sync.Mutex
	register   string
	cart       *cart.Cart
	pay        *payment.Reconciler
	customer   domain.Customer
	notes      string
	formData   map[string]string
	searchSeq  atomic.Int64
	submitting atomic.Bool
}

type Service struct {
	repo     store.Repository
	drafts   cache.DraftCache
	profiles map[string]cart.Profile

	mu       sync.Mutex
	sessions map[string]*session

	tenantMu sync.Mutex
	tenantID string
}

func New(repo store.Repository, drafts cache.DraftCache, taxRate decimal.Decimal) *Service {
	if drafts == nil {
		drafts = cache.NoopDraftCache{}
	}
	return &Service{
		repo:     repo,
		drafts:   drafts,
		profiles: cart.Profiles(taxRate),
		sessions: map[string]*session{},
	}
}

// TenantID resolves the tenant once and caches it. Every register operation
// requires it; until the lookup succeeds the session is unavailable.
func (s *Service) TenantID(ctx context.Context) (string, error) {
	s.tenantMu.Lock()
	defer s.tenantMu.Unlock()
	if s.tenantID != "" {
		return s.tenantID, nil
	}
	id, err := s.repo.TenantID(ctx)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: %v", ErrTenantUnresolved, err)
	}
	s.tenantID = strings.TrimSpace(id)
	return s.tenantID, nil
}

func (s *Service) session(ctx context.Context, register string) (*session, string, error) {
	tenantID, err := s.TenantID(ctx)
	if err != nil {
		return nil, "", err
	}
	profile, ok := s.profiles[register]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownRegister, register)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[register]; ok {
		return sess, tenantID, nil
	}

	sess := &session{
		register: register,
		cart:     cart.New(profile),
		pay:      payment.NewReconciler(),
		formData: map[string]string{},
	}
	// Keep the reconciler in lockstep with the cart: every recompute feeds
	// the fresh grand total into the payment machine.
	sess.cart.Subscribe(func(t domain.Totals) {
		sess.pay.SetTotal(t.GrandTotal)
	})
	s.sessions[register] = sess
	return sess, tenantID, nil
}

// OpenSession returns the register view, restoring a mirrored draft when the
// in-memory cart is empty.
func (s *Service) OpenSession(ctx context.Context, register string) (domain.CartView, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		draft, ok, err := s.drafts.Load(ctx, tenantID, register)
		if err != nil {
			log.Printf("[service] WARN: draft load failed for %s: %v", register, err)
		} else if ok && len(draft.Items) > 0 {
			sess.cart.Restore(domain.CartSnapshot{
				Items:    draft.Items,
				Discount: draft.Discount,
				Counter:  draft.Counter,
			})
			sess.formData = draft.FormData
			if sess.formData == nil {
				sess.formData = map[string]string{}
			}
		}
	}
	return s.viewLocked(ctx, sess, tenantID), nil
}

// AddItem looks the product up by code or barcode and adds or increments it.
func (s *Service) AddItem(ctx context.Context, register string, req domain.AddItemRequest) (domain.CartView, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.CartView{}, err
	}

	var product *domain.Product
	switch {
	case strings.TrimSpace(req.ItemCode) != "":
		product, err = s.repo.GetProductByCode(ctx, tenantID, strings.TrimSpace(req.ItemCode))
	case strings.TrimSpace(req.Barcode) != "":
		var barcode string
		barcode, err = validation.Barcode(req.Barcode)
		if err == nil {
			product, err = s.repo.GetProductByBarcode(ctx, tenantID, barcode)
		}
	default:
		err = fmt.Errorf("item code or barcode required")
	}
	if err != nil {
		return domain.CartView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.submitting.Load() {
		return domain.CartView{}, ErrSubmissionInFlight
	}
	if err := sess.cart.AddOrIncrement(*product); err != nil {
		return domain.CartView{}, err
	}
	s.mirrorDraftLocked(ctx, sess, tenantID)
	return s.viewLocked(ctx, sess, tenantID), nil
}

func (s *Service) SetQuantity(ctx context.Context, register string, itemCode string, qty decimal.Decimal) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		return sess.cart.SetQuantity(itemCode, qty)
	})
}

func (s *Service) SetRate(ctx context.Context, register string, itemCode string, rate decimal.Decimal) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		return sess.cart.SetRate(itemCode, rate)
	})
}

func (s *Service) SetLineTax(ctx context.Context, register string, itemCode string, tax decimal.Decimal) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		return sess.cart.SetLineTax(itemCode, tax)
	})
}

func (s *Service) RemoveItem(ctx context.Context, register string, itemCode string) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		sess.cart.Remove(itemCode)
		return nil
	})
}

func (s *Service) ClearCart(ctx context.Context, register string) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		sess.cart.Clear()
		sess.customer = domain.Customer{}
		sess.notes = ""
		sess.formData = map[string]string{}
		return nil
	})
}

// SetDiscount validates both components against the current subtotal before
// handing them to the cart.
func (s *Service) SetDiscount(ctx context.Context, register string, req domain.DiscountRequest) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		subtotal := sess.cart.Totals().Subtotal
		fixed, err := validation.FixedDiscount(req.FixedAmount, subtotal)
		if err != nil {
			return err
		}
		pct, err := validation.PercentDiscount(req.Percent, fixed, subtotal)
		if err != nil {
			return err
		}
		return sess.cart.SetDiscount(domain.DiscountSpec{FixedAmount: fixed, Percent: pct})
	})
}

func (s *Service) SetPaymentMethod(ctx context.Context, register string, method string) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		return sess.pay.SetMethod(method)
	})
}

// SetPaymentAmounts applies any subset of the tendered fields. Validation of
// card number and bank name is deferred to the submit gate so partially
// typed values never block data entry.
func (s *Service) SetPaymentAmounts(ctx context.Context, register string, req domain.PaymentAmountsRequest) (domain.CartView, error) {
	return s.mutate(ctx, register, func(sess *session) error {
		if req.CardAmount != nil {
			if err := sess.pay.SetCardAmount(*req.CardAmount); err != nil {
				return err
			}
		}
		if req.PayAmount != nil {
			sess.pay.SetPayAmount(*req.PayAmount)
		}
		if req.CardNumber != nil {
			if err := sess.pay.SetCardNumber(*req.CardNumber); err != nil {
				return err
			}
		}
		if req.BankName != nil {
			if err := sess.pay.SetBankName(*req.BankName); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, register string, fn func(*session) error) (domain.CartView, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	// A checkout in flight owns the cart between its snapshot and the final
	// clear; edits landing in that window would be silently wiped with it.
	if sess.submitting.Load() {
		return domain.CartView{}, ErrSubmissionInFlight
	}
	if err := fn(sess); err != nil {
		return domain.CartView{}, err
	}
	s.mirrorDraftLocked(ctx, sess, tenantID)
	return s.viewLocked(ctx, sess, tenantID), nil
}

// mirrorDraftLocked serializes the session to the draft cache. Failures are
// logged and swallowed: losing durability must not break the register.
func (s *Service) mirrorDraftLocked(ctx context.Context, sess *session, tenantID string) {
	snap := sess.cart.Snapshot()
	draft := domain.CartDraft{
		Items:     snap.Items,
		Discount:  snap.Discount,
		Counter:   snap.Counter,
		Timestamp: time.Now().UTC(),
		FormData:  sess.formData,
	}
	if err := s.drafts.Save(ctx, tenantID, sess.register, draft); err != nil {
		log.Printf("[service] WARN: draft save failed for %s: %v", sess.register, err)
	}
}

func (s *Service) viewLocked(ctx context.Context, sess *session, tenantID string) domain.CartView {
	heldCount := 0
	if held, err := s.repo.ListHeldTransactions(ctx, tenantID, sess.register, 200); err == nil {
		heldCount = len(held)
	}
	return domain.CartView{
		Register:  sess.register,
		Items:     sess.cart.Items(),
		Totals:    sess.cart.Totals(),
		Payment:   sess.pay.State(),
		Discount:  sess.cart.Discount(),
		ItemCount: sess.cart.ItemCount(),
		HeldCount: heldCount,
	}
}

// Hold snapshots the active cart into the held store and clears the
// register.
func (s *Service) Hold(ctx context.Context, register string, req domain.HoldRequest) (*domain.HeldTransaction, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.submitting.Load() {
		return nil, ErrSubmissionInFlight
	}
	held, err := s.holdLocked(ctx, sess, tenantID, req.Customer, req.Notes)
	if err != nil {
		return nil, err
	}
	s.mirrorDraftLocked(ctx, sess, tenantID)
	return held, nil
}

func (s *Service) holdLocked(ctx context.Context, sess *session, tenantID string, customer domain.Customer, notes string) (*domain.HeldTransaction, error) {
	if sess.cart.Len() == 0 {
		return nil, ErrEmptyCart
	}
	cleanNotes, err := validation.Notes(notes)
	if err != nil {
		return nil, err
	}
	if customer.Name == "" {
		customer = sess.customer
	}

	actorName := ""
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}
	held := domain.HeldTransaction{
		TenantID: tenantID,
		Register: sess.register,
		Cart:     sess.cart.Snapshot(),
		Payment:  sess.pay.State(),
		Customer: customer,
		Notes:    cleanNotes,
		Total:    sess.cart.Totals().GrandTotal,
		HeldAt:   time.Now().UTC(),
		HeldBy:   actorName,
	}
	created, err := s.repo.CreateHeldTransaction(ctx, held)
	if err != nil {
		return nil, err
	}

	sess.cart.Clear()
	_ = sess.pay.SetMethod(domain.PaymentCash)
	sess.customer = domain.Customer{}
	sess.notes = ""
	sess.formData = map[string]string{}
	s.logAudit(ctx, tenantID, "cart.hold", fmt.Sprintf("register=%s hold=%s total=%s", sess.register, created.ID, created.Total))
	return created, nil
}

func (s *Service) ListHeld(ctx context.Context, register string) ([]domain.HeldTransaction, error) {
	_, tenantID, err := s.session(ctx, register)
	if err != nil {
		return nil, err
	}
	return s.repo.ListHeldTransactions(ctx, tenantID, register, 200)
}

// ResumeHeld loads a held snapshot into the register. A non-empty active
// cart is automatically held first so nothing is silently discarded.
func (s *Service) ResumeHeld(ctx context.Context, register string, holdID string) (domain.CartView, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.submitting.Load() {
		return domain.CartView{}, ErrSubmissionInFlight
	}

	if sess.cart.Len() > 0 {
		if _, err := s.holdLocked(ctx, sess, tenantID, sess.customer, sess.notes); err != nil {
			return domain.CartView{}, fmt.Errorf("auto-hold before resume: %w", err)
		}
	}

	held, err := s.repo.PopHeldTransaction(ctx, tenantID, holdID)
	if err != nil {
		return domain.CartView{}, err
	}

	sess.cart.Restore(held.Cart)
	sess.pay.Restore(held.Payment, sess.cart.Totals().GrandTotal)
	sess.customer = held.Customer
	sess.notes = held.Notes
	s.mirrorDraftLocked(ctx, sess, tenantID)
	s.logAudit(ctx, tenantID, "cart.resume", fmt.Sprintf("register=%s hold=%s", register, holdID))
	return s.viewLocked(ctx, sess, tenantID), nil
}

// DiscardHeld removes a hold without resuming it. Idempotent.
func (s *Service) DiscardHeld(ctx context.Context, register string, holdID string) error {
	_, tenantID, err := s.session(ctx, register)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteHeldTransaction(ctx, tenantID, holdID); err != nil {
		return err
	}
	s.logAudit(ctx, tenantID, "cart.discard_hold", fmt.Sprintf("register=%s hold=%s", register, holdID))
	return nil
}

// SearchProducts proxies the catalog search with stale-result discard: each
// call bumps the session's sequence, and a result that finishes after a
// newer request was issued is dropped.
func (s *Service) SearchProducts(ctx context.Context, register string, term string, page int) (domain.ProductSearchResponse, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.ProductSearchResponse{}, err
	}
	profile := sess.cart.Profile()

	seq := sess.searchSeq.Add(1)
	products, more, err := s.repo.SearchProducts(ctx, tenantID, term, page, 20)
	if err != nil {
		return domain.ProductSearchResponse{}, err
	}
	if sess.searchSeq.Load() != seq {
		return domain.ProductSearchResponse{}, ErrStaleSearch
	}

	results := make([]domain.ProductSearchResult, 0, len(products))
	for _, p := range products {
		results = append(results, domain.ProductSearchResult{
			ID:            p.ItemCode,
			Text:          fmt.Sprintf("%s - %s", p.ItemCode, p.Description),
			ItemCode:      p.ItemCode,
			Description:   p.Description,
			UnitOfMeasure: p.UnitOfMeasure,
			UnitPrice:     profile.UnitPrice(p),
			Stock:         p.Stock,
		})
	}
	return domain.ProductSearchResponse{
		Results:    results,
		Pagination: domain.Pagination{More: more},
	}, nil
}

func (s *Service) SearchAvgPrices(ctx context.Context, query string, limit int) ([]domain.AvgPriceRow, error) {
	tenantID, err := s.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchAvgPrices(ctx, tenantID, query, limit)
}

// Checkout runs the submit gate, then commits through the repository. The
// single-flight guard rejects a second submission while one is in flight and
// is released on every path.
func (s *Service) Checkout(ctx context.Context, register string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	sess, tenantID, err := s.session(ctx, register)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if !sess.submitting.CompareAndSwap(false, true) {
		return domain.CheckoutResponse{}, ErrSubmissionInFlight
	}
	defer sess.submitting.Store(false)

	sess.mu.Lock()
	profile := sess.cart.Profile()
	items := sess.cart.Items()
	totals := sess.cart.Totals()
	payState := sess.pay.State()
	sess.mu.Unlock()

	if reasons := validation.Transaction(len(items), totals, payState); len(reasons) > 0 {
		return domain.CheckoutResponse{}, &ValidationError{Reasons: reasons}
	}
	notes, err := validation.Notes(req.Notes)
	if err != nil {
		return domain.CheckoutResponse{}, &ValidationError{Reasons: []string{err.Error()}}
	}
	if payState.Method == domain.PaymentCard {
		// store the normalized 4-digit form
		payState.CardNumber, _ = validation.CardNumber(payState.CardNumber)
	}

	idemKey := strings.TrimSpace(req.IdempotencyKey)
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	actorName := ""
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}

	lines := make([]domain.VoucherLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.VoucherLine{
			ItemCode:      item.ItemCode,
			Description:   item.Description,
			UnitOfMeasure: item.UnitOfMeasure,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTax:       item.LineTax,
			LineTotal:     item.LineTotal,
		})
	}

	voucher := domain.Voucher{
		TenantID:       tenantID,
		Kind:           profile.VoucherKind,
		Lines:          lines,
		Totals:         totals,
		Payment:        payState,
		Customer:       req.Customer,
		Notes:          notes,
		IdempotencyKey: idemKey,
		CreatedBy:      actorName,
		CreatedAt:      time.Now().UTC(),
	}

	created, conflicts, err := s.repo.CreateVoucher(ctx, voucher)
	if err != nil {
		if errors.Is(err, store.ErrStockConflict) {
			return domain.CheckoutResponse{}, &ServerValidationError{Conflicts: conflicts}
		}
		return domain.CheckoutResponse{}, err
	}

	sess.mu.Lock()
	sess.cart.Clear()
	_ = sess.pay.SetMethod(domain.PaymentCash)
	sess.customer = domain.Customer{}
	sess.notes = ""
	sess.formData = map[string]string{}
	sess.mu.Unlock()

	if err := s.drafts.Delete(ctx, tenantID, register); err != nil {
		log.Printf("[service] WARN: draft delete failed for %s: %v", register, err)
	}
	s.logAudit(ctx, tenantID, "voucher.create", fmt.Sprintf("register=%s voucher=%s total=%s", register, created.VoucherNo, created.Totals.GrandTotal))

	return domain.CheckoutResponse{Success: true, VoucherNo: created.VoucherNo}, nil
}

func (s *Service) ConfirmVoucher(ctx context.Context, voucherNo string) (*domain.Voucher, error) {
	tenantID, err := s.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	confirmed, err := s.repo.ConfirmVoucher(ctx, tenantID, voucherNo)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, tenantID, "voucher.confirm", "voucher="+voucherNo)
	return confirmed, nil
}

func (s *Service) DeleteVoucher(ctx context.Context, voucherNo string) (*domain.Voucher, error) {
	tenantID, err := s.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	deleted, err := s.repo.DeleteVoucher(ctx, tenantID, voucherNo)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, tenantID, "voucher.delete", "voucher="+voucherNo)
	return deleted, nil
}

func (s *Service) GetVoucher(ctx context.Context, voucherNo string) (*domain.Voucher, error) {
	tenantID, err := s.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetVoucher(ctx, tenantID, voucherNo)
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, detail string) {
	actorName := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		TenantID: tenantID,
		Actor:    actorName,
		Action:   action,
		Detail:   detail,
	})
	if err != nil {
		log.Printf("[service] WARN: audit log failed for %s: %v", action, err)
	}
}
