package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/cart"
	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/payment"
	"lumipos/backend/internal/service"
	"lumipos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/tenant", a.requireAuth(a.handleTenant, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProductSearch, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/products/avg-prices", a.requireAuth(a.handleAvgPrices, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/registers/", a.requireAuth(a.handleRegisterActions, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/vouchers/", a.requireAuth(a.handleVoucherActions, roleCashier, roleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorOperatesRegister(actor domain.Actor, register string) bool {
	for _, grant := range actor.Registers {
		if grant == "*" || grant == register {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
// Login is excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods
// (POST/PUT/PATCH/DELETE). Returns false and writes an error response if
// validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	tenantID, err := a.service.TenantID(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.TenantResponse{Success: true, TenantID: tenantID})
}

// handleProductSearch serves the register item pickers. The register query
// parameter selects which price field is shown; responses use the
// select2-style {results, pagination:{more}} envelope.
func (a *API) handleProductSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	register := strings.TrimSpace(r.URL.Query().Get("register"))
	if register == "" {
		register = "pos"
	}
	page := parsePositiveLimit(r.URL.Query().Get("page"), 1, 1000)

	resp, err := a.service.SearchProducts(r.Context(), register, r.URL.Query().Get("search"), page)
	if err != nil {
		if errors.Is(err, service.ErrStaleSearch) {
			// Superseded by a newer request; nothing for the client to render.
			writeJSON(w, http.StatusOK, domain.ProductSearchResponse{Results: []domain.ProductSearchResult{}})
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAvgPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	rows, err := a.service.SearchAvgPrices(r.Context(), r.URL.Query().Get("query"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

type lineItemUpdateRequest struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
	LineTax  *decimal.Decimal `json:"line_tax,omitempty"`
}

// handleRegisterActions routes everything under /api/v1/registers/{register}/...
func (a *API) handleRegisterActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/registers/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(tail, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid register path"))
		return
	}
	register := parts[0]
	rest := parts[1:]

	if actor, ok := service.ActorFromContext(r.Context()); ok && !actorOperatesRegister(actor, register) {
		writeError(w, http.StatusForbidden, errors.New("register not granted to this role"))
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "cart":
		a.handleCart(w, r, register)
	case len(rest) == 2 && rest[0] == "cart" && rest[1] == "clear":
		a.handleCartClear(w, r, register)
	case len(rest) == 2 && rest[0] == "cart" && rest[1] == "discount":
		a.handleCartDiscount(w, r, register)
	case len(rest) == 3 && rest[0] == "cart" && rest[1] == "items":
		a.handleCartItem(w, r, register, rest[2])
	case len(rest) == 3 && rest[0] == "cart" && rest[1] == "payment" && rest[2] == "method":
		a.handlePaymentMethod(w, r, register)
	case len(rest) == 3 && rest[0] == "cart" && rest[1] == "payment" && rest[2] == "amounts":
		a.handlePaymentAmounts(w, r, register)
	case len(rest) == 1 && rest[0] == "hold":
		a.handleHold(w, r, register)
	case len(rest) == 3 && rest[0] == "hold" && rest[2] == "resume":
		a.handleHoldResume(w, r, register, rest[1])
	case len(rest) == 3 && rest[0] == "hold" && rest[2] == "discard":
		a.handleHoldDiscard(w, r, register, rest[1])
	case len(rest) == 1 && rest[0] == "checkout":
		a.handleCheckout(w, r, register)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown register action"))
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request, register string) {
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.OpenSession(r.Context(), register)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPost:
		var req domain.AddItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.AddItem(r.Context(), register, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request, register string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	view, err := a.service.ClearCart(r.Context(), register)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request, register string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.DiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetDiscount(r.Context(), register, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCartItem updates or removes a single line. PATCH accepts any one of
// quantity, rate or line_tax.
func (a *API) handleCartItem(w http.ResponseWriter, r *http.Request, register string, itemCode string) {
	switch r.Method {
	case http.MethodPatch:
		var req lineItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var view domain.CartView
		var err error
		switch {
		case req.Quantity != nil:
			view, err = a.service.SetQuantity(r.Context(), register, itemCode, *req.Quantity)
		case req.Rate != nil:
			view, err = a.service.SetRate(r.Context(), register, itemCode, *req.Rate)
		case req.LineTax != nil:
			view, err = a.service.SetLineTax(r.Context(), register, itemCode, *req.LineTax)
		default:
			writeError(w, http.StatusBadRequest, errors.New("quantity, rate or line_tax required"))
			return
		}
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		view, err := a.service.RemoveItem(r.Context(), register, itemCode)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentMethod(w http.ResponseWriter, r *http.Request, register string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PaymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetPaymentMethod(r.Context(), register, req.Method)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handlePaymentAmounts(w http.ResponseWriter, r *http.Request, register string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PaymentAmountsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetPaymentAmounts(r.Context(), register, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request, register string) {
	switch r.Method {
	case http.MethodGet:
		held, err := a.service.ListHeld(r.Context(), register)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"held": held})
	case http.MethodPost:
		var req domain.HoldRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		held, err := a.service.Hold(r.Context(), register, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"held": held})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleHoldResume(w http.ResponseWriter, r *http.Request, register string, holdID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	view, err := a.service.ResumeHeld(r.Context(), register, holdID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleHoldDiscard(w http.ResponseWriter, r *http.Request, register string, holdID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DiscardHeld(r.Context(), register, holdID); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request, register string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Checkout(r.Context(), register, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleVoucherActions routes /api/v1/vouchers/{voucher} and its
// confirm/delete sub-actions.
func (a *API) handleVoucherActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/vouchers/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(tail, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("voucher number required"))
		return
	}
	voucherNo := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		voucher, err := a.service.GetVoucher(r.Context(), voucherNo)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"voucher": voucher})
	case len(parts) == 2 && parts[1] == "confirm":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		// Posting a draft moves stock. A supervisor PIN must accompany the
		// request; the bearer token alone is not enough.
		if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
			writeError(w, http.StatusForbidden, errors.New("valid manager PIN required"))
			return
		}
		voucher, err := a.service.ConfirmVoucher(r.Context(), voucherNo)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"voucher": voucher})
	case len(parts) == 2 && parts[1] == "delete":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
			writeError(w, http.StatusForbidden, errors.New("valid manager PIN required"))
			return
		}
		voucher, err := a.service.DeleteVoucher(r.Context(), voucherNo)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"voucher": voucher})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown voucher action"))
	}
}

// writeServiceError maps domain and service errors onto HTTP statuses.
// Stock conflicts carry the per-line payload the register renders inline.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "validation failed",
			"reasons": verr.Reasons,
		})
		return
	}
	var serr *service.ServerValidationError
	if errors.As(err, &serr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             serr.Error(),
			"validation_errors": serr.Conflicts,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrLineNotFound), errors.Is(err, service.ErrUnknownRegister):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrTenantUnresolved):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, service.ErrSubmissionInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrStockExceeded),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidRate),
		errors.Is(err, cart.ErrInvalidLineTax),
		errors.Is(err, cart.ErrInvalidDiscount),
		errors.Is(err, service.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, cart.ErrRateLocked),
		errors.Is(err, cart.ErrLineTaxLocked),
		errors.Is(err, payment.ErrUnsupportedMethod),
		errors.Is(err, payment.ErrNotCardMethod),
		errors.Is(err, store.ErrInvalidVoucher):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
