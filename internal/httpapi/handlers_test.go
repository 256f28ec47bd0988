package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lumipos/backend/internal/cache"
	"lumipos/backend/internal/domain"
	"lumipos/backend/internal/service"
	"lumipos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopDraftCache{}, decimal.RequireFromString("7.5"))
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", repo)

	return New(svc, auth, "*"), repo
}

type testClient struct {
	t       *testing.T
	api     *API
	token   string
	csrf    string
	handler http.Handler
}

func newTestClient(t *testing.T) (*testClient, *memory.Store) {
	t.Helper()
	api, repo := newTestAPI(t)
	client := &testClient{t: t, api: api, handler: api.Handler()}
	client.token = loginAsAdmin(t, api)
	client.csrf = fetchCSRFToken(t, api)
	return client, repo
}

func (c *testClient) do(method string, path string, payload any) *httptest.ResponseRecorder {
	return c.doPIN(method, path, payload, "")
}

func (c *testClient) doPIN(method string, path string, payload any, pin string) *httptest.ResponseRecorder {
	c.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	if pin != "" {
		req.Header.Set("X-Manager-PIN", pin)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *testClient) decodeCart(rec *httptest.ResponseRecorder) domain.CartView {
	c.t.Helper()
	var view domain.CartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		c.t.Fatalf("decode cart view: %v (body %s)", err, rec.Body.String())
	}
	return view
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_SearchReturnsSeededItems(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/v1/products?search=laundry&register=pos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp domain.ProductSearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].ItemCode != "FG-0001" {
		t.Fatalf("unexpected item %s", resp.Results[0].ItemCode)
	}
}

func TestCartMutationsThroughHTTP(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/cart", domain.AddItemRequest{ItemCode: "FG-0001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	view := client.decodeCart(rec)
	if len(view.Items) != 1 || !view.Items[0].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected cart after add: %+v", view.Items)
	}

	qty := decimal.NewFromInt(3)
	rec = client.do(http.MethodPatch, "/api/v1/registers/pos/cart/items/FG-0001", map[string]any{"quantity": qty})
	if rec.Code != http.StatusOK {
		t.Fatalf("set quantity: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	view = client.decodeCart(rec)
	if !view.Items[0].Quantity.Equal(qty) {
		t.Fatalf("expected quantity 3, got %s", view.Items[0].Quantity)
	}
	if !view.Totals.Subtotal.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("expected subtotal 75, got %s", view.Totals.Subtotal)
	}

	rec = client.do(http.MethodDelete, "/api/v1/registers/pos/cart/items/FG-0001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove item: expected 200, got %d", rec.Code)
	}
	view = client.decodeCart(rec)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart after delete, got %d items", len(view.Items))
	}
}

func TestRateEditRejectedOnPOSRegister(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/cart", domain.AddItemRequest{ItemCode: "FG-0001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d", rec.Code)
	}

	rate := decimal.RequireFromString("19.99")
	rec = client.do(http.MethodPatch, "/api/v1/registers/pos/cart/items/FG-0001", map[string]any{"rate": rate})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for locked rate, got %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutThroughHTTP(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/cart", domain.AddItemRequest{ItemCode: "FG-0001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d", rec.Code)
	}

	rec = client.do(http.MethodPost, "/api/v1/registers/pos/checkout", domain.CheckoutRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if resp.VoucherNo != "SO--000001" {
		t.Fatalf("expected voucher SO--000001, got %s", resp.VoucherNo)
	}

	rec = client.do(http.MethodGet, "/api/v1/vouchers/"+resp.VoucherNo, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get voucher: expected 200, got %d", rec.Code)
	}
}

func TestCheckoutEmptyCartReturns422WithReasons(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/checkout", domain.CheckoutRequest{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error   string   `json:"error"`
		Reasons []string `json:"reasons"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Reasons) == 0 {
		t.Fatalf("expected validation reasons, got %+v", body)
	}
}

func TestCheckoutStockConflictReturns409WithLines(t *testing.T) {
	client, repo := newTestClient(t)

	for i := 0; i < 5; i++ {
		rec := client.do(http.MethodPost, "/api/v1/registers/pos/cart", domain.AddItemRequest{ItemCode: "FG-0003"})
		if rec.Code != http.StatusOK {
			t.Fatalf("add item %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// Another terminal sells the same stock before this checkout lands.
	repo.SetStock("FG-0003", decimal.NewFromInt(2))

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/checkout", domain.CheckoutRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error            string                 `json:"error"`
		ValidationErrors []domain.StockConflict `json:"validation_errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.ValidationErrors) != 1 {
		t.Fatalf("expected 1 conflict line, got %+v", body.ValidationErrors)
	}
	conflict := body.ValidationErrors[0]
	if conflict.ItemCode != "FG-0003" || !conflict.RequestedQty.Equal(decimal.NewFromInt(5)) || !conflict.AvailableStock.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected conflict payload: %+v", conflict)
	}
}

func TestHoldAndResumeThroughHTTP(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/pos/cart", domain.AddItemRequest{ItemCode: "FG-0002"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d", rec.Code)
	}

	rec = client.do(http.MethodPost, "/api/v1/registers/pos/hold", domain.HoldRequest{Notes: "customer stepped away"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold: expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var holdResp struct {
		Held domain.HeldTransaction `json:"held"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&holdResp); err != nil {
		t.Fatalf("decode hold response: %v", err)
	}
	if holdResp.Held.ID == "" {
		t.Fatalf("expected hold id, got %+v", holdResp)
	}

	rec = client.do(http.MethodGet, "/api/v1/registers/pos/hold", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list holds: expected 200, got %d", rec.Code)
	}

	rec = client.do(http.MethodPost, "/api/v1/registers/pos/hold/"+holdResp.Held.ID+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	view := client.decodeCart(rec)
	if len(view.Items) != 1 || view.Items[0].ItemCode != "FG-0002" {
		t.Fatalf("expected resumed cart with FG-0002, got %+v", view.Items)
	}

	rec = client.do(http.MethodPost, "/api/v1/registers/pos/hold/HOLD-0/resume", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown hold, got %d", rec.Code)
	}
}

func TestUnknownRegisterReturns404(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/v1/registers/espresso-bar/cart", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestCashierTokenLimitedToFrontRegisters(t *testing.T) {
	api, _ := newTestAPI(t)
	client := &testClient{t: t, api: api, handler: api.Handler()}
	client.token = loginAs(t, api, "cashier", "cashier123")
	client.csrf = fetchCSRFToken(t, api)

	rec := client.do(http.MethodGet, "/api/v1/registers/pos/cart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pos cart: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/v1/registers/purchase_order/cart", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("purchase_order cart: expected 403 for cashier token, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/v1/registers/sales_return/cart", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sales_return cart: expected 403 for cashier token, got %d", rec.Code)
	}
}

func TestVoucherConfirmAndDeleteRequireManagerPIN(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/registers/purchase_order/cart", domain.AddItemRequest{ItemCode: "RM-0100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	rec = client.do(http.MethodPost, "/api/v1/registers/purchase_order/checkout", domain.CheckoutRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}

	rec = client.do(http.MethodPost, "/api/v1/vouchers/"+resp.VoucherNo+"/confirm", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("confirm without PIN: expected 403, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = client.doPIN(http.MethodPost, "/api/v1/vouchers/"+resp.VoucherNo+"/confirm", nil, "000000")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("confirm with wrong PIN: expected 403, got %d", rec.Code)
	}

	rec = client.doPIN(http.MethodPost, "/api/v1/vouchers/"+resp.VoucherNo+"/confirm", nil, "739154")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm with PIN: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = client.doPIN(http.MethodPost, "/api/v1/vouchers/"+resp.VoucherNo+"/delete", nil, "739154")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("delete confirmed voucher: expected 400, got %d (body %s)", rec.Code, rec.Body.String())
	}
}
