package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nvoice/backend/internal/account"
	"nvoice/backend/internal/catalog"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv/memory"
	"nvoice/backend/internal/logging"
	"nvoice/backend/internal/receipt"
	"nvoice/backend/internal/service"
)

// newTestAPI builds a full API over an in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	store := memory.New()
	logger := logging.Discard()
	svc := service.New(store, catalog.Default(), logger, service.Options{DefaultStock: 50, LowStockThreshold: 10})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	auth := NewAuthManager(
		"test-secret-key-with-at-least-32-chars",
		account.NewUserStore(store, logger),
		account.NewSessionStore(store, logger, time.Hour),
		logger,
	)
	receipts, err := receipt.NewRenderer(receipt.Options{StoreName: "Test Store", Currency: "INR"})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	return New(svc, auth, receipts, logger, Options{AllowedOrigin: "*"})
}

// registerUser signs up a fresh cashier and returns its bearer token.
func registerUser(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	res := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "secret1",
		"name":     "Cashier",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body domain.AuthResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return body.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, res.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestRegisterSetsCookieAndRejectsDuplicate(t *testing.T) {
	handler := newTestAPI(t).Handler()

	res := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "cashier@shop.com", "password": "secret1", "name": "Cashier",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	cookie := res.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != authCookieName || !cookie[0].HttpOnly || cookie[0].MaxAge != 3600 {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if cookie[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected SameSite=Lax, got %v", cookie[0].SameSite)
	}

	var body domain.AuthResponse
	decodeBody(t, res, &body)
	if !body.Success || body.User == nil || body.Token == "" {
		t.Fatalf("unexpected register response %+v", body)
	}

	dup := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "CASHIER@shop.com", "password": "secret1", "name": "Other",
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", dup.Code)
	}

	weak := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "new@shop.com", "password": "123", "name": "Weak",
	})
	if weak.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", weak.Code)
	}
	var weakBody domain.AuthResponse
	decodeBody(t, weak, &weakBody)
	if !strings.Contains(weakBody.Error, "password must be at least 6 characters") {
		t.Fatalf("unexpected error message %q", weakBody.Error)
	}
}

func TestHandleLogin(t *testing.T) {
	handler := newTestAPI(t).Handler()
	registerUser(t, handler, "cashier@shop.com")

	ok := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cashier@shop.com", "password": "secret1",
	})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", ok.Code, ok.Body.String())
	}
	var body domain.AuthResponse
	decodeBody(t, ok, &body)
	if body.User == nil || body.User.LastLogin == nil {
		t.Fatalf("expected lastLogin in response, got %+v", body.User)
	}

	wrong := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cashier@shop.com", "password": "nope",
	})
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", wrong.Code)
	}

	missing := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "cashier@shop.com"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", missing.Code)
	}
}

func TestMeAndLogout(t *testing.T) {
	handler := newTestAPI(t).Handler()

	if res := doJSON(t, handler, http.MethodGet, "/api/auth/me", "", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	token := registerUser(t, handler, "cashier@shop.com")
	me := doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", me.Code)
	}

	logout := doJSON(t, handler, http.MethodPost, "/api/auth/logout", token, nil)
	if logout.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", logout.Code)
	}
	cookies := logout.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
	if !strings.Contains(logout.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected Max-Age=0, got %q", logout.Header().Get("Set-Cookie"))
	}

	if res := doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", res.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := registerUser(t, handler, "cashier@shop.com")
	_, other, err := api.auth.Login(context.Background(), domain.LoginRequest{Email: "cashier@shop.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if res := doJSON(t, handler, http.MethodPost, "/api/auth/password", "", map[string]string{
		"currentPassword": "secret1", "newPassword": "fresh-pass",
	}); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/auth/password", token, nil); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}

	wrong := doJSON(t, handler, http.MethodPost, "/api/auth/password", token, map[string]string{
		"currentPassword": "nope", "newPassword": "fresh-pass",
	})
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", wrong.Code)
	}
	short := doJSON(t, handler, http.MethodPost, "/api/auth/password", token, map[string]string{
		"currentPassword": "secret1", "newPassword": "123",
	})
	if short.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", short.Code)
	}

	ok := doJSON(t, handler, http.MethodPost, "/api/auth/password", token, map[string]string{
		"currentPassword": "secret1", "newPassword": "fresh-pass",
	})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", ok.Code, ok.Body.String())
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil); res.Code != http.StatusOK {
		t.Fatalf("expected caller session kept, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/auth/me", other, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected other session revoked, got %d", res.Code)
	}
	login := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cashier@shop.com", "password": "fresh-pass",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", login.Code)
	}
}

func TestSaleFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	for i := 0; i < 2; i++ {
		res := doJSON(t, handler, http.MethodPost, "/api/cart/items", token, map[string]string{"productId": "1"})
		if res.Code != http.StatusOK {
			t.Fatalf("add item expected 200, got %d (body: %s)", res.Code, res.Body.String())
		}
	}

	var cartBody struct {
		Cart domain.CartView `json:"cart"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/cart", token, nil), &cartBody)
	if cartBody.Cart.ItemCount != 2 || cartBody.Cart.Total.String() != "110" {
		t.Fatalf("unexpected cart %+v", cartBody.Cart)
	}

	created := doJSON(t, handler, http.MethodPost, "/api/invoices", token, nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("generate expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	var invoiceBody struct {
		Invoice domain.Invoice `json:"invoice"`
	}
	decodeBody(t, created, &invoiceBody)
	number := invoiceBody.Invoice.InvoiceNumber
	if !strings.HasPrefix(number, "INV-") || invoiceBody.Invoice.Total.String() != "110" {
		t.Fatalf("unexpected invoice %+v", invoiceBody.Invoice)
	}

	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/cart", token, nil), &cartBody)
	if len(cartBody.Cart.Items) != 0 {
		t.Fatalf("expected cart cleared after checkout, got %+v", cartBody.Cart.Items)
	}

	var inventory struct {
		Inventory []domain.ProductStock `json:"inventory"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/inventory", token, nil), &inventory)
	for _, item := range inventory.Inventory {
		if item.Product.ID == "1" && item.Stock != 48 {
			t.Fatalf("expected stock 48 for rice, got %d", item.Stock)
		}
	}

	receiptRes := doJSON(t, handler, http.MethodGet, "/api/invoices/"+number+"/receipt", token, nil)
	if receiptRes.Code != http.StatusOK {
		t.Fatalf("receipt expected 200, got %d", receiptRes.Code)
	}
	if !strings.Contains(receiptRes.Body.String(), "Walk-in Customer") {
		t.Fatalf("expected walk-in label in receipt")
	}

	export := doJSON(t, handler, http.MethodGet, "/api/invoices/"+number+"/export", token, nil)
	if got := export.Header().Get("Content-Disposition"); !strings.Contains(got, "invoice_"+number+".json") {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}

	edit := doJSON(t, handler, http.MethodPost, "/api/invoices/"+number+"/edit", token, nil)
	if edit.Code != http.StatusOK {
		t.Fatalf("edit expected 200, got %d", edit.Code)
	}
	decodeBody(t, edit, &cartBody)
	if cartBody.Cart.ItemCount != 2 {
		t.Fatalf("expected rehydrated cart with 2 items, got %+v", cartBody.Cart)
	}
}

func TestCheckoutEmptyCartIsBadRequest(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	res := doJSON(t, handler, http.MethodPost, "/api/invoices", token, map[string]string{"paymentMethod": "card"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestInvoiceNotFoundAndFilterValidation(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	if res := doJSON(t, handler, http.MethodGet, "/api/invoices/INV-20990101-0001", token, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodDelete, "/api/invoices/INV-20990101-0001", token, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on delete, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/invoices?type=refunded", token, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/invoices?min=abc", token, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad min, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/invoices?type=edited&from=2026-01-01&to=2026-01-31", token, nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestCustomerEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	invalid := doJSON(t, handler, http.MethodPost, "/api/customers", token, map[string]string{"name": "Ravi", "email": "bad"})
	if invalid.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", invalid.Code)
	}

	created := doJSON(t, handler, http.MethodPost, "/api/customers", token, map[string]string{"name": "Ravi", "mobile": "9876543210"})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	var body struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, created, &body)
	id := body.Customer.ID

	patched := doJSON(t, handler, http.MethodPatch, "/api/customers/"+id, token, map[string]string{"address": "MG Road"})
	if patched.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", patched.Code)
	}

	var list struct {
		Customers []domain.Customer `json:"customers"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/customers?q=ravi", token, nil), &list)
	if len(list.Customers) != 1 || list.Customers[0].Address != "MG Road" {
		t.Fatalf("unexpected customers %+v", list.Customers)
	}

	if res := doJSON(t, handler, http.MethodGet, "/api/customers/"+id+"/invoices", token, nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodDelete, "/api/customers/"+id, token, nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/api/customers/"+id, token, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	if res := doJSON(t, handler, http.MethodPut, "/api/inventory/1", token, map[string]int{"stock": -1}); res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for negative stock, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodPut, "/api/inventory/1", token, map[string]string{"stock": "many"}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric stock, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodPut, "/api/inventory/999", token, map[string]int{"stock": 5}); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", res.Code)
	}

	set := doJSON(t, handler, http.MethodPut, "/api/inventory/1", token, map[string]int{"stock": 0})
	if set.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", set.Code, set.Body.String())
	}
	adjust := doJSON(t, handler, http.MethodPost, "/api/inventory/2/adjust", token, map[string]int{"delta": -45})
	if adjust.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", adjust.Code)
	}
	var adjusted struct {
		Item domain.ProductStock `json:"item"`
	}
	decodeBody(t, adjust, &adjusted)
	if adjusted.Item.Stock != 5 || adjusted.Item.Status != domain.StockStatusLow {
		t.Fatalf("unexpected adjusted item %+v", adjusted.Item)
	}

	var low struct {
		Items []domain.ProductStock `json:"items"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/inventory/low-stock", token, nil), &low)
	if len(low.Items) != 2 {
		t.Fatalf("expected 2 low-stock items, got %d", len(low.Items))
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/inventory/out-of-stock", token, nil), &low)
	if len(low.Items) != 1 || low.Items[0].Product.ID != "1" {
		t.Fatalf("unexpected out-of-stock items %+v", low.Items)
	}
}

func TestPrefsEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	var got struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/prefs/theme", token, nil), &got)
	if string(got.Value) != "null" {
		t.Fatalf("expected null for unset pref, got %s", got.Value)
	}

	if res := doJSON(t, handler, http.MethodPut, "/api/prefs/theme", token, "dark"); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/prefs/theme", token, nil), &got)
	if string(got.Value) != `"dark"` {
		t.Fatalf("expected dark, got %s", got.Value)
	}
}

func TestDataExportImportClear(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	doJSON(t, handler, http.MethodPost, "/api/customers", token, map[string]string{"name": "Ravi", "mobile": "98765"})

	export := doJSON(t, handler, http.MethodGet, "/api/data/export", token, nil)
	if export.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", export.Code)
	}
	if !strings.Contains(export.Header().Get("Content-Disposition"), "pos_data_export_") {
		t.Fatalf("unexpected Content-Disposition %q", export.Header().Get("Content-Disposition"))
	}
	exported := export.Body.Bytes()

	clear := doJSON(t, handler, http.MethodPost, "/api/data/clear", token, nil)
	if clear.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", clear.Code)
	}
	var list struct {
		Customers []domain.Customer `json:"customers"`
	}
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/customers", token, nil), &list)
	if len(list.Customers) != 0 {
		t.Fatalf("expected no customers after clear, got %d", len(list.Customers))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/data/import", bytes.NewReader(exported))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("import expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/customers", token, nil), &list)
	if len(list.Customers) != 1 {
		t.Fatalf("expected 1 customer after import, got %d", len(list.Customers))
	}

	if me := doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil); me.Code != http.StatusOK {
		t.Fatalf("clear must keep sessions, got %d", me.Code)
	}
}

func TestDataImportAcceptsPairArrayInventory(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerUser(t, handler, "cashier@shop.com")

	body := `{"customers":[],"invoices":[],"inventory":[["1",7],["2",0]],"exportDate":"2026-01-01T00:00:00.000Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/data/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("import expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	var exported domain.DataExport
	decodeBody(t, doJSON(t, handler, http.MethodGet, "/api/data/export", token, nil), &exported)
	if exported.Inventory["1"] != 7 || exported.Inventory["2"] != 0 {
		t.Fatalf("unexpected inventory after import %+v", exported.Inventory)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/data/import", strings.NewReader(`{"inventory":[["1"]]}`))
	bad.Header.Set("Authorization", "Bearer "+token)
	badRes := httptest.NewRecorder()
	handler.ServeHTTP(badRes, bad)
	if badRes.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed pair, got %d", badRes.Code)
	}
}
