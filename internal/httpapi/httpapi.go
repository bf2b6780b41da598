package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/receipt"
	"nvoice/backend/internal/service"
	"nvoice/backend/internal/validate"
)

const authCookieName = "auth_token"

type Options struct {
	AllowedOrigin string
	CookieSecure  bool
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	receipts      *receipt.Renderer
	logger        *slog.Logger
	allowedOrigin string
	cookieSecure  bool
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, receipts *receipt.Renderer, logger *slog.Logger, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		receipts:      receipts,
		logger:        logger,
		allowedOrigin: opts.AllowedOrigin,
		cookieSecure:  opts.CookieSecure,
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

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
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
	mux.HandleFunc("/api/auth/register", a.handleRegister)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/auth/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("/api/auth/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("/api/auth/password", a.requireAuth(a.handleChangePassword))

	mux.HandleFunc("/api/products", a.requireAuth(a.handleProducts))

	mux.HandleFunc("/api/cart", a.requireAuth(a.handleCart))
	mux.HandleFunc("/api/cart/items", a.requireAuth(a.handleCartItems))
	mux.HandleFunc("/api/cart/items/{id}", a.requireAuth(a.handleCartItem))
	mux.HandleFunc("/api/cart/customer", a.requireAuth(a.handleCartCustomer))
	mux.HandleFunc("/api/cart/reset", a.requireAuth(a.handleCartReset))

	mux.HandleFunc("/api/invoices", a.requireAuth(a.handleInvoices))
	mux.HandleFunc("/api/invoices/{no}", a.requireAuth(a.handleInvoice))
	mux.HandleFunc("/api/invoices/{no}/edit", a.requireAuth(a.handleInvoiceEdit))
	mux.HandleFunc("/api/invoices/{no}/export", a.requireAuth(a.handleInvoiceExport))
	mux.HandleFunc("/api/invoices/{no}/receipt", a.requireAuth(a.handleInvoiceReceipt))

	mux.HandleFunc("/api/customers", a.requireAuth(a.handleCustomers))
	mux.HandleFunc("/api/customers/{id}", a.requireAuth(a.handleCustomer))
	mux.HandleFunc("/api/customers/{id}/invoices", a.requireAuth(a.handleCustomerInvoices))

	mux.HandleFunc("/api/inventory", a.requireAuth(a.handleInventory))
	mux.HandleFunc("/api/inventory/low-stock", a.requireAuth(a.handleLowStock))
	mux.HandleFunc("/api/inventory/out-of-stock", a.requireAuth(a.handleOutOfStock))
	mux.HandleFunc("/api/inventory/{productId}", a.requireAuth(a.handleInventoryItem))
	mux.HandleFunc("/api/inventory/{productId}/adjust", a.requireAuth(a.handleInventoryAdjust))

	mux.HandleFunc("/api/prefs/{key}", a.requireAuth(a.handlePref))

	mux.HandleFunc("/api/data/export", a.requireAuth(a.handleDataExport))
	mux.HandleFunc("/api/data/import", a.requireAuth(a.handleDataImport))
	mux.HandleFunc("/api/data/clear", a.requireAuth(a.handleDataClear))

	return a.withMiddleware(mux)
}

// requireAuth accepts a bearer token or the auth cookie. Cookie-authenticated
// requests that change state must also carry a CSRF token.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing auth token"))
			return
		}

		actor, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		if fromCookie && !a.checkCSRF(w, r) {
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func requestToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):]), false
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return strings.TrimSpace(cookie.Value), true
	}
	return "", false
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
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

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Cookie-authenticated clients send it in the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.AuthResponse{Error: err.Error()})
		return
	}

	user, token, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.failAuth(w, r, err)
		return
	}
	a.setAuthCookie(w, token, a.auth.SessionTTL())
	writeJSON(w, http.StatusCreated, domain.AuthResponse{Success: true, User: &user, Token: token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, domain.AuthResponse{Error: "too many login attempts"})
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.AuthResponse{Error: err.Error()})
		return
	}

	user, token, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.failAuth(w, r, err)
		return
	}
	a.setAuthCookie(w, token, a.auth.SessionTTL())
	writeJSON(w, http.StatusOK, domain.AuthResponse{Success: true, User: &user, Token: token})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), actor); err != nil {
		a.fail(w, r, err)
		return
	}
	a.setAuthCookie(w, "", 0)
	writeJSON(w, http.StatusOK, domain.AuthResponse{Success: true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	user, err := a.auth.Me(r.Context(), actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.AuthResponse{Success: true, User: &user})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, domain.AuthResponse{Error: "too many attempts"})
		return
	}

	var req domain.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.AuthResponse{Error: err.Error()})
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	if err := a.auth.ChangePassword(r.Context(), actor, req); err != nil {
		a.failAuth(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.AuthResponse{Success: true})
}

// setAuthCookie with ttl 0 expires the cookie.
func (a *API) setAuthCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	products, err := a.service.Products(r.Context(), query.Get("q"), query.Get("category"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products":   products,
		"categories": a.service.Categories(),
	})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	var (
		view domain.CartView
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		view, err = a.service.Cart(r.Context())
	case http.MethodDelete:
		view, err = a.service.ClearCart(r.Context())
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.AddCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddToCart(r.Context(), req.ProductID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartItem(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")
	var (
		view domain.CartView
		err  error
	)
	switch r.Method {
	case http.MethodPatch:
		var req domain.AdjustQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err = a.service.AdjustCartItem(r.Context(), productID, req.Delta)
	case http.MethodDelete:
		view, err = a.service.RemoveCartItem(r.Context(), productID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var info domain.CustomerInfo
	if err := decodeJSON(r, &info); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetCartCustomer(r.Context(), info)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.ResetTransaction(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.service.Cart(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseInvoiceFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoices, err := a.service.ListInvoices(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
	case http.MethodPost:
		var req domain.GenerateInvoiceRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice, err := a.service.CheckoutDraft(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"invoice": invoice})
	default:
		writeMethodNotAllowed(w)
	}
}

// parseInvoiceFilter reads the history filter from the query string. "to" is
// inclusive of the whole day when given as a date.
func parseInvoiceFilter(r *http.Request) (domain.InvoiceFilter, error) {
	query := r.URL.Query()
	filter := domain.InvoiceFilter{
		Query:      strings.TrimSpace(query.Get("q")),
		Date:       strings.TrimSpace(query.Get("date")),
		CustomerID: strings.TrimSpace(query.Get("customerId")),
	}
	if filter.Date != "" {
		if _, err := time.Parse(time.DateOnly, filter.Date); err != nil {
			return domain.InvoiceFilter{}, errors.New("date must be YYYY-MM-DD")
		}
	}

	for param, dest := range map[string]**decimal.Decimal{"min": &filter.MinAmount, "max": &filter.MaxAmount} {
		raw := strings.TrimSpace(query.Get(param))
		if raw == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.InvoiceFilter{}, fmt.Errorf("%s must be a number", param)
		}
		*dest = &amount
	}

	switch strings.ToLower(strings.TrimSpace(query.Get("type"))) {
	case "", "all":
	case "edited":
		filter.EditedOnly = true
	case "original":
		filter.OriginalOnly = true
	default:
		return domain.InvoiceFilter{}, errors.New("type must be all, edited or original")
	}

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := parseTimeParam(raw, false)
		if err != nil {
			return domain.InvoiceFilter{}, errors.New("from must be YYYY-MM-DD or RFC3339")
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := parseTimeParam(raw, true)
		if err != nil {
			return domain.InvoiceFilter{}, errors.New("to must be YYYY-MM-DD or RFC3339")
		}
		filter.To = &to
	}
	return filter, nil
}

func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	if day, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			return day.Add(24*time.Hour - time.Nanosecond), nil
		}
		return day, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("no")
	switch r.Method {
	case http.MethodGet:
		invoice, err := a.service.GetInvoice(r.Context(), number)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
	case http.MethodPatch:
		var patch domain.InvoicePatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice, err := a.service.UpdateInvoice(r.Context(), number, patch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
	case http.MethodDelete:
		deleted, err := a.service.DeleteInvoice(r.Context(), number)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, fmt.Errorf("invoice %s not found", number))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoiceEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	view, err := a.service.EditInvoice(r.Context(), r.PathValue("no"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleInvoiceExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("no"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body, err := receipt.ExportJSON(invoice)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeAttachment(w, "application/json", receipt.JSONFilename(invoice), body)
}

func (a *API) handleInvoiceReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("no"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := a.receipts.Render(&buf, invoice); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", receipt.HTMLFilename(invoice)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.ListCustomers(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var input domain.CustomerInput
		if err := decodeJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.AddCustomer(r.Context(), input)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		found, err := a.service.GetCustomer(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customer": found})
	case http.MethodPatch:
		var patch domain.CustomerPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateCustomer(r.Context(), id, patch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customer": updated})
	case http.MethodDelete:
		deleted, err := a.service.DeleteCustomer(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, fmt.Errorf("customer %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoices, err := a.service.CustomerInvoices(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	levels, err := a.service.InventoryLevels(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": levels})
}

func (a *API) handleInventoryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.SetStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		a.fail(w, r, err)
		return
	}
	level, err := a.service.SetStock(r.Context(), r.PathValue("productId"), *req.Stock)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": level})
}

func (a *API) handleInventoryAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.AdjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	level, err := a.service.AdjustStock(r.Context(), r.PathValue("productId"), req.Delta)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": level})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	threshold := parsePositiveInt(r.URL.Query().Get("threshold"), 0)
	items, err := a.service.LowStock(r.Context(), threshold)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleOutOfStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.OutOfStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handlePref(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	switch r.Method {
	case http.MethodGet:
		value, found, err := a.service.Pref(r.Context(), key)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if !found {
			value = json.RawMessage("null")
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
	case http.MethodPut:
		var value json.RawMessage
		if err := decodeJSON(r, &value); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.SetPref(r.Context(), key, value); err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDataExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	data, err := a.service.Export(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("pos_data_export_%s.json", data.ExportDate.Format("2006-01-02"))
	writeAttachment(w, "application/json", filename, body)
}

func (a *API) handleDataImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var data domain.DataImport
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.Import(r.Context(), data); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": true})
}

func (a *API) handleDataClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	removed, err := a.service.ClearAllData(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": removed})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		if a.allowedOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(startedAt),
		)
	})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmailTaken), errors.Is(err, domain.ErrDuplicateInvoice):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

// failAuth answers register and login in the AuthResponse shape. Missing or
// malformed fields are a plain 400 there.
func (a *API) failAuth(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status >= 500 {
		a.logger.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, domain.AuthResponse{Error: msg})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that tolerates an empty body.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveInt(raw string, fallback int) int {
	value := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			value = parsed
		}
	}
	return value
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (SQL errors, redis addresses, file paths, etc.).
	msg := err.Error()
	if status >= 500 {
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

func writeAttachment(w http.ResponseWriter, contentType string, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
