package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"barpos/backend/internal/lock"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/service"
	"barpos/backend/internal/store"
	"barpos/backend/internal/units"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.Fatal("failed to generate csrf secret", zap.Error(err))
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger.Named("http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour is the hex HMAC of an hour bucket (Unix seconds).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current and the previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

var errTooManyLogins = errors.New("too many login attempts")

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

	kept := slices.DeleteFunc(l.entries[key], func(ts time.Time) bool { return !ts.After(cutoff) })
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
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
	anyone := []string{"cashier", "admin"}
	admin := []string{"admin"}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyone...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyone...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, admin...))
	mux.HandleFunc("GET /api/v1/products/{id}/recipe", a.requireAuth(a.handleGetRecipe, anyone...))
	mux.HandleFunc("PUT /api/v1/products/{id}/recipe", a.requireAuth(a.handleSetRecipe, admin...))

	mux.HandleFunc("GET /api/v1/inventory/moves", a.requireAuth(a.handleListMoves, admin...))
	mux.HandleFunc("POST /api/v1/inventory/moves", a.requireAuth(a.handleCreateMove, admin...))
	mux.HandleFunc("GET /api/v1/inventory/moves/{id}", a.requireAuth(a.handleGetMove, admin...))
	mux.HandleFunc("PATCH /api/v1/inventory/moves/{id}", a.requireAuth(a.handleUpdateMove, admin...))
	mux.HandleFunc("DELETE /api/v1/inventory/moves/{id}", a.requireAuth(a.handleDeleteMove, admin...))
	mux.HandleFunc("POST /api/v1/inventory/receive", a.requireAuth(a.handleReceiveStock, admin...))
	mux.HandleFunc("POST /api/v1/inventory/adjust", a.requireAuth(a.handleAdjustStock, admin...))
	mux.HandleFunc("GET /api/v1/inventory/low-stock", a.requireAuth(a.handleLowStock, anyone...))
	mux.HandleFunc("GET /api/v1/inventory/availability", a.requireAuth(a.handleAvailability, anyone...))
	mux.HandleFunc("GET /api/v1/inventory/audit", a.requireAuth(a.handleAuditLedger, admin...))

	mux.HandleFunc("POST /api/v1/reservations", a.requireAuth(a.handleReserve, anyone...))
	mux.HandleFunc("POST /api/v1/reservations/release", a.requireAuth(a.handleRelease, anyone...))
	mux.HandleFunc("GET /api/v1/reservations/summary", a.requireAuth(a.handleReservationSummary, anyone...))

	mux.HandleFunc("GET /api/v1/tabs", a.requireAuth(a.handleListTabs, anyone...))
	mux.HandleFunc("POST /api/v1/tabs", a.requireAuth(a.handleOpenTab, anyone...))
	mux.HandleFunc("GET /api/v1/tabs/{id}", a.requireAuth(a.handleGetTab, anyone...))
	mux.HandleFunc("PATCH /api/v1/tabs/{id}", a.requireAuth(a.handleUpdateTab, anyone...))
	mux.HandleFunc("DELETE /api/v1/tabs/{id}", a.requireAuth(a.handleDeleteTab, anyone...))
	mux.HandleFunc("POST /api/v1/tabs/{id}/items", a.requireAuth(a.handleAddTabItem, anyone...))
	mux.HandleFunc("PATCH /api/v1/tabs/{id}/items/{itemID}", a.requireAuth(a.handleUpdateTabItem, anyone...))
	mux.HandleFunc("DELETE /api/v1/tabs/{id}/items/{itemID}", a.requireAuth(a.handleDeleteTabItem, anyone...))
	mux.HandleFunc("POST /api/v1/tabs/{id}/clear", a.requireAuth(a.handleClearTab, anyone...))
	mux.HandleFunc("POST /api/v1/tabs/{id}/close", a.requireAuth(a.handleCloseTab, anyone...))
	mux.HandleFunc("POST /api/v1/tabs/{id}/reopen", a.requireAuth(a.handleReopenTab, anyone...))
	mux.HandleFunc("GET /api/v1/tabs/{id}/sale-payload", a.requireAuth(a.handleTabSalePayload, anyone...))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, anyone...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyone...))
	mux.HandleFunc("GET /api/v1/sales/summary", a.requireAuth(a.handleSalesSummary, admin...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyone...))
	mux.HandleFunc("POST /api/v1/sales/{id}/void", a.requireAuth(a.handleVoidSale, admin...))
	mux.HandleFunc("POST /api/v1/sales/{id}/returns", a.requireAuth(a.handleCreateReturn, anyone...))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, anyone...))
	mux.HandleFunc("POST /api/v1/returns/{id}/refund-payment", a.requireAuth(a.handleRetryRefundPayment, admin...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, admin...))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin...))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// checkManagerPIN applies the per-client attempt limit before comparing the PIN.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

// csrfExemptPaths are called before a client can have fetched a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF requires X-CSRF-Token on every state-changing method.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if slices.Contains(csrfExemptPaths, r.URL.Path) {
		return true
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, store.ErrInvalidPayment),
		errors.Is(err, units.ErrInvalidUnit),
		errors.Is(err, units.ErrInvalidQuantity),
		errors.Is(err, recipe.ErrInvalidRecipe):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrSaleNotEligible),
		errors.Is(err, store.ErrReturnQuantityExceeded),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, lock.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, recipe.ErrRoleMismatch),
		errors.Is(err, recipe.ErrNoRecipe),
		errors.Is(err, recipe.ErrUnknownIngredient):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Stock and return
// quantity failures carry their numbers so a client can correct the request.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, err)
		return
	}

	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
		return
	}
	var qtyErr *store.ReturnQuantityError
	if errors.As(err, &qtyErr) {
		writeJSON(w, status, map[string]any{
			"error":        err.Error(),
			"sale_item_id": qtyErr.SaleItemID,
			"requested":    qtyErr.Requested,
			"remaining":    qtyErr.Remaining,
		})
		return
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseOffset(raw string) int {
	offset, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// parseTimeParam reads an optional date (YYYY-MM-DD) or RFC 3339 query value.
func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be a date or RFC 3339 timestamp", key)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
