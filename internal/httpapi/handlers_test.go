package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/service"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, "123456", repo, nil)

	return New(svc, auth, "*", nil)
}

type session struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newSession(t *testing.T, api *API, username, password string) *session {
	t.Helper()
	return &session{t: t, api: api, token: loginAs(t, api, username, password), csrf: fetchCSRFToken(t, api)}
}

func (s *session) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-CSRF-Token", s.csrf)
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
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
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" || body.Role != "admin" {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "cashier", "cashier123")

	rec := s.do(http.MethodGet, "/api/v1/products?kind=COCKTAIL", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string][]domain.Product](t, rec)
	if len(body["products"]) == 0 {
		t.Fatalf("expected seeded cocktails, got %v", body)
	}
	for _, p := range body["products"] {
		if p.Kind != domain.KindCocktail {
			t.Fatalf("kind filter leaked %s (%s)", p.ID, p.Kind)
		}
	}
}

func TestCashierCannotUseAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "cashier", "cashier123")

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/v1/inventory/receive", map[string]any{"product_id": "prd-beer", "qty": 6}},
		{http.MethodGet, "/api/v1/inventory/audit", nil},
		{http.MethodGet, "/api/v1/sales/summary", nil},
		{http.MethodGet, "/api/v1/users/cashiers", nil},
	}
	for _, tc := range cases {
		rec := s.do(tc.method, tc.path, tc.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s expected 403 for cashier, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCreateSaleThenReturnWithSingleLineBody(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "cashier", "cashier123")

	rec := s.do(http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		Items:    []domain.SaleLineRequest{{ProductID: "prd-beer", Qty: 2}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, AmountCents: 20000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.SaleDetail](t, rec)
	if sale.Sale.TotalCents != 16000 || len(sale.Items) != 1 {
		t.Fatalf("unexpected sale %+v", sale.Sale)
	}

	rec = s.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/returns", map[string]any{
		"sale_item_id": sale.Items[0].ID,
		"qty":          1,
		"manager_pin":  "123456",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	ret := decodeBody[domain.ReturnResponse](t, rec)
	if ret.Return.AmountCents != 8000 {
		t.Fatalf("expected refund 8000, got %d", ret.Return.AmountCents)
	}
	if ret.Sale.Sale.Status != domain.SaleStatusPartialRefund {
		t.Fatalf("expected partial refund, got %s", ret.Sale.Sale.Status)
	}

	rec = s.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/returns", map[string]any{
		"sale_item_id": sale.Items[0].ID,
		"qty":          5,
		"manager_pin":  "123456",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for over-return, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["sale_item_id"] != sale.Items[0].ID || body["remaining"] != float64(1) {
		t.Fatalf("expected remaining quantity in body, got %v", body)
	}
}

func TestReturnBodyRejectsMixedShapes(t *testing.T) {
	body := returnBody{
		Items:      []domain.ReturnLineRequest{{SaleItemID: "si-1", Qty: 1}},
		SaleItemID: "si-2",
		Qty:        1,
	}
	if _, err := body.toRequest("sal-1"); err == nil {
		t.Fatalf("expected mixed body to be rejected")
	}
	if _, err := (returnBody{}).toRequest("sal-1"); err == nil {
		t.Fatalf("expected empty body to be rejected")
	}
	req, err := (returnBody{SaleItemID: "si-2", Qty: 3, Note: "spilled"}).toRequest("sal-1")
	if err != nil {
		t.Fatalf("toRequest: %v", err)
	}
	if req.SaleID != "sal-1" || len(req.Items) != 1 || req.Items[0].Qty != 3 || req.Note != "spilled" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestInsufficientStockReportsProduct(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "cashier", "cashier123")

	rec := s.do(http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		Items:    []domain.SaleLineRequest{{ProductID: "prd-beer", Qty: 49}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, AmountCents: 392000}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["product_id"] != "prd-beer" || body["requested"] != float64(49) || body["available"] != float64(48) {
		t.Fatalf("unexpected conflict body %v", body)
	}
}

func TestVoidNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "admin", "admin123")

	rec := s.do(http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		Items:    []domain.SaleLineRequest{{ProductID: "prd-mule", Qty: 1}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, AmountCents: 22000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.SaleDetail](t, rec)

	rec = s.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/void", domain.VoidRequest{Reason: "wrong drink", ManagerPIN: "999999"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/void", domain.VoidRequest{Reason: "wrong drink", ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	voided := decodeBody[domain.VoidResponse](t, rec)
	if voided.Sale.Sale.Status != domain.SaleStatusVoided || len(voided.Reversals) != 3 {
		t.Fatalf("expected voided sale with 3 reversals, got %s / %d", voided.Sale.Sale.Status, len(voided.Reversals))
	}

	rec = s.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/void", domain.VoidRequest{Reason: "again", ManagerPIN: "123456"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second void, got %d", rec.Code)
	}
}

func TestTabFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	s := newSession(t, api, "cashier", "cashier123")

	rec := s.do(http.MethodPost, "/api/v1/tabs", domain.TabCreateRequest{Name: "Booth 4"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	tab := decodeBody[map[string]domain.Tab](t, rec)["tab"]

	rec = s.do(http.MethodPost, "/api/v1/tabs/"+tab.ID+"/items", domain.TabItemRequest{ProductID: "prd-mule", Qty: 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/v1/reservations/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	summary := decodeBody[map[string][]domain.ReservationSummaryItem](t, rec)["items"]
	reserved := map[string]int64{}
	for _, row := range summary {
		reserved[row.ProductID] = row.ReservedQty
	}
	if reserved["prd-mule"] != 2 {
		t.Fatalf("unexpected reservation summary %v", reserved)
	}

	rec = s.do(http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		TabID:    tab.ID,
		Payments: []domain.PaymentRequest{{Method: domain.PaymentCash, AmountCents: 44000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/v1/tabs/"+tab.ID, nil)
	detail := decodeBody[domain.TabDetail](t, rec)
	if detail.Tab.Status != domain.TabStatusClosed {
		t.Fatalf("expected tab to close after sale, got %s", detail.Tab.Status)
	}

	rec = s.do(http.MethodPost, "/api/v1/tabs/"+tab.ID+"/items", domain.TabItemRequest{ProductID: "prd-beer", Qty: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 adding to a closed tab, got %d", rec.Code)
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("sale: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrInvalidPayment, http.StatusBadRequest},
		{recipe.ErrInvalidRecipe, http.StatusBadRequest},
		{&store.InsufficientStockError{ProductID: "prd-gin", Requested: 90, Available: 10}, http.StatusConflict},
		{lock.ErrBusy, http.StatusConflict},
		{store.ErrSaleNotEligible, http.StatusConflict},
		{recipe.ErrNoRecipe, http.StatusUnprocessableEntity},
		{recipe.ErrRoleMismatch, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
