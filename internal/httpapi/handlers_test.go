package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/recon"
	"billmitra/backend/internal/service"
	"billmitra/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", "admin123", "admin"},
		{"cashier", "cashier123", "cashier"},
	} {
		err := repo.CreateUser(context.Background(), domain.UserAccount{
			Username:  u.username,
			Password:  mustHashPassword(t, u.password),
			Role:      u.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", u.username, err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine := recon.NewEngine(repo, nil, logger)
	svc := service.New(repo, engine, nil, time.Minute, logger)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", logger)
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
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
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
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
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
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

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestBillsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBillReturnLifecycle(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	billPayload := map[string]any{
		"bill_no": "NB001",
		"date":    "2026-09-01",
		"client":  map[string]string{"name": "Ravi", "mobile": "9876543210"},
		"items": []map[string]any{
			{"category": "Wire", "desc": "Copper Wire 0.75 mm", "qty": 10, "rate": "5", "unit": "meter", "amount": "50"},
		},
		"totals": map[string]string{"sub_total": "50.00", "round_off": "0.00", "net_amount": "50.00"},
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, billPayload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save bill: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	returnPayload := map[string]any{
		"original_bill_no": "NB001",
		"return_date":      "2026-09-01",
		"items": []map[string]any{
			{"category": "Wire", "desc": "Copper Wire 0.75 mm", "qty": 4, "rate": "5", "unit": "meter", "amount": "20"},
		},
		"totals": map[string]string{"sub_total": "20.00", "round_off": "0.00", "net_amount": "20.00"},
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, returnPayload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save return: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		ReturnBill domain.ReturnBill `json:"return_bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if created.ReturnBill.ReturnID != "RB001" {
		t.Fatalf("expected derived return id RB001, got %s", created.ReturnBill.ReturnID)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/updated/all", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list updated: expected 200, got %d", rec.Code)
	}
	var listed struct {
		UpdatedBills []domain.UpdatedBill `json:"updated_bills"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode updated bills: %v", err)
	}
	if len(listed.UpdatedBills) != 1 {
		t.Fatalf("expected 1 updated bill, got %d", len(listed.UpdatedBills))
	}
	got := listed.UpdatedBills[0]
	if got.UpdatedBillID != "UB001" || got.Totals.NetAmount != "30.00" {
		t.Fatalf("unexpected updated bill: %+v", got)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/bills/NB001", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete bill: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/updated/all", token, nil)
	listed.UpdatedBills = nil
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode updated bills: %v", err)
	}
	if len(listed.UpdatedBills) != 0 {
		t.Fatalf("expected no updated bills after source delete, got %d", len(listed.UpdatedBills))
	}
}

func TestSaveBillInvalidNumber(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"bill_no": "XX001",
		"date":    "2026-09-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign prefix, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestFindBillShortInput(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"bill_no": "NB007",
		"date":    "2026-09-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("save bill: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/bills/find/7", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("find: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Bill domain.Bill `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode bill: %v", err)
	}
	if body.Bill.BillNo != "NB007" {
		t.Fatalf("expected NB007, got %s", body.Bill.BillNo)
	}
}

func TestNextBillNoRoute(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/bills/next-number", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var next domain.NextBillNoResponse
	if err := json.NewDecoder(rec.Body).Decode(&next); err != nil {
		t.Fatalf("decode next number: %v", err)
	}
	if next.NextBillNo != "NB001" {
		t.Fatalf("expected NB001 on empty store, got %s", next.NextBillNo)
	}
}

func TestCheckReturnRoute(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/returns/check/NB001", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.ReturnCheckResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode check response: %v", err)
	}
	if resp.Exists {
		t.Fatal("no return exists yet")
	}
}

func TestCashiersRouteRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := login(t, handler, "cashier", "cashier123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier role, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d", rec.Code)
	}
}

func TestCreateProductForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{
		"category": "Cable",
		"items":    []map[string]any{{"name": "Coaxial Cable", "unit": "meter", "price": "18.00"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
