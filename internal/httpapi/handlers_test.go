package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/janiator/filament-pos-stripe-sub001/internal/cache"
	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/report"
	"github.com/janiator/filament-pos-stripe-sub001/internal/service"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store/memory"
)

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}
	return string(hash)
}

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	repo := memory.New()
	for _, user := range []domain.UserAccount{
		{Username: "admin", Password: mustHashPassword(t, "admin-pass"), Role: "admin", Active: true},
		{Username: "operator", Password: mustHashPassword(t, "operator-pass"), Role: "operator", Active: true},
		{Username: "feeder", Password: mustHashPassword(t, "feed-pass"), Role: "feed", Active: true},
	} {
		if err := repo.CreateUser(context.Background(), user); err != nil {
			t.Fatalf("seed user %s failed: %v", user.Username, err)
		}
	}

	svc := service.New(repo, cache.NoopReportCache{}, report.StaticCatalog{}, "main-store", time.Second)
	auth := NewAuthManager("test-secret-0123456789-0123456789", time.Hour, repo)
	api := New(svc, auth, "http://localhost:3000")
	return api, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return resp.AccessToken
}

func TestHealthz(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "operator",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionOpenRequiresBearerToken(t *testing.T) {
	api, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", "", api.generateCSRFToken(), domain.OpenSessionRequest{DeviceID: "dev-1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestFeedRoleCannotOpenSessions(t *testing.T) {
	api, handler := newTestAPI(t)
	token := login(t, handler, "feeder", "feed-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, api.generateCSRFToken(), domain.OpenSessionRequest{DeviceID: "dev-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSessionOpenRequiresCSRFToken(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "operator", "operator-pass")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, "", domain.OpenSessionRequest{DeviceID: "dev-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := login(t, handler, "operator", "operator-pass")
	csrf := api.generateCSRFToken()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, csrf, domain.OpenSessionRequest{
		DeviceID:            "dev-1",
		OpeningBalanceCents: 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var opened domain.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode open response failed: %v", err)
	}

	// A second open on the same device reports the blocking session.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, csrf, domain.OpenSessionRequest{DeviceID: "dev-1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d, want 409", rec.Code)
	}
	var conflict map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decode conflict response failed: %v", err)
	}
	if conflict["open_session_id"] != opened.Session.ID {
		t.Fatalf("conflict open_session_id = %v, want %s", conflict["open_session_id"], opened.Session.ID)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+opened.Session.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+opened.Session.ID+"/cash-deposit", token, csrf, domain.CashMovementRequest{AmountCents: 500})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+opened.Session.ID+"/x-report", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("x-report status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+opened.Session.ID+"/close", token, csrf, domain.CloseSessionRequest{ActualCashCents: 10500})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var closed domain.ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &closed); err != nil {
		t.Fatalf("decode close response failed: %v", err)
	}
	if closed.Session.CashDifferenceCents != 0 {
		t.Fatalf("cash difference = %d, want 0", closed.Session.CashDifferenceCents)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+opened.Session.ID+"/z-report", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("z-report status = %d, want 200", rec.Code)
	}

	// Closing twice is rejected as an invalid state.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+opened.Session.ID+"/close", token, csrf, domain.CloseSessionRequest{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second close status = %d, want 422", rec.Code)
	}
}

func TestFeedIngestIsCSRFExempt(t *testing.T) {
	_, handler := newTestAPI(t)
	token := login(t, handler, "feeder", "feed-pass")

	feed := domain.FeedTransaction{
		ExternalPaymentID: "pay-1",
		AmountCents:       2500,
		PaymentMethod:     domain.PaymentMethodCard,
		Paid:              true,
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/feed/transactions", token, "", feed)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first delivery status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/feed/transactions", token, "", feed)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", rec.Code)
	}
	var resp domain.FeedTransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode feed response failed: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("expected duplicate flag on redelivery")
	}
}

func TestReconciliationEndpointsAreAdminOnly(t *testing.T) {
	api, handler := newTestAPI(t)
	operatorToken := login(t, handler, "operator", "operator-pass")
	adminToken := login(t, handler, "admin", "admin-pass")
	csrf := api.generateCSRFToken()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/reconciliation/transactions", operatorToken, csrf, domain.ReconcileRequest{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("operator status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/reconciliation/transactions", adminToken, csrf, domain.ReconcileRequest{DryRun: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var summary domain.ReconcileSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary failed: %v", err)
	}
	if !summary.DryRun {
		t.Fatalf("expected dry-run summary")
	}
}

func TestEventsQueryOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := login(t, handler, "operator", "operator-pass")
	csrf := api.generateCSRFToken()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, csrf, domain.OpenSessionRequest{DeviceID: "dev-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d, want 201", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/events?event_code="+domain.SaftCodeSessionOpened, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", rec.Code)
	}
	var resp domain.EventListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events failed: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(resp.Events))
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	api, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !api.validateCSRFToken(resp["csrf_token"]) {
		t.Fatalf("issued token failed validation")
	}
}
