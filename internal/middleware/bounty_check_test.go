package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

// injectAccount wraps a handler to pre-set the account in context,
// simulating what JWTAuth would do upstream.
func injectAccount(acc *models.Account, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
	})
}

func int64P(n int64) *int64 { return &n }

func noSpend(_ context.Context, _ uuid.UUID) (money.Cents, error) { return 0, nil }

// ok200 proves the middleware let the request through.
var ok200 = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestBountyCheck_WithinLimits(t *testing.T) {
	acc := &models.Account{
		ID:               uuid.New(),
		MaxBountyPerTask: int64P(50_000),
		MaxSpendPerDay:   int64P(200_000),
	}
	handler := injectAccount(acc, BountyCheck(noSpend)(ok200))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bounty":"300.00"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBountyCheck_ExceedsPerTask(t *testing.T) {
	acc := &models.Account{
		ID:               uuid.New(),
		MaxBountyPerTask: int64P(20_000),
	}
	handler := injectAccount(acc, BountyCheck(noSpend)(ok200))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bounty":"500.00"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBountyCheck_ExceedsDailyLimit(t *testing.T) {
	acc := &models.Account{
		ID:             uuid.New(),
		MaxSpendPerDay: int64P(100_000),
	}
	spent := func(_ context.Context, _ uuid.UUID) (money.Cents, error) {
		return 90_000, nil
	}
	handler := injectAccount(acc, BountyCheck(spent)(ok200))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bounty":"200.00"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBountyCheck_InvalidAmounts(t *testing.T) {
	acc := &models.Account{ID: uuid.New()}
	handler := injectAccount(acc, BountyCheck(noSpend)(ok200))

	for name, body := range map[string]string{
		"negative":     `{"bounty":"-10.00"}`,
		"zero":         `{"bounty":"0"}`,
		"sub-cent":     `{"bounty":"10.005"}`,
		"not a number": `{"bounty":"ten dollars"}`,
		"bad json":     `{`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestBountyCheck_NoAccount(t *testing.T) {
	handler := BountyCheck(noSpend)(ok200)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bounty":"10.00"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// BountyCheck must leave the body readable for the handler behind it.
func TestBountyCheck_BodyRestored(t *testing.T) {
	acc := &models.Account{ID: uuid.New()}
	var seen string
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})
	handler := injectAccount(acc, BountyCheck(noSpend)(capture))

	body := `{"bounty":"25.00","title":"fix it"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != body {
		t.Fatalf("handler saw body %q, want %q", seen, body)
	}
}
