package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/models"
)

type fakeValidator struct {
	id   uuid.UUID
	role string
	err  error
}

func (f fakeValidator) ValidateToken(_ context.Context, _ string) (uuid.UUID, string, error) {
	return f.id, f.role, f.err
}

type fakeAccounts struct {
	acc *models.Account
}

func (f fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if f.acc == nil || f.acc.ID != id {
		return nil, errors.New("not found")
	}
	return f.acc, nil
}

func TestJWTAuth(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Role: models.RoleClient}

	var got *models.Account
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = AccountFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(fakeValidator{id: acc.ID, role: acc.Role}, fakeAccounts{acc: acc})(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.ID != acc.ID {
		t.Fatalf("account in context = %+v, want %s", got, acc.ID)
	}
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	handler := JWTAuth(fakeValidator{}, fakeAccounts{})(ok200)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	handler := JWTAuth(fakeValidator{err: errors.New("expired")}, fakeAccounts{})(ok200)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuth_UnknownAccount(t *testing.T) {
	handler := JWTAuth(fakeValidator{id: uuid.New()}, fakeAccounts{})(ok200)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
