package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pbc/internal/domain/auth"
)

func TestAuthPopulatesUserContext(t *testing.T) {
	token, err := auth.GenerateToken("secret", auth.Claims{UserID: 9, Username: "alice", Role: "gm"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var got auth.UserContext
	var ok bool
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok {
		t.Fatal("expected user in context")
	}
	if got.UserID != 9 || got.Username != "alice" || got.Role != "gm" {
		t.Fatalf("user = %+v", got)
	}
}

func TestAuthIgnoresInvalidToken(t *testing.T) {
	var ok bool
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = GetUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if ok {
		t.Fatal("expected no user in context")
	}
}

func TestRequireRole(t *testing.T) {
	token, err := auth.GenerateToken("secret", auth.Claims{UserID: 1, Username: "bob", Role: "employee"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	handler := Auth("secret")(RequireRole("gm")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
