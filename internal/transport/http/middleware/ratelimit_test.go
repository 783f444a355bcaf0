package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pbc/internal/domain/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func loginReq(body, remoteAddr string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = remoteAddr
	return r
}

func TestRateLimitKeyedByLoginUsername(t *testing.T) {
	limited := RateLimit(1, time.Minute, LoginKey)(okHandler())

	// Same username from two different addresses shares one bucket.
	rec1 := httptest.NewRecorder()
	limited.ServeHTTP(rec1, loginReq(`{"username":"eve"}`, "198.51.100.11:2222"))
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("first attempt status = %d, want 204", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	limited.ServeHTTP(rec2, loginReq(`{"username":"EVE"}`, "198.51.100.12:3333"))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d, want 429", rec2.Code)
	}

	// A different username is unaffected.
	rec3 := httptest.NewRecorder()
	limited.ServeHTTP(rec3, loginReq(`{"username":"walt"}`, "198.51.100.11:2222"))
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("other user status = %d, want 204", rec3.Code)
	}
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	limited := RateLimit(1, time.Minute, LoginKey)(okHandler())

	rec1 := httptest.NewRecorder()
	limited.ServeHTTP(rec1, loginReq(`not json`, "203.0.113.10:4444"))
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	limited.ServeHTTP(rec2, loginReq(`not json`, "203.0.113.10:5555"))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
}

func TestRateLimitWindowReset(t *testing.T) {
	limited := RateLimit(1, 40*time.Millisecond, LoginKey)(okHandler())

	rec1 := httptest.NewRecorder()
	limited.ServeHTTP(rec1, loginReq(`{"username":"eve"}`, "192.0.2.20:1111"))
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	limited.ServeHTTP(rec2, loginReq(`{"username":"eve"}`, "192.0.2.20:1111"))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}

	time.Sleep(50 * time.Millisecond)

	rec3 := httptest.NewRecorder()
	limited.ServeHTTP(rec3, loginReq(`{"username":"eve"}`, "192.0.2.20:1111"))
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("post-window request status = %d, want 204", rec3.Code)
	}
}

func TestRateLimitReturnsRetryMetadata(t *testing.T) {
	limited := RateLimit(1, time.Minute, LoginKey)(okHandler())

	limited.ServeHTTP(httptest.NewRecorder(), loginReq(`{"username":"eve"}`, "192.0.2.30:1234"))
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, loginReq(`{"username":"eve"}`, "192.0.2.30:1234"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected X-RateLimit-Reset header")
	}
}

func TestRateLimitActorKeyBeforeIP(t *testing.T) {
	limited := RateLimit(1, time.Minute, ActorOrIPKey)(okHandler())

	ctx := context.WithValue(context.Background(), ctxKeyUser, auth.UserContext{UserID: 7, Username: "eve"})

	first := httptest.NewRequest(http.MethodPost, "/api/v1/pbc/submit", nil).WithContext(ctx)
	first.RemoteAddr = "198.51.100.40:8888"
	rec1 := httptest.NewRecorder()
	limited.ServeHTTP(rec1, first)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec1.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/pbc/submit", nil).WithContext(ctx)
	second.RemoteAddr = "198.51.100.41:9999"
	rec2 := httptest.NewRecorder()
	limited.ServeHTTP(rec2, second)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429 despite new address", rec2.Code)
	}
}

func TestRateLimitDisabledWithZeroLimit(t *testing.T) {
	limited := RateLimit(0, time.Minute, LoginKey)(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, loginReq(`{"username":"eve"}`, "192.0.2.50:1000"))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i+1, rec.Code)
		}
	}
}
