package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedLimiterBurstThenRefill(t *testing.T) {
	limiter := newKeyedLimiter(60, 2)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("a") || !limiter.allow("a") {
		t.Fatalf("expected burst of 2")
	}
	if limiter.allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.allow("b") {
		t.Fatalf("expected independent key to pass")
	}
	now = now.Add(time.Second)
	if !limiter.allow("a") {
		t.Fatalf("expected refill after one second")
	}
}

func TestRateLimiterByClinicBody(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, ClinicPerMinute: 1, ClinicBurst: 1})
	var bodies []string
	server := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/queue-items", bytes.NewBufferString(`{"clinic_id":"c1"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if len(bodies) != 1 || bodies[0] != `{"clinic_id":"c1"}` {
		t.Fatalf("expected body restored for handler, got %v", bodies)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded client, got %s", got)
	}
}
