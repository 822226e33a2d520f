package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitEnforcesBurst(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := RateLimit(inner, 2, 1)

	status := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
		req.RemoteAddr = "203.0.113.9:4242"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := status(); got != http.StatusOK {
		t.Fatalf("first request status=%d", got)
	}
	if got := status(); got != http.StatusOK {
		t.Fatalf("second request status=%d", got)
	}
	if got := status(); got != http.StatusTooManyRequests {
		t.Fatalf("over-burst status=%d, want 429", got)
	}
}

func TestRateLimitBucketsPerClient(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := RateLimit(inner, 1, 1)

	status := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := status("198.51.100.1"); got != http.StatusOK {
		t.Fatalf("first client status=%d", got)
	}
	if got := status("198.51.100.1"); got != http.StatusTooManyRequests {
		t.Fatalf("exhausted client status=%d, want 429", got)
	}
	// A different client keeps its own bucket.
	if got := status("198.51.100.2"); got != http.StatusOK {
		t.Fatalf("second client status=%d", got)
	}
}
