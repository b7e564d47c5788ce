package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// limitedRouter mirrors the server wiring: the limiter sits on the root
// router in front of every route.
func limitedRouter(rps float64, burst int) *mux.Router {
	r := mux.NewRouter()
	r.Use(RateLimitMiddleware(rps, burst))
	r.HandleFunc("/api/notifications", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func hit(h http.Handler, remoteAddr, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitMiddleware_RejectsWithRetryAfter(t *testing.T) {
	r := limitedRouter(1, 2)

	for i := 0; i < 2; i++ {
		if rr := hit(r, "10.0.0.1:5000", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i+1, rr.Code)
		}
	}

	rr := hit(r, "10.0.0.1:5000", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past burst, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error, got content type %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("unexpected error body %v", body)
	}
}

func TestRateLimitMiddleware_KeysOnPeerAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
		xff  string
		want int
	}{
		{"same peer, new port", "10.0.0.1:6000", "", http.StatusTooManyRequests},
		{"same peer, spoofed forwarded-for", "10.0.0.1:5000", "198.51.100.99", http.StatusTooManyRequests},
		{"other peer, same forwarded-for", "10.0.0.2:5000", "203.0.113.50", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := limitedRouter(1, 1)
			if rr := hit(r, "10.0.0.1:5000", "203.0.113.50"); rr.Code != http.StatusOK {
				t.Fatalf("first request: got %d", rr.Code)
			}
			if rr := hit(r, tt.addr, tt.xff); rr.Code != tt.want {
				t.Errorf("second request: expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestClientIP_FallsBackToRawRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "unix-socket"
	if got := clientIP(req); got != "unix-socket" {
		t.Errorf("clientIP() = %q", got)
	}
}

func TestRateLimiterStore_EvictsIdle(t *testing.T) {
	store := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		rps:      1,
		burst:    1,
		idleTTL:  time.Minute,
	}
	store.getLimiter("10.0.0.1")
	store.getLimiter("10.0.0.2")
	store.limiters["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Minute)

	store.evictIdle(time.Now())

	if _, ok := store.limiters["10.0.0.1"]; ok {
		t.Error("expected idle limiter to be evicted")
	}
	if _, ok := store.limiters["10.0.0.2"]; !ok {
		t.Error("expected active limiter to be kept")
	}
}

func TestRateLimiterStore_EvictedPeerStartsFresh(t *testing.T) {
	store := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		rps:      0.001,
		burst:    1,
		idleTTL:  time.Minute,
	}
	if !store.getLimiter("10.0.0.1").Allow() {
		t.Fatal("expected first token")
	}
	if store.getLimiter("10.0.0.1").Allow() {
		t.Fatal("expected bucket drained")
	}

	store.evictIdle(time.Now().Add(2 * time.Minute))

	if !store.getLimiter("10.0.0.1").Allow() {
		t.Error("expected a fresh bucket after eviction")
	}
}
