package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"photoenhance/internal/domain"
)

func TestRateLimitKeyForAnonymousCallers(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "single ip",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "multiple ips use first",
			header:     " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back",
			header:     "invalid",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote fallback",
			header:     "invalid",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := rateLimitKey(req); got != "ip:"+tc.want {
				t.Fatalf("rateLimitKey() = %q, want ip:%s", got, tc.want)
			}
		})
	}
}

func TestRateLimitKeysByCaller(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	limited := 0
	h := RateLimit(l, func(w http.ResponseWriter, r *http.Request) {
		limited++
		w.WriteHeader(http.StatusTooManyRequests)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/photos", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		if user != "" {
			req = req.WithContext(ContextWithCaller(req.Context(), domain.EndUser(user)))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("alice"); code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("bob"); code != http.StatusNoContent {
		t.Fatalf("bob should have his own bucket, got %d", code)
	}
	if code := send(""); code != http.StatusNoContent {
		t.Fatalf("anonymous ip bucket should be fresh, got %d", code)
	}
	if limited != 1 {
		t.Fatalf("onLimited called %d times", limited)
	}
}

func TestLimiterPruneDropsIdleKeys(t *testing.T) {
	l := NewLimiter(1, time.Second)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(limiterIdleTTL + time.Second)
	l.Allow("b")
	if removed := l.Prune(); removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if !l.Allow("a") {
		t.Fatalf("pruned key should start with a full bucket")
	}
}
