package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "propagates valid id", incoming: "abc-123_x.y", keep: true},
		{name: "mints when missing"},
		{name: "rejects header injection", incoming: "abc\r\nSet-Cookie: x"},
		{name: "rejects oversized", incoming: strings.Repeat("a", maxRequestIDLength+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-ID", tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
			}
			if tc.keep && seen != tc.incoming {
				t.Fatalf("request id = %q, want %q", seen, tc.incoming)
			}
			if !tc.keep && seen == tc.incoming {
				t.Fatalf("invalid request id %q was kept", tc.incoming)
			}
		})
	}
}
