package middleware

import (
	"net/http"
	"strings"
)

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}, ",")
	corsHeaders = strings.Join([]string{"Authorization", "Content-Type", "X-Locale", "X-Request-ID", HeaderInternalService, HeaderUserID}, ", ")
)

// CORS answers preflight requests with a fixed method and header allow-list.
// Origins outside allowedOrigins get no CORS headers; "*" allows any origin
// but only explicitly listed origins may send credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
		}
		allow[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				_, ok := allow[origin]
				if ok || wildcard {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					if ok {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
					h.Set("Access-Control-Max-Age", "600")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
