package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Logger attaches a request-scoped logger to the context and logs one line
// per request. It must run after RequestID and Authenticate.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := l.With().
				Str("request_id", RequestIDFromContext(r.Context())).
				Str("caller", CallerFromContext(r.Context()).String()).
				Logger()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(reqLog.WithContext(r.Context())))

			ev := reqLog.Info()
			if rw.status >= http.StatusInternalServerError {
				ev = reqLog.Error()
			} else if r.Method == http.MethodOptions || r.URL.Path == "/healthz" {
				ev = reqLog.Debug()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
