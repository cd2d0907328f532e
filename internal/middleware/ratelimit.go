package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewLimiter allows limit requests per period per key, bursting up to limit.
func NewLimiter(limit int, per time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if per <= 0 {
		per = time.Minute
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(per / time.Duration(limit)),
		burst:    limit,
		now:      time.Now,
	}
}

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Prune drops keys idle for longer than limiterIdleTTL.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-limiterIdleTTL)
	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// RunPruner prunes idle keys until ctx is done.
func (l *Limiter) RunPruner(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// RateLimit rejects requests over the limiter's budget. Authenticated callers
// are keyed by identity, everyone else by client IP. onLimited writes the
// rejection; a nil onLimited sends a bare 429.
func RateLimit(l *Limiter, onLimited http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(rateLimitKey(r)) {
				w.Header().Set("Retry-After", "1")
				if onLimited != nil {
					onLimited(w, r)
					return
				}
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if caller := CallerFromContext(r.Context()); caller.Authenticated() {
		return caller.String()
	}
	return "ip:" + ClientIP(r)
}
