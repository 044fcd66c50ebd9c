package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/ngx-reader/internal/identity"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per reader. Limiters unused for longer
// than the TTL are dropped by a background loop.
type RateLimiter struct {
	mu      sync.Mutex
	m       map[string]*limiterEntry
	rps     float64
	burst   int
	ttl     time.Duration
	metrics *metrics.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates a limiter pool and starts its cleanup loop.
func NewRateLimiter(rps float64, burst int, m *metrics.Metrics) *RateLimiter {
	rl := &RateLimiter{
		m:       make(map[string]*limiterEntry),
		rps:     rps,
		burst:   burst,
		ttl:     10 * time.Minute,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop(time.Minute)
	return rl
}

// Allow reports whether a request for key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	e, ok := rl.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.m[key] = e
	}
	e.lastSeen = time.Now()
	rl.mu.Unlock()
	return e.l.Allow()
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evict(time.Now().Add(-rl.ttl))
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, e := range rl.m {
		if e.lastSeen.Before(cutoff) {
			delete(rl.m, k)
		}
	}
}

// Middleware rejects requests over the limit with 429. Requests are keyed by
// reader id, falling back to the client IP before identity is known.
func (rl *RateLimiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := identity.UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + identity.IPFromRequest(r)
			}
			if !rl.Allow(key) {
				rl.metrics.RecordRateLimitHit(scope)
				slog.Warn("Rate limit exceeded", "key", key, "scope", scope, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
