// Per-IP rate limiting for expensive endpoints such as map rendering.
package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration // Limiters unused for this long are dropped
}

// DefaultMapRateLimit allows one map render every two seconds per client,
// with a small burst.
var DefaultMapRateLimit = RateLimitConfig{
	RequestsPerSecond: 0.5,
	Burst:             5,
	IdleTTL:           10 * time.Minute,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

// NewRateLimiter creates a limiter. Stale entries are pruned lazily.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, limiters: make(map[string]*limiterEntry)}
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, ok := rl.limiters[ip]
	if !ok {
		rl.prune(now)
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) prune(now time.Time) {
	if rl.cfg.IdleTTL <= 0 {
		return
	}
	for ip, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			requestsRejected.WithLabelValues("rate_limit").Inc()
			w.Header().Set("Retry-After", "2")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
