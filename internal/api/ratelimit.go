package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/codinguncut/builtwith/internal/util"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit = 5
	DefaultRateBurst = 10

	// Limiters unused for this long are dropped.
	limiterIdleTTL = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP address
type RateLimiter struct {
	limits    map[string]*clientLimiter
	mu        sync.Mutex
	rate      rate.Limit
	capacity  int
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second per IP with the given burst.
// Non-positive values fall back to the defaults.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return &RateLimiter{
		limits:    make(map[string]*clientLimiter),
		rate:      rate.Limit(rps),
		capacity:  burst,
		lastSweep: time.Now(),
	}
}

// getLimiter returns the limiter for ip, creating it on first use
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	return rl.limiterAt(ip, time.Now())
}

func (rl *RateLimiter) limiterAt(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		rl.sweep(now)
	}

	entry, exists := rl.limits[ip]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.capacity)}
		rl.limits[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter
}

// sweep drops idle limiters. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, entry := range rl.limits {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(rl.limits, ip)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects requests over the per-IP budget with 429. Health checks
// are never limited.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.getLimiter(util.GetClientIP(r)).Allow() {
			TooManyRequests(w, r, "Too many requests", time.Duration(float64(time.Second)/float64(rl.rate)))
			return
		}

		next.ServeHTTP(w, r)
	})
}
