package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"

	"github.com/ibero-data/modgate/internal/enrichment"
)

const visitorTTL = 10 * time.Minute

type rateLimiter struct {
	mu        sync.Mutex
	clock     quartz.Clock
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int, clock quartz.Clock) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &rateLimiter{
		clock:    clock,
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastSweep) > visitorTTL {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit returns middleware that allows perMinute requests per client IP
// with a burst of the same size.
func RateLimit(perMinute int, clock quartz.Clock) func(http.Handler) http.Handler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	limiter := newRateLimiter(perMinute, clock)
	retryAfter := strconv.Itoa(max(60/max(perMinute, 1), 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(enrichment.ExtractClientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, r, http.StatusTooManyRequests, "Demasiados intentos, espera un momento")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
