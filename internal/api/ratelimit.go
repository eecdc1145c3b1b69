package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-IP request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration // visitors idle for 2x this are forgotten
}

// DefaultRateLimitConfig is sized for a small public deployment: generous
// enough for a polling dashboard, tight enough to shrug off a naive flood.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// visitor is one IP's token bucket plus the recency stamp the sweeper reads.
type visitor struct {
	bucket   *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter applies a token bucket per client IP across the HTTP
// surface. Idle buckets are swept periodically so the table stays bounded.
type IPRateLimiter struct {
	cfg      RateLimitConfig
	visitors sync.Map // ip string -> *visitor
	stop     chan struct{}
	stopOnce sync.Once

	allowed  uint64 // atomic
	rejected uint64 // atomic
}

// RateLimitStats is a point-in-time view of the limiter's counters.
type RateLimitStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
}

// NewIPRateLimiter starts a limiter and its sweeper goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{cfg: cfg, stop: make(chan struct{})}
	go rl.sweep()
	return rl
}

// Stop ends the sweeper goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow spends one token for the IP, creating its bucket on first sight.
func (rl *IPRateLimiter) Allow(ip string) bool {
	entry, ok := rl.visitors.Load(ip)
	if !ok {
		entry, _ = rl.visitors.LoadOrStore(ip, &visitor{
			bucket: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		})
	}
	v := entry.(*visitor)
	v.lastSeen.Store(time.Now().UnixNano())

	if v.bucket.Allow() {
		atomic.AddUint64(&rl.allowed, 1)
		return true
	}
	atomic.AddUint64(&rl.rejected, 1)
	return false
}

// Middleware rejects over-limit requests with 429 before any routing work.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns the allow/reject counters for the status surface.
func (rl *IPRateLimiter) GetStats() RateLimitStats {
	return RateLimitStats{
		Allowed:  atomic.LoadUint64(&rl.allowed),
		Rejected: atomic.LoadUint64(&rl.rejected),
	}
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.cfg.CleanupInterval).UnixNano()
			rl.visitors.Range(func(key, value interface{}) bool {
				if value.(*visitor).lastSeen.Load() < cutoff {
					rl.visitors.Delete(key)
				}
				return true
			})
		}
	}
}

// GetClientIP resolves the originating address, preferring proxy headers.
// X-Forwarded-For is trusted as-is; deploy behind a proxy that overwrites it.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
