package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"resumeunlocked/internal/errors"

	"golang.org/x/time/rate"
)

// rateLimitRecorder is notified when a request is turned away
type rateLimitRecorder interface {
	RecordRateLimitHit(ctx context.Context, scope string)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client key and forgets keys
// that stayed quiet for longer than the idle window
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	logger   *errors.Logger
}

// NewRateLimiter allows requestsPerMin per key with the given burst. Keys
// idle for longer than idle (10 minutes when zero) are dropped.
func NewRateLimiter(requestsPerMin, burst int, idle time.Duration, logger *errors.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    burst,
		idle:     idle,
		stop:     make(chan struct{}),
		logger:   logger,
	}
	go rl.sweepLoop()
	return rl
}

// Allow takes a token from key's bucket
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// GetStats reports the limiter settings and how many keys are tracked
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]any{
		"tracked_clients":     len(rl.visitors),
		"requests_per_minute": float64(rl.limit) * 60.0,
		"burst_capacity":      rl.burst,
		"idle_window":         rl.idle.String(),
	}
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.sweep(time.Now()); n > 0 {
				rl.logger.Debug("Dropped idle rate limit buckets", "count", n)
			}
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
			dropped++
		}
	}
	return dropped
}

// Close stops the sweep goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// rateLimitMiddleware throttles per client IP when byIP is set, otherwise
// per tab cookie, falling back to the IP for requests without a tab yet
func (s *Server) rateLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	if s.RateLimiter == nil || s.RateLimit == nil || !s.RateLimit.Enabled {
		return func(next http.HandlerFunc) http.HandlerFunc { return next }
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := s.rateLimitKey(r)
			if !s.RateLimiter.Allow(key) {
				s.Logger.Info("Rate limit exceeded", "endpoint", r.URL.Path, "key", key)
				if s.recorder != nil {
					s.recorder.RecordRateLimitHit(r.Context(), "shell")
				}
				writeErrorResponse(w, "Rate limit exceeded", "Too many requests", http.StatusTooManyRequests)
				return
			}
			next(w, r)
		}
	}
}

func (s *Server) rateLimitKey(r *http.Request) string {
	if !s.RateLimit.ByIP {
		if c, err := r.Cookie(s.CookieName); err == nil && c.Value != "" {
			return "tab:" + c.Value
		}
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers proxy headers over the socket address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for candidate := range strings.SplitSeq(xff, ",") {
			candidate = strings.TrimSpace(candidate)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
