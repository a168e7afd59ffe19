package fakeengine

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig throttles requests per client IP. A zero MaxRequests
// disables throttling.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// rateLimiter is a sliding window limiter keyed by client IP.
type rateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	hits   map[string][]time.Time
	now    func() time.Time
}

func newRateLimiter(config RateLimitConfig) *rateLimiter {
	if config.MaxRequests <= 0 {
		return nil
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}
	return &rateLimiter{
		config: config,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// allow records a request from ip and reports whether it is within the
// limit. When it is not, retryAfter says when the oldest hit expires.
func (rl *rateLimiter) allow(ip string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.config.Window)

	kept := rl.hits[ip][:0]
	for _, ts := range rl.hits[ip] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	rl.hits[ip] = kept

	if len(kept) >= rl.config.MaxRequests {
		retryAfter = kept[0].Add(rl.config.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}
	rl.hits[ip] = append(kept, now)
	return true, 0
}

// clientIP prefers proxy headers over the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
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
