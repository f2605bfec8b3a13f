// Package ratelimit provides the in-memory fixed-window limiter that guards
// the gateway proxy endpoints. State is process-local: it does not
// coordinate across instances, which is acceptable for a single dashboard
// deployment and a documented limitation for anything bigger.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config bounds requests per key to MaxRequests within Window.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Named presets used by the message proxy routes.
var (
	MessageSend  = Config{Window: time.Minute, MaxRequests: 10}
	MessageFetch = Config{Window: time.Minute, MaxRequests: 60}
)

// Result reports one Check outcome. RetryAfter is whole seconds until the
// window resets and is set only on failure.
type Result struct {
	Success    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

const defaultSweepInterval = 5 * time.Minute

// Limiter tracks fixed-window request counts per caller key. Buckets are
// created lazily and swept opportunistically, so memory stays bounded
// without a dedicated timer goroutine.
type Limiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	lastSweep     time.Time
	sweepInterval time.Duration
	nowFunc       func() time.Time // for testing
}

// NewLimiter builds a limiter with the default sweep interval.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets:       make(map[string]*bucket),
		sweepInterval: defaultSweepInterval,
		nowFunc:       time.Now,
	}
}

// Check records one request for key and reports whether it is allowed.
func (l *Limiter) Check(key string, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= cfg.Window {
		l.buckets[key] = &bucket{count: 1, windowStart: now, window: cfg.Window}
		return Result{
			Success:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   now.Add(cfg.Window),
		}
	}

	resetAt := b.windowStart.Add(cfg.Window)
	if b.count < cfg.MaxRequests {
		b.count++
		return Result{
			Success:   true,
			Remaining: cfg.MaxRequests - b.count,
			ResetAt:   resetAt,
		}
	}

	return Result{
		Success:    false,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: int(math.Ceil(resetAt.Sub(now).Seconds())),
	}
}

// sweepLocked deletes fully elapsed buckets at most once per sweep
// interval. Best effort: a bucket can outlive its window until the next
// sweep, which only costs memory, never correctness.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepInterval {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= b.window {
			delete(l.buckets, key)
		}
	}
}

// ClientKey derives the limiter key for a request: first hop of
// X-Forwarded-For, then X-Real-IP, then the connection's remote address.
func ClientKey(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
