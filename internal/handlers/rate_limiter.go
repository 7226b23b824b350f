package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conceptdash/api/internal/platform/auth"
	"github.com/conceptdash/api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts requests per key inside fixed windows. Stale buckets
// are swept opportunistically so the map does not grow with one-off clients.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*rateBucket
	nextSweep time.Time
}

type rateBucket struct {
	count     int
	expiresAt time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:     limit,
		window:    window,
		clock:     clock,
		buckets:   make(map[string]*rateBucket),
		nextSweep: clock().Add(window),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweepLocked(now)
	}

	bucket := l.buckets[key]
	if bucket == nil || now.After(bucket.expiresAt) {
		l.buckets[key] = &rateBucket{count: 1, expiresAt: now.Add(l.window)}
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	return true
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.expiresAt) {
			delete(l.buckets, key)
		}
	}
	l.nextSweep = now.Add(l.window)
}

// RateLimitMiddleware throttles requests to limit per window. Requests are
// keyed by the authenticated user when an identity is already on the context
// and by the client address otherwise. A non-positive limit disables the
// middleware.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newWindowLimiter(limit, window, time.Now)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
