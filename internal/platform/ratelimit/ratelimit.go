package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Matteomic94/ElementMedica-sub000/internal/metrics"
)

// Policy defines a simple fixed-window rate limit.
// Limit requests within Window per derived key.
type Policy struct {
	// Name is a short identifier for the limited endpoint, used for logging/metrics (e.g. "auth:login").
	Name   string
	Window time.Duration
	Limit  int

	// Key builds the bucket key for this request. Defaults to a single global bucket.
	Key func(echo.Context) string

	Log zerolog.Logger
}

// Store abstracts a shared counter store (e.g., Redis) for fixed-window limiting.
type Store interface {
	// Allow increments the counter for the key in the given window and returns whether the request is allowed.
	// If not allowed, retryAfterSec indicates seconds until the window resets.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfterSec int, err error)
}

// Middleware enforces p with a process-local store. For multi-instance deployments prefer
// MiddlewareWithStore with a shared store.
func Middleware(p Policy) echo.MiddlewareFunc {
	return MiddlewareWithStore(p, NewMemoryStore())
}

// MiddlewareWithStore enforces p against s. Store errors fail open.
func MiddlewareWithStore(p Policy, s Store) echo.MiddlewareFunc {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Limit <= 0 {
		p.Limit = 60
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "global"
			if p.Key != nil {
				key = p.Key(c)
			}
			allowed, retryAfter, err := s.Allow(c.Request().Context(), key, p.Limit, p.Window)
			if err != nil {
				p.Log.Warn().Err(err).Str("endpoint", p.Name).Msg("rate limit store unavailable")
				return next(c)
			}
			if allowed {
				return next(c)
			}
			metrics.IncRateLimitExceeded(p.Name, "ip")
			p.Log.Warn().
				Str("endpoint", p.Name).
				Str("key", key).
				Int("limit", p.Limit).
				Dur("window", p.Window).
				Int("retry_after", retryAfter).
				Msg("rate limit exceeded")
			if retryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests)
		}
	}
}

// KeyIP buckets requests by client IP under prefix.
func KeyIP(prefix string) func(echo.Context) string {
	return func(c echo.Context) string {
		return prefix + ":ip:" + c.RealIP()
	}
}

type bucket struct {
	start time.Time
	count int
}

// MemoryStore is a process-local fixed-window Store.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= window {
		m.buckets[key] = &bucket{start: now, count: 1}
		m.gc(now, window)
		return true, 0, nil
	}
	if b.count < limit {
		b.count++
		return true, 0, nil
	}
	remaining := window - now.Sub(b.start)
	return false, int((remaining + time.Second - 1) / time.Second), nil
}

// gc drops buckets whose window has passed. Called with mu held.
func (m *MemoryStore) gc(now time.Time, window time.Duration) {
	if len(m.buckets) < 1024 {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.start) >= window {
			delete(m.buckets, k)
		}
	}
}
