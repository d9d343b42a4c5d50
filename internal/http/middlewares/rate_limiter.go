package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// WindowCounter counts hits per key in a fixed window. The redis client
// implements it for multi-instance deployments.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

type RateLimiter struct {
	window   time.Duration
	limit    int
	prefix   string
	shared   WindowCounter
	fallback *memoryCounter
	log      *slog.Logger
	// OnLimited runs whenever a request is rejected.
	OnLimited func(c *gin.Context)
}

// NewRateLimiter allows limit hits per window per key. shared may be nil, in
// which case counting is per process. When shared fails the in-process
// counter takes over.
func NewRateLimiter(limit int, window time.Duration, prefix string, shared WindowCounter, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		prefix:   prefix,
		shared:   shared,
		fallback: newMemoryCounter(),
		log:      log,
	}
}

// RateLimiterMiddleware enforces the limit for a key derived from each request.
func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}
		key = rl.prefix + key

		count, remaining := rl.hit(c.Request.Context(), key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		left := rl.limit - int(count)
		if left < 0 {
			left = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(left))

		if count > int64(rl.limit) {
			retryAfter := int(remaining.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			if rl.OnLimited != nil {
				rl.OnLimited(c)
			}

			abortError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) hit(ctx context.Context, key string) (int64, time.Duration) {
	if rl.shared != nil {
		count, remaining, err := rl.shared.IncrWindow(ctx, key, rl.window)
		if err == nil {
			return count, remaining
		}
		rl.log.WarnContext(ctx, "shared rate limiter unavailable, using local counter", "err", err)
	}

	return rl.fallback.IncrWindow(time.Now(), key, rl.window)
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return "ip:" + clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}

type memoryCounter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	sweepAt time.Time
}

type clientBucket struct {
	count     int64
	windowEnd time.Time
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{clients: make(map[string]*clientBucket)}
}

func (m *memoryCounter) IncrWindow(now time.Time, key string, window time.Duration) (int64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.After(m.sweepAt) {
		for k, b := range m.clients {
			if now.After(b.windowEnd) {
				delete(m.clients, k)
			}
		}
		m.sweepAt = now.Add(window)
	}

	b, ok := m.clients[key]
	if !ok || now.After(b.windowEnd) {
		b = &clientBucket{windowEnd: now.Add(window)}
		m.clients[key] = b
	}

	b.count++

	return b.count, b.windowEnd.Sub(now)
}
