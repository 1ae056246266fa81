package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/formpilot/formpilot/internal/domain"
)

// Counter is a shared per-minute request counter (the Redis cache)
type Counter interface {
	CheckRateLimit(ctx context.Context, key string, limit int) (bool, int, error)
}

// RateLimitMiddleware limits requests per user, or per client IP for anonymous callers.
// With a shared counter the limit holds across API replicas; without one, or while the
// counter is unreachable, each replica enforces it locally with a token bucket.
type RateLimitMiddleware struct {
	counter Counter
	limit   int
	burst   int
	logger  *zap.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates a limiter allowing limit requests per minute. counter may be nil.
func NewRateLimitMiddleware(counter Counter, limit, burst int, logger *zap.Logger) *RateLimitMiddleware {
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitMiddleware{
		counter: counter,
		limit:   limit,
		burst:   burst,
		logger:  logger,
		local:   make(map[string]*rate.Limiter),
	}
}

// Handler returns the middleware handler
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := m.getRateLimitKey(r)
		allowed, remaining := m.allow(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, domain.ErrCodeRateLimited, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) allow(ctx context.Context, key string) (bool, int) {
	if m.counter != nil {
		allowed, count, err := m.counter.CheckRateLimit(ctx, key, m.limit)
		if err == nil {
			remaining := m.limit - count
			if remaining < 0 {
				remaining = 0
			}
			return allowed, remaining
		}
		m.logger.Debug("shared rate limit unavailable, limiting locally", zap.Error(err))
	}

	limiter := m.limiter(key)
	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

func (m *RateLimitMiddleware) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.local[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.limit)), m.burst)
		m.local[key] = l
	}
	return l
}

// getRateLimitKey determines the key for rate limiting
func (m *RateLimitMiddleware) getRateLimitKey(r *http.Request) string {
	if user := GetUser(r.Context()); user != AnonymousUser {
		return "user:" + user
	}
	return "ip:" + clientIP(r)
}
