package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fitpulse/session-service/internal/http/response"
	"github.com/fitpulse/session-service/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request is allowed for key within
// the limiter's window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is a fixed-window per-client limiter. A backend error
// denies the request: this service fronts credential material, so the
// limiter fails closed.
type RateLimiter struct {
	limiter Limiter
	scope   string
	window  time.Duration
}

func NewRateLimiter(limiter Limiter, scope string, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limiter: limiter, scope: scope, window: window}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := rl.limiter.Allow(r.Context(), rl.scope+":"+clientIPKey(r))
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				slog.Warn("rate limiter backend unavailable, denying request", "scope", rl.scope, "error", err.Error())
				w.Header().Set("Retry-After", retryAfterHeader(rl.window))
				response.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			if !allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(rl.window))
				response.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// LocalFixedWindowLimiter is the in-process fallback used when redis
// is not configured. State is per-instance, which is acceptable for
// the single-process development server.
type LocalFixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	store   map[string]*localWindow
	cleanup time.Time
}

func NewLocalFixedWindowLimiter(limit int, window time.Duration) *LocalFixedWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalFixedWindowLimiter{
		limit:   limit,
		window:  window,
		store:   make(map[string]*localWindow),
		cleanup: time.Now().Add(window),
	}
}

func (l *LocalFixedWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, v := range l.store {
			if now.After(v.resetAt) {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(l.window)
	}

	state, ok := l.store[key]
	if !ok || now.After(state.resetAt) {
		l.store[key] = &localWindow{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if state.count >= l.limit {
		return false, nil
	}
	state.count++
	return true, nil
}

// RedisFixedWindowLimiter shares a window across instances; the
// serverless entry shape needs this since each invocation is its own
// process.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	dataKey := l.prefix + ":" + key
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, dataKey)
	pipe.Expire(ctx, dataKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
