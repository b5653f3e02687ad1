package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// RateLimiter is a per-client fixed-window counter kept in Redis, so every
// API instance shares one budget.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *logging.Logger
}

// NewRateLimiter allows limit requests per window per client. A nil client
// or a non-positive limit disables limiting.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: client, limit: limit, window: window, prefix: "ratelimit:", logger: logger}
}

// Allow counts one request for key and reports whether it is within budget.
// Redis errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if rl == nil || rl.redis == nil || rl.limit <= 0 {
		return true, 0
	}
	slot := time.Now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logger.Warn("rate limit check failed", "error", err)
		return true, 0
	}
	if count == 1 {
		rl.redis.Expire(ctx, redisKey, rl.window)
	}
	if int(count) <= rl.limit {
		return true, 0
	}
	ttl, err := rl.redis.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.window
	}
	return false, ttl
}

// Middleware rejects requests over budget with 429 Too Many Requests.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		// chi's RealIP middleware rewrites RemoteAddr; X-Real-Ip covers setups without it.
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			ip = xri
		}
		ok, retry := rl.Allow(r.Context(), ip)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
