package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow counts a hit and starts the window's expiry on the first one.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateLimiter is the fixed-window limiter shared by every replica of the public API.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	rl := &RedisRateLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: strings.TrimSpace(prefix)}
	if rl.limit <= 0 {
		rl.limit = 60
	}
	if rl.window < time.Millisecond {
		rl.window = time.Minute
	}
	if rl.prefix == "" {
		rl.prefix = "rl"
	}
	return rl
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindow.Run(ctx, rl.rdb, []string{rl.prefix + ":" + key}, rl.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= rl.limit, nil
}

// Middleware answers 429 over the limit. failOpen lets requests through while Redis is down;
// otherwise they get 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retryAfter := strconv.Itoa(int(rl.window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := rl.Allow(r.Context(), clientKey(r))
			switch {
			case err != nil && failOpen:
				logger.Warn("rate limiter unavailable; allowing request", "err", err)
			case err != nil:
				logger.Warn("rate limiter unavailable; rejecting request", "err", err)
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			case !ok:
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
