package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"
)

// AttemptCounter increments a counter that expires window after its first hit.
type AttemptCounter interface {
	IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a fixed-window limiter keyed by client IP. Counters live in
// Redis so every API instance shares the same budget.
type RateLimiter struct {
	counter AttemptCounter
	prefix  string
	limit   int
	window  time.Duration
}

func NewRateLimiter(counter AttemptCounter, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + rl.prefix + ":" + clientIP(r)

		count, err := rl.counter.IncrementAttempts(r.Context(), key, rl.window)
		if err != nil {
			// fail open
			hlog.FromRequest(r).Warn().Err(err).Str("key", key).Msg("rate limit counter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		if count > int64(rl.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
