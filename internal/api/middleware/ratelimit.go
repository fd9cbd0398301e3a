package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
	"github.com/kiranshivaraju/modeltrain/internal/cache"
)

const rateLimitWindow = 60 * time.Second

// RateLimit provides fixed-window rate limiting per client address via Redis.
type RateLimit struct {
	counter        cache.Counter
	scope          string
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware for one route scope.
// A non-positive limit disables limiting.
func NewRateLimit(c cache.Counter, scope string, requestsPerMin int) *RateLimit {
	return &RateLimit{counter: c, scope: scope, requestsPerMin: requestsPerMin}
}

// Limit rejects requests above the per-minute limit with 429.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.requestsPerMin <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.RateLimitKey(rl.scope, clientAddr(r))
		count, err := rl.counter.IncrWithExpiry(r.Context(), key, rateLimitWindow)
		if err != nil {
			// Fail open.
			zap.S().Warnw("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		resetTime := time.Now().Add(rateLimitWindow).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
