package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
)

// Counter increments key within a fixed window and returns the new count. The
// window starts with the first hit.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// KeyFunc returns the keys to count; every key must stay under the limit.
	KeyFunc func(r *http.Request) []string
}

type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
}

func NewRateLimiter(counter Counter, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKey
	}
	return &RateLimiter{counter: counter, config: config}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), key) {
					w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.Window.Seconds())))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					w.Write([]byte(`{"error":"Too many requests. Try again later.","code":"RATE_LIMITED"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow fails open when the counter is unavailable.
func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	hasher := sha256.New()
	hasher.Write([]byte(key))
	hashedKey := fmt.Sprintf("ratelimit:%x", hasher.Sum(nil))

	count, err := rl.counter.Incr(ctx, hashedKey, rl.config.Window)
	if err != nil {
		logger.WarnContext(ctx, "Rate limit check failed", "error", err)
		return true
	}
	return count <= int64(rl.config.Requests)
}

// ClientIPKey limits per client address, per path.
func ClientIPKey(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip + ":" + r.URL.Path}
	}
	return nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
