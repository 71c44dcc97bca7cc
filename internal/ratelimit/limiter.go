package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/redis"
)

// Limiter decides whether one more request for key fits its budget
type Limiter interface {
	Allow(ctx context.Context, key string) (*RateLimit, error)
}

// Config is the inbound request budget
type Config struct {
	DefaultLimit  int           `json:"default_limit"`
	DefaultWindow time.Duration `json:"default_window"`
	Enabled       bool          `json:"enabled"`
}

// DefaultConfig allows 100 requests a minute
func DefaultConfig() *Config {
	return &Config{
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		Enabled:       true,
	}
}

// RateLimit is the outcome of one check
type RateLimit struct {
	Allowed   bool          `json:"allowed"`
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
	ResetTime time.Time     `json:"reset_time"`
}

func unlimited(config *Config) *RateLimit {
	return &RateLimit{
		Allowed:   true,
		Limit:     config.DefaultLimit,
		Window:    config.DefaultWindow,
		Remaining: config.DefaultLimit,
		ResetTime: time.Now().Add(config.DefaultWindow),
	}
}

// RedisLimiter counts requests in a sliding window shared by all instances
type RedisLimiter struct {
	redis  *redis.Client
	config *Config
}

// NewRedisLimiter creates a limiter; a nil config uses DefaultConfig
func NewRedisLimiter(redisClient *redis.Client, config *Config) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisLimiter{redis: redisClient, config: config}
}

// Allow records a hit for key and reports whether it is within the budget
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*RateLimit, error) {
	if !l.config.Enabled {
		return unlimited(l.config), nil
	}
	if l.redis == nil {
		return nil, errors.ConfigError("redis rate limiter has no client")
	}

	allowed, current, err := l.redis.CheckRateLimit(ctx, fmt.Sprintf("rate_limit:%s", key), l.config.DefaultLimit, l.config.DefaultWindow)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	remaining := l.config.DefaultLimit - current - 1
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimit{
		Allowed:   allowed,
		Limit:     l.config.DefaultLimit,
		Window:    l.config.DefaultWindow,
		Remaining: remaining,
		ResetTime: time.Now().Add(l.config.DefaultWindow),
	}, nil
}

// HTTPMiddleware rejects requests over budget with 429. Requests without a
// key, and requests whose check fails, are let through.
func HTTPMiddleware(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimit, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logging.WithContext(r.Context()).Warn("Rate limit check failed", logging.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rateLimit.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rateLimit.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rateLimit.ResetTime.Unix()))

			if !rateLimit.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimit.Window.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit",
					"message": errors.RateLimitError(key).Message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys requests by the first forwarded address, else the peer address
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return fmt.Sprintf("ip:%s", ip)
}

// EndpointBasedKey keys requests by method and path
func EndpointBasedKey(r *http.Request) string {
	return fmt.Sprintf("endpoint:%s:%s", r.Method, r.URL.Path)
}
