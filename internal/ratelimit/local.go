package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one token bucket per key in process memory. Idle
// buckets are dropped after cleanupPeriod.
type LocalLimiter struct {
	mu            sync.Mutex
	config        *Config
	limiters      map[string]*limiterEntry
	cleanupPeriod time.Duration
	lastCleanup   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates a limiter spreading DefaultLimit over DefaultWindow
// with a burst of DefaultLimit
func NewLocalLimiter(config *Config) *LocalLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &LocalLimiter{
		config:        config,
		limiters:      make(map[string]*limiterEntry),
		cleanupPeriod: 10 * time.Minute,
		lastCleanup:   time.Now(),
	}
}

func (l *LocalLimiter) every() rate.Limit {
	return rate.Every(l.config.DefaultWindow / time.Duration(l.config.DefaultLimit))
}

// Allow takes a token from key's bucket
func (l *LocalLimiter) Allow(_ context.Context, key string) (*RateLimit, error) {
	if !l.config.Enabled {
		return unlimited(l.config), nil
	}

	limiter := l.limiterFor(key)
	now := time.Now()
	allowed := limiter.AllowN(now, 1)

	remaining := int(math.Floor(limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimit{
		Allowed:   allowed,
		Limit:     l.config.DefaultLimit,
		Window:    l.config.DefaultWindow,
		Remaining: remaining,
		ResetTime: now.Add(l.config.DefaultWindow),
	}, nil
}

func (l *LocalLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > l.cleanupPeriod {
		cutoff := now.Add(-l.cleanupPeriod)
		for k, entry := range l.limiters {
			if entry.lastUsed.Before(cutoff) {
				delete(l.limiters, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.every(), l.config.DefaultLimit)}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// ActiveKeys returns the number of tracked keys
func (l *LocalLimiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Throttle paces outbound calls to a fixed rate
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perSecond calls a second with a burst of one second's worth
func NewThrottle(perSecond float64) *Throttle {
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a call may proceed or ctx is done
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
