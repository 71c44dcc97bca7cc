package app

import (
	"metal-detector/internal/common/logging"
	"metal-detector/internal/ratelimit"
)

// initializeRateLimiter returns nil when rate limiting is disabled
func (app *App) initializeRateLimiter() ratelimit.Limiter {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	rateLimitConfig := &ratelimit.Config{
		DefaultLimit:  app.Config.RateLimitDefault,
		DefaultWindow: app.Config.RateLimitWindow,
		Enabled:       true,
	}

	backend := app.Config.RateLimitBackend
	var limiter ratelimit.Limiter
	if backend == "redis" && app.RedisClient != nil {
		limiter = ratelimit.NewRedisLimiter(app.RedisClient, rateLimitConfig)
	} else {
		backend = "local"
		limiter = ratelimit.NewLocalLimiter(rateLimitConfig)
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.String("backend", backend),
		logging.Int("limit", rateLimitConfig.DefaultLimit),
		logging.Duration("window", rateLimitConfig.DefaultWindow),
	)
	return limiter
}
