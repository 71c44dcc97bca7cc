// Package config provides configuration management for the metal detector
// service. Process settings come from environment variables (optionally read
// from a .env file); OAuth2 client registrations come from a YAML file whose
// values may reference environment variables as ${VAR}.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - BASE_URL: Public base URL used for redirects (default: http://localhost:8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file path
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//
// Token storage:
//   - TOKEN_STORE: memory, redis, sqlite, postgres or bolt (default: memory)
//   - TOKEN_ENCRYPTION_KEY: Passphrase sealing stored tokens (required for persistent stores)
//   - DATABASE_PATH: SQLite database file path (default: ./metal_detector.db)
//   - BOLT_PATH: bbolt file path (default: ./data/tokens.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address; empty disables Redis
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//
// OAuth2:
//   - OAUTH2_REGISTRATIONS_FILE: YAML registrations (default: ./registrations.yaml)
//   - TOKEN_REQUEST_TIMEOUT: Token endpoint timeout for API requests (default: 10s)
//   - SCHEDULED_TOKEN_TIMEOUT: Token endpoint timeout for scheduled jobs (default: 30s)
//
// Sessions:
//   - JWT_SECRET: Session signing secret (required, minimum 32 characters)
//   - SESSION_TTL: Session lifetime (default: 24h)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED (default: true), RATE_LIMIT_BACKEND local or redis
//     (default: local), RATE_LIMIT_DEFAULT (default: 100), RATE_LIMIT_WINDOW (default: 60s)
//
// Spotify:
//   - SPOTIFY_API_URL (default: https://api.spotify.com/v1)
//   - SPOTIFY_APP_REGISTRATION (default: spotify-app)
//   - SPOTIFY_USER_REGISTRATION (default: spotify-user)
//   - SPOTIFY_REQUESTS_PER_SECOND (default: 5)
//
// Scheduler:
//   - RELEASE_CHECK_SCHEDULE: Cron expression (default: 0 */6 * * *)
//   - RELEASE_CHECK_TIMEOUT: Per-run timeout (default: 5m)
//   - TOKEN_REFRESH_SCHEDULE: Cron expression for renewing stored user tokens (default: */5 * * * *)
//   - TOKEN_REFRESH_LEAD: Renew user tokens expiring within this window (default: 10m)
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"metal-detector/internal/common/validation"
)

// Token store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

// Config holds all process configuration
type Config struct {
	// Application settings
	Port     int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogFile  string `env:"LOG_FILE"`
	TLSCert  string `env:"TLS_CERT_FILE"`
	TLSKey   string `env:"TLS_KEY_FILE"`

	// Token storage
	TokenStore         string `env:"TOKEN_STORE" envDefault:"memory" validate:"oneof=memory redis sqlite postgres bolt"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	DatabasePath       string `env:"DATABASE_PATH" envDefault:"./metal_detector.db"`
	BoltPath           string `env:"BOLT_PATH" envDefault:"./data/tokens.db"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432" validate:"min=1,max=65535"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"metal_detector"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis
	RedisAddress  string `env:"REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" validate:"min=0,max=15"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10" validate:"min=1"`

	// OAuth2
	RegistrationsFile     string        `env:"OAUTH2_REGISTRATIONS_FILE" envDefault:"./registrations.yaml"`
	TokenRequestTimeout   time.Duration `env:"TOKEN_REQUEST_TIMEOUT" envDefault:"10s" validate:"positive_duration"`
	ScheduledTokenTimeout time.Duration `env:"SCHEDULED_TOKEN_TIMEOUT" envDefault:"30s" validate:"positive_duration"`

	// Sessions
	JWTSecret  string        `env:"JWT_SECRET" validate:"required,min=32"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h" validate:"positive_duration"`

	// Rate limiting
	RateLimitEnabled bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"local" validate:"oneof=local redis"`
	RateLimitDefault int           `env:"RATE_LIMIT_DEFAULT" envDefault:"100" validate:"min=1"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s" validate:"positive_duration"`

	// Spotify
	SpotifyAPIURL            string  `env:"SPOTIFY_API_URL" envDefault:"https://api.spotify.com/v1" validate:"url"`
	SpotifyAppRegistration   string  `env:"SPOTIFY_APP_REGISTRATION" envDefault:"spotify-app" validate:"required"`
	SpotifyUserRegistration  string  `env:"SPOTIFY_USER_REGISTRATION" envDefault:"spotify-user" validate:"required"`
	SpotifyRequestsPerSecond float64 `env:"SPOTIFY_REQUESTS_PER_SECOND" envDefault:"5" validate:"gt=0"`

	// Scheduler
	ReleaseCheckSchedule string        `env:"RELEASE_CHECK_SCHEDULE" envDefault:"0 */6 * * *" validate:"cron_expression"`
	ReleaseCheckTimeout  time.Duration `env:"RELEASE_CHECK_TIMEOUT" envDefault:"5m" validate:"positive_duration"`
	TokenRefreshSchedule string        `env:"TOKEN_REFRESH_SCHEDULE" envDefault:"*/5 * * * *" validate:"cron_expression"`
	TokenRefreshLead     time.Duration `env:"TOKEN_REFRESH_LEAD" envDefault:"10m" validate:"positive_duration"`
}

// Load reads a .env file when present, then parses the environment. The
// result is not validated.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks field rules and the cross-field requirements of the
// selected backends
func (c *Config) Validate() error {
	if err := validation.New().Struct(c, ""); err != nil {
		return err
	}

	switch c.TokenStore {
	case StoreRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when TOKEN_STORE is redis")
		}
	case StorePostgres:
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required when TOKEN_STORE is postgres")
		}
	case StoreSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when TOKEN_STORE is sqlite")
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when TOKEN_STORE is bolt")
		}
	}

	if c.TokenStore != StoreMemory && c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required when TOKEN_STORE is %s", c.TokenStore)
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if c.RateLimitEnabled && c.RateLimitBackend == "redis" && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_BACKEND is redis")
	}

	return nil
}

// PostgresDSN returns the connection URL for the pgx driver
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: url.Values{"sslmode": {c.PostgresSSLMode}}.Encode(),
	}
	return u.String()
}

// Address returns the listen address
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedisEnabled reports whether a Redis address is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}
