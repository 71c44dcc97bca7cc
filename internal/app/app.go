package app

import (
	"io"
	"net/url"

	"github.com/jonboulle/clockwork"

	"metal-detector/internal/auth"
	"metal-detector/internal/circuitbreaker"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/config"
	"metal-detector/internal/crypto"
	"metal-detector/internal/handlers"
	"metal-detector/internal/locks"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/ratelimit"
	"metal-detector/internal/redis"
	"metal-detector/internal/scheduler"
	"metal-detector/internal/spotify"
)

// App holds all the application dependencies
type App struct {
	Config        *config.Config
	Registrations *oauth2.InMemoryRegistrationRepository
	RedisClient   *redis.Client
	Cipher        *crypto.TokenCipher
	Clients       oauth2.AuthorizedClientService
	Breakers      *circuitbreaker.GoBreakerManager
	Managers      *oauth2.ManagerSelector
	Grants        *oauth2.GrantStrategy
	Users         *oauth2.PrincipalResolver
	AppTokens     oauth2.TokenProvider
	UserTokens    oauth2.TokenProvider
	Flow          *oauth2.AuthorizationFlow
	Sessions      *auth.SessionManager
	Spotify       *spotify.Client
	Scheduler     *scheduler.Scheduler
	ReleaseCheck  *scheduler.ReleaseCheck
	TokenRefresh  *scheduler.TokenRefresh
	RateLimiter   ratelimit.Limiter
	Checks        map[string]handlers.HealthCheck
	Logger        logging.Logger

	clock   clockwork.Clock
	closers []io.Closer
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config, registrations []oauth2.ClientRegistration) (*App, error) {
	return newApp(cfg, registrations, clockwork.NewRealClock())
}

func newApp(cfg *config.Config, registrations []oauth2.ClientRegistration, clock clockwork.Clock) (*App, error) {
	app := &App{
		Config:        cfg,
		Registrations: oauth2.NewInMemoryRegistrationRepository(registrations...),
		Checks:        make(map[string]handlers.HealthCheck),
		Logger:        logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
		clock:         clock,
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeEncryption(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeStorage(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeOAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeSessions(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeSpotify()

	if err := app.initializeScheduler(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.RateLimiter = app.initializeRateLimiter()

	return app, nil
}

func (app *App) initializeEncryption() error {
	if app.Config.TokenEncryptionKey == "" {
		app.Logger.Warn("Token encryption: disabled")
		return nil
	}

	cipher, err := crypto.NewTokenCipher(app.Config.TokenEncryptionKey)
	if err != nil {
		return err
	}
	app.Cipher = cipher
	return nil
}

// sealer returns the cipher as an oauth2.Sealer, or a nil interface when
// encryption is off
func (app *App) sealer() oauth2.Sealer {
	if app.Cipher == nil {
		return nil
	}
	return app.Cipher
}

func (app *App) initializeSessions() error {
	var revocations auth.RedisInterface
	if app.RedisClient != nil {
		revocations = app.RedisClient
	}

	secure := false
	if u, err := url.Parse(app.Config.BaseURL); err == nil {
		secure = u.Scheme == "https"
	}

	sessions, err := auth.NewSessionManager(auth.Config{
		Secret: app.Config.JWTSecret,
		TTL:    app.Config.SessionTTL,
		Secure: secure,
	}, revocations, auth.WithClock(app.clock))
	if err != nil {
		return err
	}
	app.Sessions = sessions
	return nil
}

func (app *App) initializeSpotify() {
	app.Spotify = spotify.NewClient(spotify.Config{
		BaseURL:           app.Config.SpotifyAPIURL,
		RequestsPerSecond: app.Config.SpotifyRequestsPerSecond,
	}, app.AppTokens, app.UserTokens, nil)
}

func (app *App) initializeScheduler() error {
	var locker locks.Locker = locks.NewLocalLocker()
	if app.RedisClient != nil {
		distributed, err := locks.NewRedsyncLocker(app.RedisClient)
		if err != nil {
			return err
		}
		locker = distributed
	}

	app.Scheduler = scheduler.New(app.Config.ReleaseCheckTimeout,
		scheduler.WithClock(app.clock),
		scheduler.WithLocker(locker),
	)
	app.ReleaseCheck = scheduler.NewReleaseCheck(app.Spotify, 0, app.clock)

	if err := app.Scheduler.Register(scheduler.ReleaseCheckJobName, app.Config.ReleaseCheckSchedule, app.ReleaseCheck); err != nil {
		return err
	}
	app.Logger.Info("Scheduler: release check registered",
		logging.String("schedule", app.Config.ReleaseCheckSchedule),
	)

	clients, ok := app.Clients.(scheduler.RefreshableClientStore)
	if !ok {
		app.Logger.Warn("Scheduler: token store cannot list clients, user tokens will not be refreshed")
		return nil
	}
	app.TokenRefresh = scheduler.NewTokenRefresh(app.Config.SpotifyUserRegistration, clients,
		app.Managers, app.Grants, app.Config.TokenRefreshLead, app.clock)

	if err := app.Scheduler.Register(scheduler.TokenRefreshJobName, app.Config.TokenRefreshSchedule, app.TokenRefresh); err != nil {
		return err
	}
	app.Logger.Info("Scheduler: token refresh registered",
		logging.String("schedule", app.Config.TokenRefreshSchedule),
		logging.Duration("lead", app.Config.TokenRefreshLead),
	)
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			app.Logger.Warn("Failed to close resource", logging.Err(err))
		}
	}
	app.closers = nil
}

func (app *App) onCleanup(c io.Closer) {
	app.closers = append(app.closers, c)
}
