package app

import (
	"fmt"
	"time"

	"metal-detector/internal/circuitbreaker"
	httpx "metal-detector/internal/common/http"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/redis"
)

// Breaker and manager names; request-scoped and scheduled token traffic
// fail independently
const (
	requestBreaker   = "oauth2-request"
	scheduledBreaker = "oauth2-scheduled"
)

// initializeOAuth wires the token stack: one manager per execution mode,
// the grant strategy, the principal resolver, both token providers and the
// authorization-code flow
func (app *App) initializeOAuth() error {
	cfg := app.Config
	for _, id := range []string{cfg.SpotifyAppRegistration, cfg.SpotifyUserRegistration} {
		if _, ok := app.Registrations.FindByRegistrationID(id); !ok {
			return fmt.Errorf("client registration %q is not configured", id)
		}
	}

	app.Breakers = circuitbreaker.NewGoBreakerManager(app.Logger)

	requestTokens := app.tokenEndpoint(requestBreaker, cfg.TokenRequestTimeout)
	scheduledTokens := app.tokenEndpoint(scheduledBreaker, cfg.ScheduledTokenTimeout)

	defaultManager := oauth2.NewManager("request", app.Registrations, app.Clients, requestTokens,
		oauth2.WithManagerClock(app.clock),
		oauth2.WithLogger(app.Logger),
	)
	schedulingManager := oauth2.NewManager("scheduled", app.Registrations, app.Clients, scheduledTokens,
		oauth2.WithManagerClock(app.clock),
		oauth2.WithClockSkew(cfg.TokenRefreshLead),
		oauth2.WithLogger(app.Logger),
	)
	app.Managers = oauth2.NewManagerSelector(defaultManager, schedulingManager)

	source := oauth2.ContextPrincipalSource{}
	grants := oauth2.NewGrantStrategy(source)
	app.Grants = grants

	var resolverOpts []oauth2.ResolverOption
	for _, id := range app.Registrations.IDs() {
		reg, _ := app.Registrations.FindByRegistrationID(id)
		if reg.GrantType == oauth2.GrantTypeAuthorizationCode && reg.NameAttribute != "" && id != oauth2.GoogleRegistrationID {
			resolverOpts = append(resolverOpts, oauth2.WithSubjectAttribute(id, reg.NameAttribute))
		}
	}
	app.Users = oauth2.NewPrincipalResolver(source, resolverOpts...)

	app.AppTokens = oauth2.NewClientCredentialsTokenProvider(
		cfg.SpotifyAppRegistration,
		oauth2.GrantTypeClientCredentials,
		app.Clients,
		app.Managers,
		grants,
		oauth2.WithClock(app.clock),
	)
	app.UserTokens = oauth2.NewAuthorizationCodeTokenProvider(cfg.SpotifyUserRegistration, app.Users, app.Clients)

	app.Flow = oauth2.NewAuthorizationFlow(
		app.Registrations,
		app.authorizationRequests(),
		app.Clients,
		requestTokens,
		app.Users,
		oauth2.WithFlowClock(app.clock),
	)

	app.Logger.Info("OAuth2: configured",
		logging.Any("registrations", app.Registrations.IDs()),
		logging.String("app_registration", cfg.SpotifyAppRegistration),
		logging.String("user_registration", cfg.SpotifyUserRegistration),
	)
	return nil
}

func (app *App) tokenEndpoint(name string, timeout time.Duration) *oauth2.TokenEndpoint {
	breaker := app.Breakers.GetOrCreate(name, circuitbreaker.TokenEndpointConfig)
	return oauth2.NewTokenEndpoint(httpx.NewHTTPClientWithTimeout(timeout), breaker, app.clock)
}

func (app *App) authorizationRequests() oauth2.AuthorizationRequestStore {
	if app.RedisClient != nil {
		return oauth2.NewRedisAuthorizationRequestStore(app.RedisClient, redis.IsNil)
	}
	return oauth2.NewMemoryAuthorizationRequestStore(app.clock)
}
