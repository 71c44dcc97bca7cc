package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"metal-detector/internal/circuitbreaker"
	"metal-detector/internal/common/errors"
	"metal-detector/internal/handlers"
	"metal-detector/internal/server"
)

// Handler builds the HTTP API with all handlers configured
func (app *App) Handler() http.Handler {
	checks := make(map[string]handlers.HealthCheck, len(app.Checks)+1)
	for name, check := range app.Checks {
		checks[name] = check
	}
	checks["token_endpoints"] = app.tokenEndpointsHealth

	h := handlers.New(handlers.Dependencies{
		Flow:     app.Flow,
		Sessions: app.Sessions,
		Music:    app.Spotify,
		Releases: app.ReleaseCheck,
		Jobs:     app.Scheduler,
		Checks:   checks,
	})

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Sessions.Middleware, app.RateLimiter)
	return router
}

// NewServer creates the HTTP server for the configured address
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Address(), app.Config.TLSCert, app.Config.TLSKey)
}

// tokenEndpointsHealth fails while any token endpoint breaker is open
func (app *App) tokenEndpointsHealth(context.Context) error {
	if !app.Breakers.AnyOpen() {
		return nil
	}
	err := errors.ConnectionError("token endpoint circuit open", nil)
	for _, stats := range app.Breakers.AllStats() {
		if stats.State == circuitbreaker.StateOpen.String() {
			err = err.WithContext(stats.Name, stats.State)
		}
	}
	return err
}
