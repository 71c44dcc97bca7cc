package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"metal-detector/internal/auth"
	"metal-detector/internal/handlers"
	"metal-detector/internal/middleware"
	"metal-detector/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, sessionMiddleware func(http.Handler) http.Handler, rateLimiter ratelimit.Limiter) {
	router.Use(middleware.Recover)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)
	router.Use(sessionMiddleware)

	// Health check (not rate limited)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	limited := router.NewRoute().Subrouter()
	if rateLimiter != nil {
		limited.Use(ratelimit.HTTPMiddleware(rateLimiter, ratelimit.IPBasedKey))
	}

	// Authorization-code flow
	limited.HandleFunc("/oauth2/authorization/{registrationId}", h.StartAuthorization).Methods(http.MethodGet)
	limited.HandleFunc("/login/oauth2/code/{registrationId}", h.AuthorizationCallback).Methods(http.MethodGet)
	limited.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)

	api := limited.PathPrefix("/api/v1").Subrouter()

	// Application-token endpoints
	api.HandleFunc("/spotify/artists", h.SearchArtists).Methods(http.MethodGet)
	api.HandleFunc("/releases/latest", h.LatestReleases).Methods(http.MethodGet)
	api.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)

	// Endpoints acting for the signed-in user
	user := api.NewRoute().Subrouter()
	user.Use(auth.RequireSession)
	user.HandleFunc("/me", h.CurrentUser).Methods(http.MethodGet)
	user.HandleFunc("/spotify/followed-artists", h.FollowedArtists).Methods(http.MethodGet)
	user.HandleFunc("/oauth2/authorized-clients/{registrationId}", h.GetAuthorizedClient).Methods(http.MethodGet)
	user.HandleFunc("/oauth2/authorized-clients/{registrationId}", h.DeleteAuthorizedClient).Methods(http.MethodDelete)
}
