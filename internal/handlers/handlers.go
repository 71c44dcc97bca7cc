package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"time"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/scheduler"
	"metal-detector/internal/spotify"
)

// unavailableMessage replaces the detail of token failures at the boundary
const unavailableMessage = "external service unavailable or misconfigured"

// AuthorizationFlow runs the authorization-code grant
type AuthorizationFlow interface {
	IsLogin(registrationID string) bool
	Begin(ctx context.Context, registrationID, redirectURI string) (string, error)
	Complete(ctx context.Context, registrationID, state, code string) (*oauth2.FlowResult, error)
	Disconnect(ctx context.Context, registrationID string) error
	Status(ctx context.Context, registrationID string) (*oauth2.ConnectionStatus, error)
}

// Sessions sets and clears the login cookie
type Sessions interface {
	Login(w http.ResponseWriter, principal *oauth2.OAuth2Principal) error
	Logout(w http.ResponseWriter, r *http.Request) error
}

// Music is the part of the Spotify client the API exposes
type Music interface {
	SearchArtists(ctx context.Context, query string, page, size int) (*spotify.ArtistPage, error)
	FollowedArtists(ctx context.Context, limit int) ([]spotify.Artist, error)
}

// Releases exposes the outcome of the last release check
type Releases interface {
	Latest() ([]spotify.Album, time.Time)
}

// Jobs lists scheduled jobs
type Jobs interface {
	Status() []scheduler.JobStatus
}

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// Handlers serves the HTTP API
type Handlers struct {
	flow     AuthorizationFlow
	sessions Sessions
	music    Music
	releases Releases
	jobs     Jobs
	checks   map[string]HealthCheck
}

// Dependencies are the collaborators of Handlers. Releases, Jobs and Checks
// are optional.
type Dependencies struct {
	Flow     AuthorizationFlow
	Sessions Sessions
	Music    Music
	Releases Releases
	Jobs     Jobs
	Checks   map[string]HealthCheck
}

func New(deps Dependencies) *Handlers {
	return &Handlers{
		flow:     deps.Flow,
		sessions: deps.Sessions,
		music:    deps.Music,
		releases: deps.Releases,
		jobs:     deps.Jobs,
		checks:   deps.Checks,
	}
}

// HealthCheck reports the status of every registered dependency
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			results[name] = "unhealthy"
			logging.WithContext(ctx).Warn("Health check failed",
				logging.String("check", name),
				logging.Err(err),
			)
			continue
		}
		results[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": results,
		"time":   time.Now().UTC(),
	})
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Failed to encode response", logging.Err(err))
	}
}

// writeError maps err to its status code. Details of server-side and
// upstream failures are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	response := ErrorResponse{Error: string(errors.GetType(err))}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		response.Message = appErr.Message
		response.Code = appErr.Code
	}

	logger := logging.WithContext(r.Context())
	switch {
	case status == http.StatusServiceUnavailable:
		response.Message = unavailableMessage
		response.Code = ""
		logger.Warn("Upstream dependency unavailable", logging.Err(err), logging.String("path", r.URL.Path))
	case status >= 500:
		response.Message = http.StatusText(status)
		response.Code = ""
		logger.Error("Request failed", err, logging.String("path", r.URL.Path))
	default:
		logger.Debug("Request rejected", logging.Err(err), logging.Int("status", status))
	}

	writeJSON(w, status, response)
}
