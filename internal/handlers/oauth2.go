package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
)

// safeRedirect keeps post-login redirects on this site
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "/"
	}
	return target
}

// StartAuthorization redirects the browser to the provider's consent page
// GET /oauth2/authorization/{registrationId}?redirect=/path
func (h *Handlers) StartAuthorization(w http.ResponseWriter, r *http.Request) {
	registrationID := mux.Vars(r)["registrationId"]
	redirect := safeRedirect(r.URL.Query().Get("redirect"))

	authURL, err := h.flow.Begin(r.Context(), registrationID, redirect)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// AuthorizationCallback completes the grant the provider redirected back for
// GET /login/oauth2/code/{registrationId}?code=&state=
func (h *Handlers) AuthorizationCallback(w http.ResponseWriter, r *http.Request) {
	registrationID := mux.Vars(r)["registrationId"]
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		writeError(w, r, errors.ValidationError("authorization was not granted: "+providerErr).WithCode(providerErr))
		return
	}
	if query.Get("code") == "" {
		writeError(w, r, errors.ValidationError("code is required").WithCode("invalid_request"))
		return
	}

	result, err := h.flow.Complete(r.Context(), registrationID, query.Get("state"), query.Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.Principal != nil {
		if err := h.sessions.Login(w, result.Principal); err != nil {
			writeError(w, r, err)
			return
		}
	}

	http.Redirect(w, r, safeRedirect(result.RedirectURI), http.StatusFound)
}

// Logout ends the session
// POST /logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		logging.WithContext(r.Context()).Warn("Failed to revoke session", logging.Err(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUser describes the signed-in principal
// GET /api/v1/me
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := oauth2.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, errors.AuthError("authentication required"))
		return
	}

	body := map[string]interface{}{"name": principal.Name()}
	if p, ok := principal.(*oauth2.OAuth2Principal); ok {
		body["registration_id"] = p.RegistrationID
		body["attributes"] = FilterSensitiveFields(p.Attributes)
	}
	writeJSON(w, http.StatusOK, body)
}

// GetAuthorizedClient reports whether the user has connected the registration
// GET /api/v1/oauth2/authorized-clients/{registrationId}
func (h *Handlers) GetAuthorizedClient(w http.ResponseWriter, r *http.Request) {
	status, err := h.flow.Status(r.Context(), mux.Vars(r)["registrationId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DeleteAuthorizedClient disconnects the registration for the user
// DELETE /api/v1/oauth2/authorized-clients/{registrationId}
func (h *Handlers) DeleteAuthorizedClient(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Disconnect(r.Context(), mux.Vars(r)["registrationId"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
