package handlers

import (
	"net/http"
	"strconv"

	"metal-detector/internal/common/errors"
)

const (
	defaultPageSize      = 20
	defaultFollowedLimit = 50
)

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(name + " must be an integer")
	}
	return value, nil
}

// SearchArtists searches the catalog with the application token
// GET /api/v1/spotify/artists?query=&page=&size=
func (h *Handlers) SearchArtists(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := intParam(r, "size", defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.music.SearchArtists(r.Context(), r.URL.Query().Get("query"), page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// FollowedArtists lists the artists the signed-in user follows
// GET /api/v1/spotify/followed-artists?limit=
func (h *Handlers) FollowedArtists(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultFollowedLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	artists, err := h.music.FollowedArtists(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artists": artists})
}

// LatestReleases returns what the last release check found
// GET /api/v1/releases/latest
func (h *Handlers) LatestReleases(w http.ResponseWriter, r *http.Request) {
	if h.releases == nil {
		writeError(w, r, errors.NotFoundError("release check"))
		return
	}

	albums, checkedAt := h.releases.Latest()
	body := map[string]interface{}{"albums": albums}
	if !checkedAt.IsZero() {
		body["checked_at"] = checkedAt
	}
	writeJSON(w, http.StatusOK, body)
}

// ListJobs reports scheduled job status
// GET /api/v1/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobs.Status()})
}
