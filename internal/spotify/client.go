// Package spotify is a small client for the Spotify Web API. Catalog calls
// use the application token, library calls use the logged-in user's token.
package spotify

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"metal-detector/internal/common/errors"
	httpx "metal-detector/internal/common/http"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public Web API root
	DefaultBaseURL = "https://api.spotify.com/v1"

	maxPageSize = 50
	serviceName = "spotify"
)

// Config configures a Client
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
}

// Client calls the Spotify Web API
type Client struct {
	baseURL  string
	app      *http.Client
	user     *http.Client
	throttle *ratelimit.Throttle
}

// NewClient creates a client. appTokens authorize catalog calls, userTokens
// authorize calls on the current user's library. base supplies timeouts and
// transport; a default client is used when nil.
func NewClient(config Config, appTokens, userTokens oauth2.TokenProvider, base *http.Client) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if base == nil {
		base = httpx.NewHTTPClient()
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		app:      oauth2.NewClient(appTokens, base),
		user:     oauth2.NewClient(userTokens, base),
		throttle: ratelimit.NewThrottle(config.RequestsPerSecond),
	}
}

// SearchArtists finds artists matching query. page is zero based.
func (c *Client) SearchArtists(ctx context.Context, query string, page, size int) (*ArtistPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.ValidationError("query must not be empty")
	}
	if page < 0 {
		return nil, errors.ValidationError("page must not be negative")
	}
	if size < 1 || size > maxPageSize {
		return nil, errors.ValidationError(fmt.Sprintf("size must be between 1 and %d", maxPageSize))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "artist")
	params.Set("limit", strconv.Itoa(size))
	params.Set("offset", strconv.Itoa(page*size))

	var envelope artistsEnvelope
	if err := c.get(ctx, c.app, "/search", params, &envelope); err != nil {
		return nil, err
	}

	return &ArtistPage{
		Artists: envelope.Artists.Items,
		Page:    page,
		Size:    size,
		Total:   envelope.Artists.Total,
	}, nil
}

// NewReleases lists the newest albums in the catalog
func (c *Client) NewReleases(ctx context.Context, limit int) ([]Album, error) {
	if limit < 1 || limit > maxPageSize {
		return nil, errors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var envelope albumsEnvelope
	if err := c.get(ctx, c.app, "/browse/new-releases", params, &envelope); err != nil {
		return nil, err
	}
	return envelope.Albums.Items, nil
}

// FollowedArtists lists artists the current user follows
func (c *Client) FollowedArtists(ctx context.Context, limit int) ([]Artist, error) {
	if limit < 1 || limit > maxPageSize {
		return nil, errors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}

	params := url.Values{}
	params.Set("type", "artist")
	params.Set("limit", strconv.Itoa(limit))

	var envelope artistsEnvelope
	if err := c.get(ctx, c.user, "/me/following", params, &envelope); err != nil {
		return nil, err
	}
	return envelope.Artists.Items, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, path string, params url.Values, out interface{}) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return errors.ConnectionError("spotify request not sent", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.InternalError("failed to build spotify request", err)
	}
	req.Header.Set("Accept", "application/json")

	logging.WithContext(ctx).Debug("Calling Spotify",
		logging.String("path", path),
		logging.String("execution_mode", oauth2.ExecutionModeFromContext(ctx).String()),
	)

	resp, err := client.Do(req)
	if err != nil {
		// Token failures from the transport keep their own type
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return appErr
		}
		return errors.ConnectionError("spotify request failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return errors.RateLimitError(serviceName)
	}
	return httpx.DecodeJSON(resp, serviceName, out)
}
