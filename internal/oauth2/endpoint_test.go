package oauth2

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/circuitbreaker"
	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
)

type tokenServer struct {
	*httptest.Server
	status int
	body   map[string]any
	forms  []url.Values
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.forms = append(ts.forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_ = json.NewEncoder(w).Encode(ts.body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"g-42","email":"alice@example.com"}`))
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) registration(grantType GrantType) *ClientRegistration {
	return &ClientRegistration{
		ID:               "spotify-app",
		ClientID:         "client",
		ClientSecret:     "secret",
		GrantType:        grantType,
		AuthorizationURI: ts.URL + "/authorize",
		TokenURI:         ts.URL + "/token",
		UserInfoURI:      ts.URL + "/userinfo",
		RedirectURI:      "http://localhost:8080/login/oauth2/code/spotify-app",
		Scopes:           []string{"user-follow-read"},
	}
}

func TestTokenEndpoint_ClientCredentials(t *testing.T) {
	ts := newTokenServer(t)
	ts.body = map[string]any{"access_token": "tok-123", "token_type": "Bearer", "expires_in": 3600, "scope": "a b"}
	clock := clockwork.NewFakeClock()
	endpoint := NewTokenEndpoint(ts.Client(), nil, clock)

	access, refresh, err := endpoint.ClientCredentials(context.Background(), ts.registration(GrantTypeClientCredentials))
	require.NoError(t, err)
	assert.Equal(t, "tok-123", access.TokenValue)
	assert.Equal(t, "Bearer", access.TokenType)
	assert.Equal(t, []string{"a", "b"}, access.Scopes)
	require.NotNil(t, access.ExpiresAt)
	assert.True(t, access.ExpiresAt.After(time.Now()))
	assert.True(t, clock.Now().UTC().Equal(*access.IssuedAt))
	assert.Nil(t, refresh)

	require.NotEmpty(t, ts.forms)
	assert.Equal(t, "client_credentials", ts.forms[0].Get("grant_type"))
}

func TestTokenEndpoint_Refresh(t *testing.T) {
	ts := newTokenServer(t)
	ts.body = map[string]any{"access_token": "renewed", "token_type": "Bearer", "expires_in": 3600}
	endpoint := NewTokenEndpoint(ts.Client(), nil, nil)
	original := &RefreshToken{TokenValue: "refresh-1"}

	access, refresh, err := endpoint.Refresh(context.Background(), ts.registration(GrantTypeAuthorizationCode), original)
	require.NoError(t, err)
	assert.Equal(t, "renewed", access.TokenValue)
	assert.Same(t, original, refresh)
	assert.Equal(t, "refresh_token", ts.forms[0].Get("grant_type"))
	assert.Equal(t, "refresh-1", ts.forms[0].Get("refresh_token"))

	ts.body["refresh_token"] = "refresh-2"
	_, rotated, err := endpoint.Refresh(context.Background(), ts.registration(GrantTypeAuthorizationCode), original)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", rotated.TokenValue)

	_, _, err = endpoint.Refresh(context.Background(), ts.registration(GrantTypeAuthorizationCode), nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestTokenEndpoint_Exchange(t *testing.T) {
	ts := newTokenServer(t)
	ts.body = map[string]any{"access_token": "user-access", "token_type": "Bearer", "refresh_token": "user-refresh", "expires_in": 3600}
	endpoint := NewTokenEndpoint(ts.Client(), nil, nil)
	reg := ts.registration(GrantTypeAuthorizationCode)

	access, refresh, err := endpoint.Exchange(context.Background(), reg, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "user-access", access.TokenValue)
	assert.Equal(t, "user-refresh", refresh.TokenValue)
	assert.Equal(t, "authorization_code", ts.forms[0].Get("grant_type"))
	assert.Equal(t, "the-code", ts.forms[0].Get("code"))

	_, _, err = endpoint.Exchange(context.Background(), reg, "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestTokenEndpoint_AuthCodeURL(t *testing.T) {
	ts := newTokenServer(t)
	endpoint := NewTokenEndpoint(nil, nil, nil)

	raw := endpoint.AuthCodeURL(ts.registration(GrantTypeAuthorizationCode), "state-1")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "user-follow-read", u.Query().Get("scope"))
}

func TestTokenEndpoint_UserInfo(t *testing.T) {
	ts := newTokenServer(t)
	endpoint := NewTokenEndpoint(ts.Client(), nil, nil)
	reg := ts.registration(GrantTypeAuthorizationCode)

	attributes, err := endpoint.UserInfo(context.Background(), reg, "user-access")
	require.NoError(t, err)
	assert.Equal(t, "g-42", attributes["sub"])

	_, err = endpoint.UserInfo(context.Background(), reg, "wrong")
	assert.Error(t, err)

	reg.UserInfoURI = ""
	_, err = endpoint.UserInfo(context.Background(), reg, "user-access")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestTokenEndpoint_Errors(t *testing.T) {
	t.Run("rejection is an auth error", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.status = http.StatusBadRequest
		ts.body = map[string]any{"error": "invalid_client"}
		endpoint := NewTokenEndpoint(ts.Client(), nil, nil)

		_, _, err := endpoint.ClientCredentials(context.Background(), ts.registration(GrantTypeClientCredentials))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
		assert.Contains(t, err.Error(), "spotify-app")
	})

	t.Run("server failure is a connection error", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.status = http.StatusBadGateway
		ts.body = map[string]any{}
		endpoint := NewTokenEndpoint(ts.Client(), nil, nil)

		_, _, err := endpoint.ClientCredentials(context.Background(), ts.registration(GrantTypeClientCredentials))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})

	t.Run("missing access token", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.body = map[string]any{"token_type": "Bearer"}
		endpoint := NewTokenEndpoint(ts.Client(), nil, nil)

		_, _, err := endpoint.ClientCredentials(context.Background(), ts.registration(GrantTypeClientCredentials))
		assert.Error(t, err)
	})
}

func TestTokenEndpoint_Breaker(t *testing.T) {
	ts := newTokenServer(t)
	ts.status = http.StatusBadRequest
	ts.body = map[string]any{"error": "invalid_client"}
	breaker := circuitbreaker.NewGoBreaker("token-endpoint-test",
		circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1},
		logging.GetGlobalLogger())
	endpoint := NewTokenEndpoint(ts.Client(), breaker, nil)
	reg := ts.registration(GrantTypeClientCredentials)

	// Rejections are answers, not outages
	for i := 0; i < 3; i++ {
		_, _, err := endpoint.ClientCredentials(context.Background(), reg)
		require.Error(t, err)
	}
	assert.False(t, breaker.IsOpen())

	ts.status = http.StatusServiceUnavailable
	_, _, err := endpoint.ClientCredentials(context.Background(), reg)
	require.Error(t, err)
	assert.True(t, breaker.IsOpen())

	requests := len(ts.forms)
	_, _, err = endpoint.ClientCredentials(context.Background(), reg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Equal(t, requests, len(ts.forms))
}
