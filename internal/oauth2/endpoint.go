package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"metal-detector/internal/circuitbreaker"
	"metal-detector/internal/common/errors"
)

// TokenExchanger obtains tokens from an authorization server
type TokenExchanger interface {
	ClientCredentials(ctx context.Context, reg *ClientRegistration) (*AccessToken, *RefreshToken, error)
	Refresh(ctx context.Context, reg *ClientRegistration, refreshToken *RefreshToken) (*AccessToken, *RefreshToken, error)
	Exchange(ctx context.Context, reg *ClientRegistration, code string) (*AccessToken, *RefreshToken, error)
	AuthCodeURL(reg *ClientRegistration, state string) string
	UserInfo(ctx context.Context, reg *ClientRegistration, accessToken string) (map[string]any, error)
}

// TokenEndpoint talks to authorization servers through golang.org/x/oauth2.
// Every network call runs inside the circuit breaker.
type TokenEndpoint struct {
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	clock      clockwork.Clock
}

// NewTokenEndpoint creates an endpoint client. httpClient carries the
// timeout; a nil breaker disables circuit breaking.
func NewTokenEndpoint(httpClient *http.Client, breaker *circuitbreaker.GoBreakerAdapter, clock clockwork.Clock) *TokenEndpoint {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenEndpoint{httpClient: httpClient, breaker: breaker, clock: clock}
}

func (e *TokenEndpoint) config(reg *ClientRegistration) *xoauth2.Config {
	return &xoauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  reg.RedirectURI,
		Scopes:       reg.Scopes,
		Endpoint: xoauth2.Endpoint{
			AuthURL:  reg.AuthorizationURI,
			TokenURL: reg.TokenURI,
		},
	}
}

func (e *TokenEndpoint) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = context.WithValue(ctx, xoauth2.HTTPClient, e.httpClient)
	if e.breaker == nil {
		return fn(ctx)
	}
	return e.breaker.Execute(ctx, func() error { return fn(ctx) })
}

// AuthCodeURL returns the provider URL the user is redirected to
func (e *TokenEndpoint) AuthCodeURL(reg *ClientRegistration, state string) string {
	return e.config(reg).AuthCodeURL(state)
}

// ClientCredentials requests an application token
func (e *TokenEndpoint) ClientCredentials(ctx context.Context, reg *ClientRegistration) (*AccessToken, *RefreshToken, error) {
	conf := &clientcredentials.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		TokenURL:     reg.TokenURI,
		Scopes:       reg.Scopes,
	}

	var token *xoauth2.Token
	err := e.execute(ctx, func(ctx context.Context) error {
		var err error
		token, err = conf.Token(ctx)
		return e.translate(reg, err)
	})
	if err != nil {
		return nil, nil, err
	}
	return e.convert(reg, token)
}

// Refresh renews an access token with refreshToken. The refresh token is
// kept when the server does not rotate it.
func (e *TokenEndpoint) Refresh(ctx context.Context, reg *ClientRegistration, refreshToken *RefreshToken) (*AccessToken, *RefreshToken, error) {
	if refreshToken == nil || refreshToken.TokenValue == "" {
		return nil, nil, errors.ValidationError("refresh token is required")
	}

	var token *xoauth2.Token
	err := e.execute(ctx, func(ctx context.Context) error {
		var err error
		token, err = e.config(reg).TokenSource(ctx, &xoauth2.Token{RefreshToken: refreshToken.TokenValue}).Token()
		return e.translate(reg, err)
	})
	if err != nil {
		return nil, nil, err
	}

	access, refresh, err := e.convert(reg, token)
	if err == nil && refresh != nil && refresh.TokenValue == refreshToken.TokenValue {
		refresh = refreshToken
	}
	return access, refresh, err
}

// Exchange trades an authorization code for tokens
func (e *TokenEndpoint) Exchange(ctx context.Context, reg *ClientRegistration, code string) (*AccessToken, *RefreshToken, error) {
	if code == "" {
		return nil, nil, errors.ValidationError("authorization code is required")
	}

	var token *xoauth2.Token
	err := e.execute(ctx, func(ctx context.Context) error {
		var err error
		token, err = e.config(reg).Exchange(ctx, code)
		return e.translate(reg, err)
	})
	if err != nil {
		return nil, nil, err
	}
	return e.convert(reg, token)
}

// UserInfo fetches the attributes of the user owning accessToken
func (e *TokenEndpoint) UserInfo(ctx context.Context, reg *ClientRegistration, accessToken string) (map[string]any, error) {
	if reg.UserInfoURI == "" {
		return nil, errors.ConfigError(fmt.Sprintf("registration %s has no user info uri", reg.ID))
	}

	var attributes map[string]any
	err := e.execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reg.UserInfoURI, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return errors.ConnectionError("user info request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return errors.ConnectionError(fmt.Sprintf("user info endpoint returned %d", resp.StatusCode), fmt.Errorf("%s", body))
		}

		return json.NewDecoder(resp.Body).Decode(&attributes)
	})
	if err != nil {
		return nil, err
	}
	return attributes, nil
}

// translate maps a rejection by the authorization server to an
// authentication error so it does not trip the breaker
func (e *TokenEndpoint) translate(reg *ClientRegistration, err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *xoauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
		code := retrieveErr.ErrorCode
		if code == "" {
			code = "token_request_rejected"
		}
		return errors.AuthError(fmt.Sprintf("authorization server rejected token request for registration %s", reg.ID)).
			WithCode(code)
	}

	return errors.ConnectionError(fmt.Sprintf("token request failed for registration %s", reg.ID), err)
}

func (e *TokenEndpoint) convert(reg *ClientRegistration, token *xoauth2.Token) (*AccessToken, *RefreshToken, error) {
	if token == nil || token.AccessToken == "" {
		return nil, nil, errors.IllegalArgumentError(fmt.Sprintf("token response without access token for registration %s", reg.ID))
	}

	now := e.clock.Now().UTC()
	access := &AccessToken{
		TokenValue: token.AccessToken,
		TokenType:  token.Type(),
		IssuedAt:   &now,
		Scopes:     reg.Scopes,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		access.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		access.Scopes = strings.Fields(scope)
	}

	var refresh *RefreshToken
	if token.RefreshToken != "" {
		refresh = &RefreshToken{TokenValue: token.RefreshToken, IssuedAt: &now}
	}
	return access, refresh, nil
}
