package oauth2

import (
	"time"
)

// GrantType identifies the OAuth2 flow used to obtain a token
type GrantType string

const (
	// GrantTypeClientCredentials is the app-only flow
	GrantTypeClientCredentials GrantType = "client_credentials"
	// GrantTypeAuthorizationCode is the per-user redirect flow
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	// GrantTypeRefreshToken is recognised on the wire but not accepted as a
	// requested grant
	GrantTypeRefreshToken GrantType = "refresh_token"
	// GrantTypePassword is recognised on the wire but not accepted as a
	// requested grant
	GrantTypePassword GrantType = "password"
)

// String returns the wire identifier of the grant type
func (g GrantType) String() string {
	return string(g)
}

// Supported reports whether the grant type can be requested from this package
func (g GrantType) Supported() bool {
	return g == GrantTypeClientCredentials || g == GrantTypeAuthorizationCode
}

// AccessToken is an immutable bearer credential. A nil ExpiresAt means the
// provider did not report a lifetime.
type AccessToken struct {
	TokenValue string     `json:"token_value"`
	TokenType  string     `json:"token_type"`
	IssuedAt   *time.Time `json:"issued_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Scopes     []string   `json:"scopes,omitempty"`
}

// ExpiresAfter reports whether the token carries an expiry strictly after now
func (t *AccessToken) ExpiresAfter(now time.Time) bool {
	return t != nil && t.ExpiresAt != nil && t.ExpiresAt.After(now)
}

// RefreshToken is the long-lived credential used to renew an AccessToken
type RefreshToken struct {
	TokenValue string     `json:"token_value"`
	IssuedAt   *time.Time `json:"issued_at,omitempty"`
}

// AuthorizedClient associates a registration and a principal with the tokens
// granted to them. It is keyed by (RegistrationID, PrincipalName).
type AuthorizedClient struct {
	RegistrationID string        `json:"registration_id"`
	PrincipalName  string        `json:"principal_name"`
	AccessToken    *AccessToken  `json:"access_token,omitempty"`
	RefreshToken   *RefreshToken `json:"refresh_token,omitempty"`
}

// TokenValue returns the access token value, or "" when the client, its
// token or the value is absent.
func (c *AuthorizedClient) TokenValue() string {
	if c == nil || c.AccessToken == nil {
		return ""
	}
	return c.AccessToken.TokenValue
}

// HasRefreshToken reports whether the client can be renewed without user
// interaction
func (c *AuthorizedClient) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != nil && c.RefreshToken.TokenValue != ""
}

// ClientRegistration is one preconfigured OAuth2 client
type ClientRegistration struct {
	ID               string    `yaml:"-" validate:"required"`
	ClientID         string    `yaml:"client_id" validate:"required"`
	ClientSecret     string    `yaml:"client_secret" validate:"required"`
	GrantType        GrantType `yaml:"grant_type" validate:"required,oneof=client_credentials authorization_code"`
	AuthorizationURI string    `yaml:"authorization_uri" validate:"required_if=GrantType authorization_code"`
	TokenURI         string    `yaml:"token_uri" validate:"required,url"`
	UserInfoURI      string    `yaml:"user_info_uri" validate:"omitempty,url"`
	RedirectURI      string    `yaml:"redirect_uri" validate:"required_if=GrantType authorization_code"`
	Scopes           []string  `yaml:"scopes"`
	// NameAttribute is the user-info attribute holding the user's name for
	// login registrations
	NameAttribute string `yaml:"name_attribute"`
}

// AuthorizeRequest carries what an AuthorizedClientManager needs to produce
// an AuthorizedClient. AuthorizedClient is only set for authorization_code
// grants, where it holds the refresh token.
type AuthorizeRequest struct {
	RegistrationID   string
	Principal        Principal
	AuthorizedClient *AuthorizedClient
}
