package oauth2

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
)

// TokenProvider returns a bearer token value for a preconfigured registration
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider
type TokenProviderFunc func(ctx context.Context) (string, error)

// AccessToken calls f(ctx)
func (f TokenProviderFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

func missingToken(registrationID string) error {
	return errors.IllegalArgumentError(fmt.Sprintf("no access token available for registration %s", registrationID)).
		WithContext("registration_id", registrationID)
}

// AuthorizationCodeTokenProvider serves the token a user granted through the
// authorization-code flow. It never contacts the authorization server: a
// missing grant fails so the caller can send the user to re-authorize.
type AuthorizationCodeTokenProvider struct {
	registrationID string
	users          UserIDSupplier
	clients        AuthorizedClientService
}

// NewAuthorizationCodeTokenProvider creates a provider for registrationID
func NewAuthorizationCodeTokenProvider(registrationID string, users UserIDSupplier, clients AuthorizedClientService) *AuthorizationCodeTokenProvider {
	return &AuthorizationCodeTokenProvider{
		registrationID: registrationID,
		users:          users,
		clients:        clients,
	}
}

// AccessToken returns the stored token of the current user
func (p *AuthorizationCodeTokenProvider) AccessToken(ctx context.Context) (string, error) {
	userID, err := p.users.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}

	client, err := p.clients.LoadAuthorizedClient(ctx, p.registrationID, userID)
	if err != nil {
		return "", err
	}

	if token := client.TokenValue(); token != "" {
		return token, nil
	}

	logging.WithContext(ctx).Debug("No stored user grant",
		logging.String("registration_id", p.registrationID),
		logging.String("user_id", userID),
	)
	return "", missingToken(p.registrationID)
}

// ClientCredentialsTokenProvider is a read-through cache over an
// AuthorizedClientManager. A cached token is reused while its expiry lies
// strictly in the future; there is no skew margin.
//
// No lock guards the lookup-then-authorize sequence. Concurrent callers on an
// expired token may both refresh; the store keeps the last write.
type ClientCredentialsTokenProvider struct {
	registrationID string
	grantType      GrantType
	principalName  string
	clients        AuthorizedClientService
	managers       ManagerProvider
	grants         *GrantStrategy
	clock          clockwork.Clock
}

// ProviderOption configures a ClientCredentialsTokenProvider
type ProviderOption func(*ClientCredentialsTokenProvider)

// WithClock sets the clock used for expiry checks
func WithClock(clock clockwork.Clock) ProviderOption {
	return func(p *ClientCredentialsTokenProvider) {
		p.clock = clock
	}
}

// WithPrincipalName sets the principal name cached clients are looked up by
func WithPrincipalName(name string) ProviderOption {
	return func(p *ClientCredentialsTokenProvider) {
		p.principalName = name
	}
}

// NewClientCredentialsTokenProvider creates a provider for registrationID
// that requests grantType from the manager chosen by managers
func NewClientCredentialsTokenProvider(
	registrationID string,
	grantType GrantType,
	clients AuthorizedClientService,
	managers ManagerProvider,
	grants *GrantStrategy,
	opts ...ProviderOption,
) *ClientCredentialsTokenProvider {
	p := &ClientCredentialsTokenProvider{
		registrationID: registrationID,
		grantType:      grantType,
		principalName:  Anonymous.Name(),
		clients:        clients,
		managers:       managers,
		grants:         grants,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccessToken returns the cached token while it is valid, otherwise a token
// freshly obtained from the manager for the execution mode in ctx
func (p *ClientCredentialsTokenProvider) AccessToken(ctx context.Context) (string, error) {
	cached, err := p.clients.LoadAuthorizedClient(ctx, p.registrationID, p.principalName)
	if err != nil {
		return "", err
	}

	if cached != nil && cached.AccessToken.ExpiresAfter(p.clock.Now()) {
		return cached.AccessToken.TokenValue, nil
	}

	req, err := p.grants.BuildAuthorizeRequest(ctx, p.grantType, nil, p.registrationID)
	if err != nil {
		return "", err
	}

	mode := ExecutionModeFromContext(ctx)
	logging.WithContext(ctx).Debug("Requesting new access token",
		logging.String("registration_id", p.registrationID),
		logging.String("execution_mode", mode.String()),
	)

	client, err := p.managers.Provide(mode).Authorize(ctx, req)
	if err != nil {
		return "", err
	}

	token := client.TokenValue()
	if token == "" {
		return "", missingToken(p.registrationID)
	}
	return token, nil
}
