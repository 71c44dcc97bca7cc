package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
)

// DefaultClockSkew is subtracted from a token's expiry before the manager
// considers it still usable
const DefaultClockSkew = 60 * time.Second

// AuthorizedClientManager produces an authorized client for a request,
// talking to the authorization server when needed. It returns nil, nil when
// the grant cannot be obtained without user interaction.
type AuthorizedClientManager interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizedClient, error)
}

// Manager authorizes clients against the configured registrations and keeps
// the results in an AuthorizedClientService.
//
// Resolution order for a request:
//  1. the client carried by the request, else the stored client
//  2. that client, unchanged, while its token has an expiry that is still
//     ahead (less clock skew)
//  3. a refresh when the client holds a refresh token
//  4. a new client_credentials grant for client_credentials registrations
//
// An authorization_code registration with nothing to refresh yields nil, nil.
type Manager struct {
	name          string
	registrations RegistrationRepository
	clients       AuthorizedClientService
	tokens        TokenExchanger
	clock         clockwork.Clock
	clockSkew     time.Duration
	logger        logging.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerClock sets the clock used for expiry checks
func WithManagerClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithClockSkew sets the margin before expiry at which tokens are renewed
func WithClockSkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.clockSkew = skew
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager. name distinguishes instances in logs.
func NewManager(name string, registrations RegistrationRepository, clients AuthorizedClientService, tokens TokenExchanger, opts ...ManagerOption) *Manager {
	m := &Manager{
		name:          name,
		registrations: registrations,
		clients:       clients,
		tokens:        tokens,
		clock:         clockwork.NewRealClock(),
		clockSkew:     DefaultClockSkew,
		logger:        logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithFields(logging.String("manager", name))
	return m
}

// Authorize returns a usable authorized client for req, or nil, nil when the
// user has to authorize again
func (m *Manager) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizedClient, error) {
	if req == nil || req.Principal == nil {
		return nil, errors.ValidationError("authorize request with a principal is required")
	}

	reg, ok := m.registrations.FindByRegistrationID(req.RegistrationID)
	if !ok {
		return nil, errors.IllegalStateError(fmt.Sprintf("unknown registration id: %s", req.RegistrationID))
	}

	principalName := req.Principal.Name()
	logger := m.logger.WithContext(ctx).WithFields(
		logging.String("registration_id", reg.ID),
		logging.String("principal", principalName),
	)

	client := req.AuthorizedClient
	if client == nil {
		var err error
		client, err = m.clients.LoadAuthorizedClient(ctx, reg.ID, principalName)
		if err != nil {
			return nil, err
		}
	}

	if client != nil && client.AccessToken != nil && !m.hasExpired(client.AccessToken) {
		logger.Debug("Using stored authorized client")
		return client, nil
	}

	var (
		access  *AccessToken
		refresh *RefreshToken
		err     error
	)

	switch {
	case client.HasRefreshToken():
		logger.Debug("Refreshing access token")
		access, refresh, err = m.tokens.Refresh(ctx, reg, client.RefreshToken)
		if errors.IsType(err, errors.ErrTypeAuth) {
			logger.Warn("Refresh token rejected, removing authorized client", logging.Err(err))
			if removeErr := m.clients.RemoveAuthorizedClient(ctx, reg.ID, principalName); removeErr != nil {
				logger.Error("Failed to remove authorized client", removeErr)
			}
		}
	case reg.GrantType == GrantTypeClientCredentials:
		logger.Debug("Requesting client credentials token")
		access, refresh, err = m.tokens.ClientCredentials(ctx, reg)
	default:
		logger.Debug("User authorization required")
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	authorized := &AuthorizedClient{
		RegistrationID: reg.ID,
		PrincipalName:  principalName,
		AccessToken:    access,
		RefreshToken:   refresh,
	}

	if err := m.clients.SaveAuthorizedClient(ctx, authorized); err != nil {
		logger.Warn("Failed to save authorized client", logging.Err(err))
	}

	return authorized, nil
}

// hasExpired treats tokens without an expiry as expired; their lifetime is
// unknown so they are never reused
func (m *Manager) hasExpired(token *AccessToken) bool {
	if token.ExpiresAt == nil {
		return true
	}
	return !m.clock.Now().Before(token.ExpiresAt.Add(-m.clockSkew))
}
