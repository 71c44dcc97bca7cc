package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
)

// DefaultAuthorizationRequestTTL bounds how long a user may take at the provider
const DefaultAuthorizationRequestTTL = 10 * time.Minute

// FlowResult is the outcome of a completed authorization-code callback.
// Principal is only set for login registrations.
type FlowResult struct {
	Client      *AuthorizedClient
	Principal   *OAuth2Principal
	RedirectURI string
}

// AuthorizationFlow runs the redirect and callback halves of the
// authorization-code grant
type AuthorizationFlow struct {
	registrations RegistrationRepository
	requests      AuthorizationRequestStore
	clients       AuthorizedClientService
	tokens        TokenExchanger
	users         UserIDSupplier
	keys          KeyGenerator
	clock         clockwork.Clock
	ttl           time.Duration
	logins        map[string]bool
}

// FlowOption configures an AuthorizationFlow
type FlowOption func(*AuthorizationFlow)

// WithKeyGenerator sets the source of state values
func WithKeyGenerator(keys KeyGenerator) FlowOption {
	return func(f *AuthorizationFlow) {
		f.keys = keys
	}
}

// WithFlowClock sets the clock stamped on pending authorizations
func WithFlowClock(clock clockwork.Clock) FlowOption {
	return func(f *AuthorizationFlow) {
		f.clock = clock
	}
}

// WithRequestTTL sets how long a pending authorization stays redeemable
func WithRequestTTL(ttl time.Duration) FlowOption {
	return func(f *AuthorizationFlow) {
		f.ttl = ttl
	}
}

// WithLoginRegistrations replaces the registrations that sign users in
// instead of granting API access
func WithLoginRegistrations(ids ...string) FlowOption {
	return func(f *AuthorizationFlow) {
		f.logins = make(map[string]bool, len(ids))
		for _, id := range ids {
			f.logins[id] = true
		}
	}
}

// NewAuthorizationFlow creates a flow. Google is the login registration
// unless WithLoginRegistrations says otherwise.
func NewAuthorizationFlow(
	registrations RegistrationRepository,
	requests AuthorizationRequestStore,
	clients AuthorizedClientService,
	tokens TokenExchanger,
	users UserIDSupplier,
	opts ...FlowOption,
) *AuthorizationFlow {
	f := &AuthorizationFlow{
		registrations: registrations,
		requests:      requests,
		clients:       clients,
		tokens:        tokens,
		users:         users,
		keys:          UUIDKeyGenerator{},
		clock:         clockwork.NewRealClock(),
		ttl:           DefaultAuthorizationRequestTTL,
		logins:        map[string]bool{GoogleRegistrationID: true},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsLogin reports whether registrationID signs users in
func (f *AuthorizationFlow) IsLogin(registrationID string) bool {
	return f.logins[registrationID]
}

func (f *AuthorizationFlow) registration(registrationID string) (*ClientRegistration, error) {
	reg, ok := f.registrations.FindByRegistrationID(registrationID)
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("registration %s", registrationID))
	}
	if reg.GrantType != GrantTypeAuthorizationCode {
		return nil, unsupportedGrant(reg.GrantType)
	}
	return reg, nil
}

// Begin records a pending authorization and returns the provider URL to
// redirect the user to. redirectURI is where the user lands after the
// callback. Connecting an API registration requires a signed-in user.
func (f *AuthorizationFlow) Begin(ctx context.Context, registrationID, redirectURI string) (string, error) {
	reg, err := f.registration(registrationID)
	if err != nil {
		return "", err
	}

	pending := &PendingAuthorization{
		RegistrationID: reg.ID,
		RedirectURI:    redirectURI,
		CreatedAt:      f.clock.Now().UTC(),
	}

	if !f.IsLogin(reg.ID) {
		userID, err := f.users.CurrentUserID(ctx)
		if err != nil {
			return "", err
		}
		pending.PrincipalName = userID
	}

	state, err := NewStateGenerator(f.keys).GenerateState()
	if err != nil {
		return "", errors.InternalError("failed to generate state", err)
	}
	pending.State = state

	if err := f.requests.Save(ctx, pending, f.ttl); err != nil {
		return "", errors.InternalError("failed to save authorization request", err)
	}

	logging.WithContext(ctx).Debug("Authorization request started",
		logging.String("registration_id", reg.ID),
		logging.String("principal", pending.PrincipalName),
	)
	return f.tokens.AuthCodeURL(reg, state), nil
}

// Complete redeems the callback for state. Login registrations return the
// signed-in principal; other registrations store the granted client for the
// user who started the flow.
func (f *AuthorizationFlow) Complete(ctx context.Context, registrationID, state, code string) (*FlowResult, error) {
	reg, err := f.registration(registrationID)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return nil, errors.ValidationError("state is required").WithCode("invalid_state")
	}

	pending, err := f.requests.Take(ctx, state)
	if err != nil {
		return nil, errors.InternalError("failed to load authorization request", err)
	}
	if pending == nil || pending.RegistrationID != reg.ID {
		return nil, errors.ValidationError("unknown or expired state").WithCode("invalid_state")
	}

	access, refresh, err := f.tokens.Exchange(ctx, reg, code)
	if err != nil {
		return nil, err
	}

	result := &FlowResult{RedirectURI: pending.RedirectURI}
	logger := logging.WithContext(ctx).WithFields(logging.String("registration_id", reg.ID))

	if f.IsLogin(reg.ID) {
		attributes, err := f.tokens.UserInfo(ctx, reg, access.TokenValue)
		if err != nil {
			return nil, err
		}

		nameAttribute := reg.NameAttribute
		if nameAttribute == "" {
			nameAttribute = "sub"
		}
		principal := &OAuth2Principal{
			RegistrationID: reg.ID,
			NameAttribute:  nameAttribute,
			Attributes:     attributes,
		}
		if principal.Name() == "" {
			return nil, errors.AuthError(fmt.Sprintf("user info for registration %s has no %q attribute", reg.ID, nameAttribute))
		}

		result.Principal = principal
		result.Client = &AuthorizedClient{
			RegistrationID: reg.ID,
			PrincipalName:  principal.Name(),
			AccessToken:    access,
			RefreshToken:   refresh,
		}
		logger.Info("User signed in", logging.String("principal", principal.Name()))
		return result, nil
	}

	userID, err := f.users.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if userID != pending.PrincipalName {
		return nil, errors.AuthError("authorization was started by a different user")
	}

	result.Client = &AuthorizedClient{
		RegistrationID: reg.ID,
		PrincipalName:  userID,
		AccessToken:    access,
		RefreshToken:   refresh,
	}
	if err := f.clients.SaveAuthorizedClient(ctx, result.Client); err != nil {
		return nil, errors.InternalError("failed to save authorized client", err)
	}

	logger.Info("Authorized client connected", logging.String("principal", userID))
	return result, nil
}

// Disconnect removes the current user's client for registrationID
func (f *AuthorizationFlow) Disconnect(ctx context.Context, registrationID string) error {
	if _, ok := f.registrations.FindByRegistrationID(registrationID); !ok {
		return errors.NotFoundError(fmt.Sprintf("registration %s", registrationID))
	}

	userID, err := f.users.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	return f.clients.RemoveAuthorizedClient(ctx, registrationID, userID)
}

// ConnectionStatus describes a user's grant without exposing token values
type ConnectionStatus struct {
	RegistrationID  string     `json:"registration_id"`
	Connected       bool       `json:"connected"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	Scopes          []string   `json:"scopes,omitempty"`
}

// Status reports whether the current user holds a client for registrationID
func (f *AuthorizationFlow) Status(ctx context.Context, registrationID string) (*ConnectionStatus, error) {
	if _, ok := f.registrations.FindByRegistrationID(registrationID); !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("registration %s", registrationID))
	}

	userID, err := f.users.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	client, err := f.clients.LoadAuthorizedClient(ctx, registrationID, userID)
	if err != nil {
		return nil, err
	}

	status := &ConnectionStatus{RegistrationID: registrationID}
	if client.TokenValue() != "" {
		status.Connected = true
		status.ExpiresAt = client.AccessToken.ExpiresAt
		status.Scopes = client.AccessToken.Scopes
		status.HasRefreshToken = client.HasRefreshToken()
	}
	return status, nil
}
