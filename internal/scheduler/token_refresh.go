package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
)

// TokenRefreshJobName is the name the token refresh is registered under
const TokenRefreshJobName = "token-refresh"

// RefreshableClientStore is a client store that can enumerate its principals
type RefreshableClientStore interface {
	oauth2.AuthorizedClientService
	oauth2.AuthorizedClientLister
}

// TokenRefresh renews the stored user clients of an authorization_code
// registration before their access tokens expire. Clients without a refresh
// token are left alone; their users have to authorize again.
type TokenRefresh struct {
	registrationID string
	clients        RefreshableClientStore
	managers       oauth2.ManagerProvider
	grants         *oauth2.GrantStrategy
	lead           time.Duration
	clock          clockwork.Clock
}

// NewTokenRefresh creates the job. Tokens expiring within lead are renewed;
// the scheduling manager should use the same lead as its clock skew.
func NewTokenRefresh(registrationID string, clients RefreshableClientStore, managers oauth2.ManagerProvider, grants *oauth2.GrantStrategy, lead time.Duration, clock clockwork.Clock) *TokenRefresh {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenRefresh{
		registrationID: registrationID,
		clients:        clients,
		managers:       managers,
		grants:         grants,
		lead:           lead,
		clock:          clock,
	}
}

// Run refreshes every client due for renewal. A failure for one principal
// does not stop the others; all failures are returned together.
func (j *TokenRefresh) Run(ctx context.Context) error {
	names, err := j.clients.ListPrincipalNames(ctx, j.registrationID)
	if err != nil {
		return err
	}

	logger := logging.WithContext(ctx).WithFields(logging.String("registration_id", j.registrationID))
	deadline := j.clock.Now().Add(j.lead)

	var (
		result    *multierror.Error
		refreshed int
	)
	for _, name := range names {
		client, err := j.clients.LoadAuthorizedClient(ctx, j.registrationID, name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("loading client of %s: %w", name, err))
			continue
		}
		if client == nil || !client.HasRefreshToken() || client.AccessToken.ExpiresAfter(deadline) {
			continue
		}

		if err := j.refresh(ctx, name, client); err != nil {
			logger.Warn("Token refresh failed", logging.String("principal", name), logging.Err(err))
			result = multierror.Append(result, fmt.Errorf("refreshing client of %s: %w", name, err))
			continue
		}
		refreshed++
	}

	logger.Info("Token refresh finished",
		logging.Int("clients", len(names)),
		logging.Int("refreshed", refreshed),
	)
	return result.ErrorOrNil()
}

func (j *TokenRefresh) refresh(ctx context.Context, principalName string, client *oauth2.AuthorizedClient) error {
	ctx = oauth2.WithPrincipal(ctx, &oauth2.UserPrincipal{Username: principalName})

	req, err := j.grants.BuildAuthorizeRequest(ctx, oauth2.GrantTypeAuthorizationCode, client, j.registrationID)
	if err != nil {
		return err
	}

	_, err = j.managers.Provide(oauth2.ExecutionModeFromContext(ctx)).Authorize(ctx, req)
	return err
}
