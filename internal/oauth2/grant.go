package oauth2

import (
	"context"
	"fmt"

	"metal-detector/internal/common/errors"
)

// GrantStrategy decides which principal a grant is requested for and builds
// the matching AuthorizeRequest
type GrantStrategy struct {
	source PrincipalSource
}

// NewGrantStrategy creates a GrantStrategy reading per-user principals from source
func NewGrantStrategy(source PrincipalSource) *GrantStrategy {
	if source == nil {
		source = ContextPrincipalSource{}
	}
	return &GrantStrategy{source: source}
}

// ProvideForGrant returns the Anonymous singleton for client_credentials and
// the current principal for authorization_code. Any other grant type is
// rejected with a validation error naming it.
func (g *GrantStrategy) ProvideForGrant(ctx context.Context, grantType GrantType) (Principal, error) {
	switch grantType {
	case GrantTypeClientCredentials:
		return Anonymous, nil
	case GrantTypeAuthorizationCode:
		return g.source.CurrentPrincipal(ctx)
	default:
		return nil, unsupportedGrant(grantType)
	}
}

// BuildAuthorizeRequest returns a request for registrationID on behalf of
// the principal chosen by ProvideForGrant. The previously authorized client
// is only attached for authorization_code grants, where it carries the
// refresh token.
func (g *GrantStrategy) BuildAuthorizeRequest(ctx context.Context, grantType GrantType, authorizedClient *AuthorizedClient, registrationID string) (*AuthorizeRequest, error) {
	principal, err := g.ProvideForGrant(ctx, grantType)
	if err != nil {
		return nil, err
	}

	req := &AuthorizeRequest{
		RegistrationID: registrationID,
		Principal:      principal,
	}
	if grantType == GrantTypeAuthorizationCode {
		req.AuthorizedClient = authorizedClient
	}
	return req, nil
}

func unsupportedGrant(grantType GrantType) error {
	return errors.ValidationError(fmt.Sprintf("unsupported grant type: %s", grantType)).
		WithCode("unsupported_grant_type")
}
