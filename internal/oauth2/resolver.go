package oauth2

import (
	"context"
	"fmt"

	"metal-detector/internal/common/errors"
)

// GoogleRegistrationID is the login registration for Google accounts
const GoogleRegistrationID = "google"

// UserIDSupplier yields the identifier stored grants are keyed by
type UserIDSupplier interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// PrincipalResolver maps the current principal to a stable user id. Users
// logged in through an identity provider are identified by that provider's
// subject attribute; everyone else by their name.
type PrincipalResolver struct {
	source            PrincipalSource
	subjectAttributes map[string]string
}

// ResolverOption configures a PrincipalResolver
type ResolverOption func(*PrincipalResolver)

// WithSubjectAttribute registers the attribute holding the user id for logins
// through registrationID
func WithSubjectAttribute(registrationID, attribute string) ResolverOption {
	return func(r *PrincipalResolver) {
		r.subjectAttributes[registrationID] = attribute
	}
}

// NewPrincipalResolver creates a resolver that knows Google's "sub" claim
func NewPrincipalResolver(source PrincipalSource, opts ...ResolverOption) *PrincipalResolver {
	if source == nil {
		source = ContextPrincipalSource{}
	}
	r := &PrincipalResolver{
		source: source,
		subjectAttributes: map[string]string{
			GoogleRegistrationID: "sub",
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CurrentUserID returns the id of the principal in ctx. An OAuth2 login from
// a registration without a known subject attribute is an illegal state.
func (r *PrincipalResolver) CurrentUserID(ctx context.Context) (string, error) {
	principal, err := r.source.CurrentPrincipal(ctx)
	if err != nil {
		return "", err
	}

	oauthPrincipal, ok := principal.(*OAuth2Principal)
	if !ok || oauthPrincipal.RegistrationID == "" {
		return principal.Name(), nil
	}

	attribute, known := r.subjectAttributes[oauthPrincipal.RegistrationID]
	if !known {
		return "", errors.IllegalStateError(fmt.Sprintf("unknown registration id: %s", oauthPrincipal.RegistrationID))
	}

	userID := oauthPrincipal.Attribute(attribute)
	if userID == "" {
		return "", errors.IllegalStateError(fmt.Sprintf("attribute %q missing for registration id: %s", attribute, oauthPrincipal.RegistrationID))
	}
	return userID, nil
}
