package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"metal-detector/internal/common/errors"
)

// AnonymousName is the principal name used for application-level grants
const AnonymousName = "anonymousUser"

// Principal is the identity a token is requested for
type Principal interface {
	Name() string
}

// AnonymousPrincipal is the identity of the application itself. Use the
// Anonymous singleton rather than constructing one.
type AnonymousPrincipal struct{}

// Name returns AnonymousName
func (*AnonymousPrincipal) Name() string { return AnonymousName }

// Anonymous is the process-wide principal for client_credentials grants
var Anonymous Principal = &AnonymousPrincipal{}

// UserPrincipal is a plain authenticated user
type UserPrincipal struct {
	Username string
}

// Name returns the username
func (p *UserPrincipal) Name() string { return p.Username }

// OAuth2Principal is a user who logged in through an identity provider
type OAuth2Principal struct {
	RegistrationID string
	NameAttribute  string
	Attributes     map[string]any
}

// Name returns the value of the name attribute
func (p *OAuth2Principal) Name() string {
	return p.Attribute(p.NameAttribute)
}

// Attribute returns the attribute as a string, or "" when it is absent.
// Numbers decoded from JSON are written out in full, never in exponent form.
func (p *OAuth2Principal) Attribute(key string) string {
	v, ok := p.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated principal
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p != nil
}

// PrincipalSource yields the principal a call runs on behalf of
type PrincipalSource interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}

// PrincipalSourceFunc adapts a function to PrincipalSource
type PrincipalSourceFunc func(ctx context.Context) (Principal, error)

// CurrentPrincipal calls f(ctx)
func (f PrincipalSourceFunc) CurrentPrincipal(ctx context.Context) (Principal, error) {
	return f(ctx)
}

// ContextPrincipalSource reads the principal placed in the context by the
// HTTP session middleware or the scheduler
type ContextPrincipalSource struct{}

// CurrentPrincipal returns the context principal or an authentication error
func (ContextPrincipalSource) CurrentPrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, errors.AuthError("no authenticated principal in context")
	}
	return p, nil
}
