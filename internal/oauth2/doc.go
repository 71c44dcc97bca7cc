// Package oauth2 acquires, caches and attaches OAuth2 access tokens for
// calls to protected APIs such as Spotify.
//
// Two grant flows are supported:
//
//   - client_credentials: the application acts as itself under the
//     Anonymous principal. ClientCredentialsTokenProvider serves tokens from
//     the AuthorizedClientService and asks an AuthorizedClientManager for a new
//     one once the cached token has expired.
//   - authorization_code: a user granted access through a browser redirect.
//     AuthorizationCodeTokenProvider only reads the stored grant and fails
//     fast when it is missing so the user can be sent to re-authorize.
//
// The principal and the execution mode travel explicitly in the
// context.Context handed to every operation:
//
//	ctx = oauth2.WithPrincipal(ctx, principal)
//	ctx = oauth2.WithExecutionMode(ctx, oauth2.ScheduledJob)
//	token, err := provider.AccessToken(ctx)
//
// BearerTransport adapts any TokenProvider to an http.RoundTripper so API
// clients never deal with tokens directly.
package oauth2
