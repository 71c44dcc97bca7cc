package oauth2

import (
	"net/http"
)

// BearerTransport is an http.RoundTripper that authorizes every request with
// a token from Provider. A failing provider aborts the request before it is
// sent; nothing is retried.
type BearerTransport struct {
	Provider TokenProvider
	// Base is the transport performing the request; http.DefaultTransport when nil
	Base http.RoundTripper
}

// RoundTrip sets "Authorization: Bearer <token>" on a clone of req and
// returns the base transport's result unchanged
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Provider.AccessToken(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(authorized)
}

func (t *BearerTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewClient returns an http.Client whose requests carry tokens from provider
func NewClient(provider TokenProvider, base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = &BearerTransport{Provider: provider, Base: client.Transport}
	return client
}
