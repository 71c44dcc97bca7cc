// Package auth issues and validates the session cookie set after a user
// logs in through the login registration.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/redis"
)

const (
	// DefaultCookieName is the name of the session cookie
	DefaultCookieName = "session"
	// DefaultIssuer is written to and required in every session token
	DefaultIssuer = "metal-detector"

	blacklistPrefix = "session:revoked:"
)

// Claims is the payload of a session token
type Claims struct {
	RegistrationID string         `json:"reg"`
	NameAttribute  string         `json:"name_attr"`
	Attributes     map[string]any `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

// Principal rebuilds the logged-in user from the claims
func (c *Claims) Principal() *oauth2.OAuth2Principal {
	return &oauth2.OAuth2Principal{
		RegistrationID: c.RegistrationID,
		NameAttribute:  c.NameAttribute,
		Attributes:     c.Attributes,
	}
}

// RedisInterface is the subset of the Redis client used for revocation
type RedisInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Config configures a SessionManager
type Config struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Issuer     string
	Secure     bool
}

// SessionManager signs session tokens with HS256 and keeps a Redis
// blacklist of logged-out tokens when a client is available
type SessionManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	issuer     string
	secure     bool
	redis      RedisInterface
	clock      clockwork.Clock
}

// Option customizes a SessionManager
type Option func(*SessionManager)

// WithClock replaces the wall clock, for tests
func WithClock(clock clockwork.Clock) Option {
	return func(m *SessionManager) {
		m.clock = clock
	}
}

// NewSessionManager creates a session manager. redisClient may be nil, in
// which case logout only clears the cookie.
func NewSessionManager(config Config, redisClient RedisInterface, opts ...Option) (*SessionManager, error) {
	if config.Secret == "" {
		return nil, errors.ConfigError("session secret is required")
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}

	m := &SessionManager{
		secret:     []byte(config.Secret),
		ttl:        config.TTL,
		cookieName: config.CookieName,
		issuer:     config.Issuer,
		secure:     config.Secure,
		redis:      redisClient,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a session token for principal and returns it with its expiry
func (m *SessionManager) Issue(principal *oauth2.OAuth2Principal) (string, time.Time, error) {
	if principal == nil || principal.Name() == "" {
		return "", time.Time{}, errors.AuthError("cannot issue a session without a principal name")
	}

	now := m.clock.Now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		RegistrationID: principal.RegistrationID,
		NameAttribute:  principal.NameAttribute,
		Attributes:     principal.Attributes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal.Name(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, errors.InternalError("failed to sign session token", err)
	}
	return token, expiresAt, nil
}

// Validate parses tokenString and checks signature, issuer, expiry and revocation
func (m *SessionManager) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid session token")
	}

	revoked, err := m.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errors.AuthError("session token has been revoked")
	}
	return claims, nil
}

func (m *SessionManager) isRevoked(ctx context.Context, id string) (bool, error) {
	if m.redis == nil || id == "" {
		return false, nil
	}
	_, err := m.redis.Get(ctx, blacklistPrefix+id)
	if err == nil {
		return true, nil
	}
	if redis.IsNil(err) {
		return false, nil
	}
	return false, errors.ConnectionError("failed to check session revocation", err)
}

// Login issues a session for principal and sets it as a cookie
func (m *SessionManager) Login(w http.ResponseWriter, principal *oauth2.OAuth2Principal) error {
	token, expiresAt, err := m.Issue(principal)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout revokes the request's session, if any, and clears the cookie
func (m *SessionManager) Logout(w http.ResponseWriter, r *http.Request) error {
	defer http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	tokenString := m.tokenFromRequest(r)
	if tokenString == "" || m.redis == nil {
		return nil
	}

	claims, err := m.Validate(r.Context(), tokenString)
	if err != nil {
		return nil
	}

	remaining := claims.ExpiresAt.Time.Sub(m.clock.Now())
	if remaining <= 0 {
		return nil
	}
	if err := m.redis.Set(r.Context(), blacklistPrefix+claims.ID, "1", remaining); err != nil {
		return errors.ConnectionError("failed to revoke session", err)
	}
	return nil
}

func (m *SessionManager) tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware attaches the session principal to the request context. Requests
// without a valid session continue with no principal.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := m.tokenFromRequest(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.Validate(r.Context(), tokenString)
		if err != nil {
			logging.WithContext(r.Context()).Debug("Ignoring session", logging.Err(err))
			next.ServeHTTP(w, r)
			return
		}

		principal := claims.Principal()
		ctx := oauth2.WithPrincipal(r.Context(), principal)
		ctx = logging.ContextWithFields(ctx, logging.String("principal", principal.Name()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests that carry no principal with 401
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := oauth2.PrincipalFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "auth",
				"message": "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
