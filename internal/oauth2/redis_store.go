package oauth2

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// RedisInterface is the subset of the Redis client the Redis-backed stores use
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	GetDelete(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// RedisClientStore shares authorized clients between service instances.
//
// Keys expire on their own: a client without a refresh token is dropped a
// day after its access token expires, any other client after maxTTL.
type RedisClientStore struct {
	client RedisInterface
	isNil  func(error) bool
	sealer Sealer
	prefix string
	maxTTL time.Duration
	clock  clockwork.Clock
}

// NewRedisClientStore creates a store under the "oauth2:authorized_client:"
// prefix. isNil reports the client's missing-key error; sealer may be nil.
func NewRedisClientStore(client RedisInterface, isNil func(error) bool, sealer Sealer) *RedisClientStore {
	return &RedisClientStore{
		client: client,
		isNil:  isNil,
		sealer: sealer,
		prefix: "oauth2:authorized_client:",
		maxTTL: 30 * 24 * time.Hour,
		clock:  clockwork.NewRealClock(),
	}
}

func (s *RedisClientStore) key(registrationID, principalName string) string {
	return s.prefix + clientKey(registrationID, principalName)
}

// LoadAuthorizedClient returns nil, nil when the key is missing or expired
func (s *RedisClientStore) LoadAuthorizedClient(ctx context.Context, registrationID, principalName string) (*AuthorizedClient, error) {
	data, err := s.client.Get(ctx, s.key(registrationID, principalName))
	if err != nil {
		if s.isNil != nil && s.isNil(err) {
			return nil, nil
		}
		return nil, err
	}
	if data == "" {
		return nil, nil
	}
	return unmarshalClient([]byte(data), s.sealer)
}

// SaveAuthorizedClient writes client with a TTL derived from its tokens
func (s *RedisClientStore) SaveAuthorizedClient(ctx context.Context, client *AuthorizedClient) error {
	data, err := marshalClient(client, s.sealer)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(client.RegistrationID, client.PrincipalName), string(data), s.ttl(client))
}

// RemoveAuthorizedClient deletes the key; a missing key is not an error
func (s *RedisClientStore) RemoveAuthorizedClient(ctx context.Context, registrationID, principalName string) error {
	return s.client.Delete(ctx, s.key(registrationID, principalName))
}

// ListPrincipalNames scans the keys of registrationID; keys that expired
// are already gone
func (s *RedisClientStore) ListPrincipalNames(ctx context.Context, registrationID string) ([]string, error) {
	prefix := s.key(registrationID, "")
	keys, err := s.client.Scan(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisClientStore) ttl(client *AuthorizedClient) time.Duration {
	if client.HasRefreshToken() || client.AccessToken == nil || client.AccessToken.ExpiresAt == nil {
		return s.maxTTL
	}

	ttl := client.AccessToken.ExpiresAt.Sub(s.clock.Now()) + 24*time.Hour
	if ttl <= 0 || ttl > s.maxTTL {
		return s.maxTTL
	}
	return ttl
}
