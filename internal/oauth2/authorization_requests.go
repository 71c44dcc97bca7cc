package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PendingAuthorization is a redirect to an identity provider awaiting its callback
type PendingAuthorization struct {
	State          string    `json:"state"`
	RegistrationID string    `json:"registration_id"`
	PrincipalName  string    `json:"principal_name,omitempty"`
	RedirectURI    string    `json:"redirect_uri,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuthorizationRequestStore keeps pending authorizations until their callback.
// Take is single use: it removes the entry it returns and yields nil for an
// unknown or expired state.
type AuthorizationRequestStore interface {
	Save(ctx context.Context, req *PendingAuthorization, ttl time.Duration) error
	Take(ctx context.Context, state string) (*PendingAuthorization, error)
}

type pendingEntry struct {
	req       PendingAuthorization
	expiresAt time.Time
}

// MemoryAuthorizationRequestStore keeps pending authorizations in memory
type MemoryAuthorizationRequestStore struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	clock   clockwork.Clock
}

// NewMemoryAuthorizationRequestStore creates an empty store; a nil clock uses real time
func NewMemoryAuthorizationRequestStore(clock clockwork.Clock) *MemoryAuthorizationRequestStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryAuthorizationRequestStore{
		entries: make(map[string]pendingEntry),
		clock:   clock,
	}
}

// Save stores req under its state and drops expired entries
func (s *MemoryAuthorizationRequestStore) Save(_ context.Context, req *PendingAuthorization, ttl time.Duration) error {
	if req == nil || req.State == "" {
		return fmt.Errorf("pending authorization with a state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for state, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, state)
		}
	}
	s.entries[req.State] = pendingEntry{req: *req, expiresAt: now.Add(ttl)}
	return nil
}

// Take removes and returns the pending authorization for state
func (s *MemoryAuthorizationRequestStore) Take(_ context.Context, state string) (*PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil, nil
	}
	delete(s.entries, state)

	if !s.clock.Now().Before(entry.expiresAt) {
		return nil, nil
	}
	return &entry.req, nil
}

// RedisAuthorizationRequestStore shares pending authorizations between
// instances so a callback may land on any of them
type RedisAuthorizationRequestStore struct {
	client RedisInterface
	isNil  func(error) bool
	prefix string
}

// NewRedisAuthorizationRequestStore creates a store under the "oauth2:state:" prefix
func NewRedisAuthorizationRequestStore(client RedisInterface, isNil func(error) bool) *RedisAuthorizationRequestStore {
	return &RedisAuthorizationRequestStore{
		client: client,
		isNil:  isNil,
		prefix: "oauth2:state:",
	}
}

// Save stores req with ttl as the key expiry
func (s *RedisAuthorizationRequestStore) Save(ctx context.Context, req *PendingAuthorization, ttl time.Duration) error {
	if req == nil || req.State == "" {
		return fmt.Errorf("pending authorization with a state is required")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize pending authorization: %w", err)
	}
	return s.client.Set(ctx, s.prefix+req.State, string(data), ttl)
}

// Take atomically reads and deletes the pending authorization for state
func (s *RedisAuthorizationRequestStore) Take(ctx context.Context, state string) (*PendingAuthorization, error) {
	data, err := s.client.GetDelete(ctx, s.prefix+state)
	if err != nil {
		if s.isNil != nil && s.isNil(err) {
			return nil, nil
		}
		return nil, err
	}

	var req PendingAuthorization
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to deserialize pending authorization: %w", err)
	}
	return &req, nil
}
