package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AuthorizedClientService persists authorized clients keyed by
// (registrationID, principalName). Load returns nil, nil for an unknown key.
// Save overwrites any existing entry.
type AuthorizedClientService interface {
	LoadAuthorizedClient(ctx context.Context, registrationID, principalName string) (*AuthorizedClient, error)
	SaveAuthorizedClient(ctx context.Context, client *AuthorizedClient) error
	RemoveAuthorizedClient(ctx context.Context, registrationID, principalName string) error
}

// AuthorizedClientLister enumerates the principals holding a client for a
// registration. Every bundled store implements it.
type AuthorizedClientLister interface {
	ListPrincipalNames(ctx context.Context, registrationID string) ([]string, error)
}

// Sealer encrypts token values before they reach a persistent backend
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

func clientKey(registrationID, principalName string) string {
	return registrationID + ":" + principalName
}

// MemoryClientStore keeps authorized clients in process memory
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]AuthorizedClient
}

// NewMemoryClientStore creates an empty in-memory store
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]AuthorizedClient)}
}

// LoadAuthorizedClient returns a copy of the stored client
func (s *MemoryClientStore) LoadAuthorizedClient(_ context.Context, registrationID, principalName string) (*AuthorizedClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientKey(registrationID, principalName)]
	if !ok {
		return nil, nil
	}
	return &client, nil
}

// SaveAuthorizedClient stores a copy of client
func (s *MemoryClientStore) SaveAuthorizedClient(_ context.Context, client *AuthorizedClient) error {
	if client == nil {
		return fmt.Errorf("authorized client is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientKey(client.RegistrationID, client.PrincipalName)] = *client
	return nil
}

// RemoveAuthorizedClient deletes the entry; removing a missing entry is not an error
func (s *MemoryClientStore) RemoveAuthorizedClient(_ context.Context, registrationID, principalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientKey(registrationID, principalName))
	return nil
}

// ListPrincipalNames returns the principals with a stored client for
// registrationID, sorted
func (s *MemoryClientStore) ListPrincipalNames(_ context.Context, registrationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := clientKey(registrationID, "")
	var names []string
	for key := range s.clients {
		if strings.HasPrefix(key, prefix) {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// sealedClient is the serialized form used by the key-value backends
type sealedClient struct {
	RegistrationID string        `json:"registration_id"`
	PrincipalName  string        `json:"principal_name"`
	AccessToken    *AccessToken  `json:"access_token,omitempty"`
	RefreshToken   *RefreshToken `json:"refresh_token,omitempty"`
}

func sealValue(sealer Sealer, value string) (string, error) {
	if sealer == nil || value == "" {
		return value, nil
	}
	return sealer.Encrypt(value)
}

func openValue(sealer Sealer, value string) (string, error) {
	if sealer == nil || value == "" {
		return value, nil
	}
	return sealer.Decrypt(value)
}

func marshalClient(client *AuthorizedClient, sealer Sealer) ([]byte, error) {
	record := sealedClient{
		RegistrationID: client.RegistrationID,
		PrincipalName:  client.PrincipalName,
	}

	if client.AccessToken != nil {
		token := *client.AccessToken
		value, err := sealValue(sealer, token.TokenValue)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		token.TokenValue = value
		record.AccessToken = &token
	}

	if client.RefreshToken != nil {
		token := *client.RefreshToken
		value, err := sealValue(sealer, token.TokenValue)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		token.TokenValue = value
		record.RefreshToken = &token
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize authorized client: %w", err)
	}
	return data, nil
}

func unmarshalClient(data []byte, sealer Sealer) (*AuthorizedClient, error) {
	var record sealedClient
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize authorized client: %w", err)
	}

	client := &AuthorizedClient{
		RegistrationID: record.RegistrationID,
		PrincipalName:  record.PrincipalName,
		AccessToken:    record.AccessToken,
		RefreshToken:   record.RefreshToken,
	}

	if client.AccessToken != nil {
		value, err := openValue(sealer, client.AccessToken.TokenValue)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		client.AccessToken.TokenValue = value
	}

	if client.RefreshToken != nil {
		value, err := openValue(sealer, client.RefreshToken.TokenValue)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		client.RefreshToken.TokenValue = value
	}

	return client, nil
}
