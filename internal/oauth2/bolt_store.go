package oauth2

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var authorizedClientsBucket = []byte("oauth2_authorized_clients")

// BoltClientStore keeps authorized clients in a local bbolt file, for
// single-instance deployments without a database server
type BoltClientStore struct {
	db     *bolt.DB
	sealer Sealer
}

// OpenBoltClientStore opens (or creates) the database file at path
func OpenBoltClientStore(path string, sealer Sealer) (*BoltClientStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authorizedClientsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt store: %w", err)
	}

	return &BoltClientStore{db: db, sealer: sealer}, nil
}

// Close releases the database file
func (s *BoltClientStore) Close() error {
	return s.db.Close()
}

// LoadAuthorizedClient returns nil, nil for an unknown key
func (s *BoltClientStore) LoadAuthorizedClient(_ context.Context, registrationID, principalName string) (*AuthorizedClient, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(authorizedClientsBucket).Get([]byte(clientKey(registrationID, principalName)))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}
	return unmarshalClient(data, s.sealer)
}

// SaveAuthorizedClient writes client, replacing any previous entry
func (s *BoltClientStore) SaveAuthorizedClient(_ context.Context, client *AuthorizedClient) error {
	if client == nil {
		return fmt.Errorf("authorized client is required")
	}

	data, err := marshalClient(client, s.sealer)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authorizedClientsBucket).Put([]byte(clientKey(client.RegistrationID, client.PrincipalName)), data)
	})
}

// RemoveAuthorizedClient deletes the entry; a missing entry is not an error
func (s *BoltClientStore) RemoveAuthorizedClient(_ context.Context, registrationID, principalName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authorizedClientsBucket).Delete([]byte(clientKey(registrationID, principalName)))
	})
}

// ListPrincipalNames walks the keys of registrationID in key order
func (s *BoltClientStore) ListPrincipalNames(_ context.Context, registrationID string) ([]string, error) {
	prefix := []byte(clientKey(registrationID, ""))
	var names []string

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(authorizedClientsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			names = append(names, string(k[len(prefix):]))
		}
		return nil
	})
	return names, err
}
