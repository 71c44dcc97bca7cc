package oauth2

import (
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator produces unguessable strings
type KeyGenerator interface {
	GenerateKey() (string, error)
}

// UUIDKeyGenerator returns random (version 4) UUIDs read from crypto/rand
type UUIDKeyGenerator struct{}

// GenerateKey returns a new random UUID string
func (UUIDKeyGenerator) GenerateKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// StateGenerator holds the state parameter of one authorization-code
// redirect. The first GenerateState call creates it; later calls return the
// same value.
type StateGenerator struct {
	mu        sync.Mutex
	state     string
	generator KeyGenerator
}

// NewStateGenerator creates a generator backed by keys, or UUIDKeyGenerator when nil
func NewStateGenerator(keys KeyGenerator) *StateGenerator {
	if keys == nil {
		keys = UUIDKeyGenerator{}
	}
	return &StateGenerator{generator: keys}
}

// GenerateState returns the memoized state, generating it on first use
func (g *StateGenerator) GenerateState() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != "" {
		return g.state, nil
	}

	state, err := g.generator.GenerateKey()
	if err != nil {
		return "", err
	}
	g.state = state
	return g.state, nil
}
