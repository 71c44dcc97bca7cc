package oauth2

import (
	"sort"
)

// RegistrationRepository looks up client registrations by id
type RegistrationRepository interface {
	FindByRegistrationID(id string) (*ClientRegistration, bool)
}

// InMemoryRegistrationRepository is an immutable set of registrations built
// from configuration at startup
type InMemoryRegistrationRepository struct {
	registrations map[string]ClientRegistration
}

// NewInMemoryRegistrationRepository indexes registrations by ID
func NewInMemoryRegistrationRepository(registrations ...ClientRegistration) *InMemoryRegistrationRepository {
	repo := &InMemoryRegistrationRepository{registrations: make(map[string]ClientRegistration, len(registrations))}
	for _, reg := range registrations {
		repo.registrations[reg.ID] = reg
	}
	return repo
}

// FindByRegistrationID returns a copy of the registration
func (r *InMemoryRegistrationRepository) FindByRegistrationID(id string) (*ClientRegistration, bool) {
	reg, ok := r.registrations[id]
	if !ok {
		return nil, false
	}
	return &reg, true
}

// IDs returns the registration ids in lexical order
func (r *InMemoryRegistrationRepository) IDs() []string {
	ids := make([]string, 0, len(r.registrations))
	for id := range r.registrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
