package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"metal-detector/internal/common/validation"
	"metal-detector/internal/oauth2"
)

// registrationsFile is the YAML layout:
//
//	registrations:
//	  spotify-app:
//	    client_id: ${SPOTIFY_CLIENT_ID}
//	    client_secret: ${SPOTIFY_CLIENT_SECRET}
//	    grant_type: client_credentials
//	    token_uri: https://accounts.spotify.com/api/token
type registrationsFile struct {
	Registrations map[string]oauth2.ClientRegistration `yaml:"registrations"`
}

// LoadRegistrations reads and validates the registrations file at path
func LoadRegistrations(path string) ([]oauth2.ClientRegistration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registrations: %w", err)
	}
	return ParseRegistrations(data)
}

// ParseRegistrations decodes registrations from YAML after expanding
// ${VAR} references. Registrations are returned ordered by id.
func ParseRegistrations(data []byte) ([]oauth2.ClientRegistration, error) {
	expanded := os.ExpandEnv(string(data))

	var file registrationsFile
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing registrations: %w", err)
	}

	if len(file.Registrations) == 0 {
		return nil, fmt.Errorf("no client registrations configured")
	}

	v := validation.New()
	registrations := make([]oauth2.ClientRegistration, 0, len(file.Registrations))
	for id, reg := range file.Registrations {
		reg.ID = id
		if reg.GrantType == oauth2.GrantTypeAuthorizationCode && reg.NameAttribute == "" {
			reg.NameAttribute = "sub"
		}
		if err := v.Struct(reg, id); err != nil {
			return nil, err
		}
		registrations = append(registrations, reg)
	}

	sort.Slice(registrations, func(i, j int) bool {
		return registrations[i].ID < registrations[j].ID
	})
	return registrations, nil
}
