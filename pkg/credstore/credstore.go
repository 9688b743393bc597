// Package credstore persists per-provider credential blobs and the
// selected provider identifiers. It is a pure key-value persistence
// boundary: adapters read from it at construction time, and only the
// provider manager writes to it.
package credstore

import (
	"strings"

	"github.com/mstrella/skyfeed/pkg/aviation"
)

// Credentials is an opaque key-value credential blob. The required keys
// depend on the provider it is attached to (clientId/clientSecret for
// OAuth2, api_key for keyed providers, username/password for legacy
// Basic auth). The engine never validates values beyond presence
// without calling the remote service.
type Credentials map[string]string

// Get returns the trimmed value for key, or "" when absent.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Validate checks that every required key is present and non-empty.
func (c Credentials) Validate(required ...string) error {
	for _, key := range required {
		if c.Get(key) == "" {
			return aviation.NewError(aviation.KindMissingCredentials, "", "validate credentials",
				"missing required credential key "+key)
		}
	}
	return nil
}

// Clone returns an independent copy so stored blobs cannot be mutated
// through a caller-held map.
func (c Credentials) Clone() Credentials {
	if c == nil {
		return nil
	}
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Store is the persistence contract for credentials and provider
// selection. Implementations must be safe for concurrent use.
type Store interface {
	// Credentials returns the stored blob for a provider identifier.
	// A provider with no stored blob yields an empty (non-nil) map.
	Credentials(provider string) (Credentials, error)

	// SetCredentials replaces the stored blob for a provider.
	SetCredentials(provider string, creds Credentials) error

	// SelectedAircraftProvider returns the persisted aircraft provider
	// identifier, or "" when none has been chosen yet.
	SelectedAircraftProvider() (string, error)

	// SetSelectedAircraftProvider persists the aircraft provider choice.
	SetSelectedAircraftProvider(provider string) error

	// SelectedFlightService returns the persisted flight service
	// identifier, or "" when none has been chosen yet.
	SelectedFlightService() (string, error)

	// SetSelectedFlightService persists the flight service choice.
	SetSelectedFlightService(service string) error
}
