package credstore

import "sync"

// MemStore is an in-memory Store. It backs tests and ephemeral setups
// where persisting credentials to disk is undesirable.
type MemStore struct {
	mu               sync.Mutex
	creds            map[string]Credentials
	aircraftProvider string
	flightService    string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{creds: map[string]Credentials{}}
}

func (m *MemStore) Credentials(provider string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, ok := m.creds[provider]
	if !ok {
		return Credentials{}, nil
	}
	return creds.Clone(), nil
}

func (m *MemStore) SetCredentials(provider string, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[provider] = creds.Clone()
	return nil
}

func (m *MemStore) SelectedAircraftProvider() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aircraftProvider, nil
}

func (m *MemStore) SetSelectedAircraftProvider(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aircraftProvider = provider
	return nil
}

func (m *MemStore) SelectedFlightService() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flightService, nil
}

func (m *MemStore) SetSelectedFlightService(service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flightService = service
	return nil
}
