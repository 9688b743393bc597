package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mstrella/skyfeed/pkg/aviation"
)

// fileState is the on-disk JSON layout of a FileStore.
type fileState struct {
	AircraftProvider string                 `json:"aircraft_provider,omitempty"`
	FlightService    string                 `json:"flight_service,omitempty"`
	Credentials      map[string]Credentials `json:"credentials,omitempty"`
}

// FileStore is a JSON-file-backed Store. The file is created lazily on
// first write with 0600 permissions since it holds secrets.
type FileStore struct {
	path string

	mu    sync.Mutex
	state fileState
}

// NewFileStore opens (or prepares to create) a credential file at path.
// A missing file is not an error; it behaves as an empty store.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:  path,
		state: fileState{Credentials: map[string]Credentials{}},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	if err := json.Unmarshal(data, &fs.state); err != nil {
		return nil, aviation.WrapError(aviation.KindInvalidCredentialsFormat, "",
			"load credential file", err)
	}
	if fs.state.Credentials == nil {
		fs.state.Credentials = map[string]Credentials{}
	}
	return fs, nil
}

// flush writes the current state back to disk. Must be called with mu held.
func (fs *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.MarshalIndent(&fs.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Credentials returns the stored blob for a provider.
func (fs *FileStore) Credentials(provider string) (Credentials, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	creds, ok := fs.state.Credentials[provider]
	if !ok {
		return Credentials{}, nil
	}
	return creds.Clone(), nil
}

// SetCredentials replaces the stored blob for a provider.
func (fs *FileStore) SetCredentials(provider string, creds Credentials) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.state.Credentials[provider] = creds.Clone()
	return fs.flush()
}

// SelectedAircraftProvider returns the persisted aircraft provider choice.
func (fs *FileStore) SelectedAircraftProvider() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.state.AircraftProvider, nil
}

// SetSelectedAircraftProvider persists the aircraft provider choice.
func (fs *FileStore) SetSelectedAircraftProvider(provider string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.state.AircraftProvider = provider
	return fs.flush()
}

// SelectedFlightService returns the persisted flight service choice.
func (fs *FileStore) SelectedFlightService() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.state.FlightService, nil
}

// SetSelectedFlightService persists the flight service choice.
func (fs *FileStore) SetSelectedFlightService(service string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.state.FlightService = service
	return fs.flush()
}
