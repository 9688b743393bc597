package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

// Capability domains persisted in provider_selection.
const (
	domainAircraft = "aircraft"
	domainFlights  = "flights"
)

// queryTimeout bounds every store operation. The credstore.Store
// interface is context-free (callers treat it as local configuration),
// so the timeout lives here.
const queryTimeout = 5 * time.Second

// CredentialStore implements credstore.Store on top of PostgreSQL.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a credential store over an open database.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Credentials returns the stored blob for a provider. A provider with
// no row yields an empty map.
func (s *CredentialStore) Credentials(provider string) (credstore.Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT credentials FROM provider_credentials WHERE provider = $1`,
		provider,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return credstore.Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	var creds credstore.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, aviation.WrapError(aviation.KindInvalidCredentialsFormat, provider,
			"load credentials", err)
	}
	return creds, nil
}

// SetCredentials replaces the stored blob for a provider.
func (s *CredentialStore) SetCredentials(provider string, creds credstore.Credentials) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_credentials (provider, credentials, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (provider) DO UPDATE
		SET credentials = EXCLUDED.credentials, updated_at = now()`,
		provider, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) selection(domain string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var provider string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider FROM provider_selection WHERE domain = $1`,
		domain,
	).Scan(&provider)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load provider selection: %w", err)
	}
	return provider, nil
}

func (s *CredentialStore) setSelection(domain, provider string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_selection (domain, provider, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (domain) DO UPDATE
		SET provider = EXCLUDED.provider, updated_at = now()`,
		domain, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to store provider selection: %w", err)
	}
	return nil
}

// SelectedAircraftProvider returns the persisted aircraft provider.
func (s *CredentialStore) SelectedAircraftProvider() (string, error) {
	return s.selection(domainAircraft)
}

// SetSelectedAircraftProvider persists the aircraft provider choice.
func (s *CredentialStore) SetSelectedAircraftProvider(provider string) error {
	return s.setSelection(domainAircraft, provider)
}

// SelectedFlightService returns the persisted flight service.
func (s *CredentialStore) SelectedFlightService() (string, error) {
	return s.selection(domainFlights)
}

// SetSelectedFlightService persists the flight service choice.
func (s *CredentialStore) SetSelectedFlightService(service string) error {
	return s.setSelection(domainFlights, service)
}
