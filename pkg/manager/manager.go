// Package manager is the top-level façade over the acquisition engine.
// It owns the active provider adapters, switches providers, and
// propagates credential changes. External collaborators (UI, polling
// loops, the HTTP server) go through the Manager and never hold raw
// adapters of their own.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
	"github.com/mstrella/skyfeed/pkg/providers"
)

// Option customizes a Manager at construction time.
type Option func(*Manager)

// WithAdapterOptions forwards construction options to every adapter
// built for the given provider identifier (base URLs for tests, pacing
// overrides, hourly budgets).
func WithAdapterOptions(provider string, opts ...providers.Option) Option {
	return func(m *Manager) {
		m.adapterOpts[provider] = append(m.adapterOpts[provider], opts...)
	}
}

// Manager holds the current adapters and is the only writer to the
// credential store. Adapter instances are owned exclusively by the
// Manager; switching always constructs fresh instances with clean
// rate, backoff and token state.
type Manager struct {
	store       credstore.Store
	adapterOpts map[string][]providers.Option

	mu               sync.Mutex
	aircraftProvider string
	aircraft         aviation.AircraftSource
	flightService    string
	flights          aviation.FlightSource
}

// New builds a Manager from persisted state. Unset or broken persisted
// selections fall back to the anonymous free tier so a fresh install
// works without any configuration.
func New(store credstore.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       store,
		adapterOpts: map[string][]providers.Option{},
	}
	for _, opt := range opts {
		opt(m)
	}

	aircraftProvider, err := store.SelectedAircraftProvider()
	if err != nil {
		return nil, err
	}
	if aircraftProvider == "" {
		aircraftProvider = providers.AircraftOpenSkyAnonymous
	}

	flightService, err := store.SelectedFlightService()
	if err != nil {
		return nil, err
	}
	if flightService == "" {
		flightService = providers.FlightServiceOpenSky
	}

	if err := m.buildAircraft(aircraftProvider, nil); err != nil {
		slog.Warn("stored aircraft provider unusable, falling back to anonymous free tier",
			"provider", aircraftProvider, "error", err)
		if err := m.buildAircraft(providers.AircraftOpenSkyAnonymous, credstore.Credentials{}); err != nil {
			return nil, err
		}
	}

	if err := m.buildFlights(flightService, nil); err != nil {
		slog.Warn("stored flight service unusable, falling back to free tier",
			"service", flightService, "error", err)
		if err := m.buildFlights(providers.FlightServiceOpenSky, credstore.Credentials{}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// buildAircraft constructs and installs a fresh aircraft adapter.
// nil creds means "use whatever the store holds for this provider".
func (m *Manager) buildAircraft(provider string, creds credstore.Credentials) error {
	if creds == nil {
		stored, err := m.store.Credentials(provider)
		if err != nil {
			return err
		}
		creds = stored
	}

	source, err := providers.NewAircraftSource(provider, creds, m.adapterOpts[provider]...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.aircraftProvider = provider
	m.aircraft = source
	m.mu.Unlock()
	return nil
}

func (m *Manager) buildFlights(service string, creds credstore.Credentials) error {
	if creds == nil {
		stored, err := m.store.Credentials(service)
		if err != nil {
			return err
		}
		creds = stored
	}

	source, err := providers.NewFlightSource(service, creds, m.adapterOpts[service]...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.flightService = service
	m.flights = source
	m.mu.Unlock()
	return nil
}

// AircraftProvider returns the active aircraft provider identifier.
func (m *Manager) AircraftProvider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aircraftProvider
}

// FlightService returns the active flight service identifier.
func (m *Manager) FlightService() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flightService
}

// FetchAircraft delegates to the active aircraft adapter.
func (m *Manager) FetchAircraft(ctx context.Context, center aviation.Position, radiusDeg float64) ([]aviation.LiveAircraft, error) {
	m.mu.Lock()
	source := m.aircraft
	m.mu.Unlock()
	return source.FetchAircraft(ctx, center, radiusDeg)
}

// FetchFlights delegates to the active flight adapter.
func (m *Manager) FetchFlights(ctx context.Context, airportCode string, direction aviation.FlightDirection, from, to time.Time) ([]aviation.Flight, error) {
	m.mu.Lock()
	source := m.flights
	m.mu.Unlock()
	return source.FetchFlights(ctx, airportCode, direction, from, to)
}

// SwitchAircraftProvider installs a brand-new adapter for the provider
// (fresh rate, backoff and token state), persists the choice and
// credentials, and keeps the two capability domains consistent:
// choosing the paid unified provider for aircraft also moves the
// flight service onto the matching adapter.
func (m *Manager) SwitchAircraftProvider(provider string, creds credstore.Credentials) error {
	if creds == nil {
		stored, err := m.store.Credentials(provider)
		if err != nil {
			return err
		}
		creds = stored
	}

	if err := m.buildAircraft(provider, creds); err != nil {
		return err
	}
	if err := m.store.SetCredentials(provider, creds); err != nil {
		return err
	}
	if err := m.store.SetSelectedAircraftProvider(provider); err != nil {
		return err
	}

	if provider == providers.AircraftFlightRadar && m.FlightService() != providers.FlightServiceFlightRadar {
		// Explicit cross-domain propagation, not a broadcast: mixing a
		// paid unified aircraft feed with a different schedule source
		// produces inconsistent results.
		return m.SwitchFlightService(providers.FlightServiceFlightRadar, creds)
	}
	return nil
}

// SwitchFlightService installs a brand-new flight adapter and persists
// the choice and credentials.
func (m *Manager) SwitchFlightService(service string, creds credstore.Credentials) error {
	if creds == nil {
		stored, err := m.store.Credentials(service)
		if err != nil {
			return err
		}
		creds = stored
	}

	if err := m.buildFlights(service, creds); err != nil {
		return err
	}
	if err := m.store.SetCredentials(service, creds); err != nil {
		return err
	}
	return m.store.SetSelectedFlightService(service)
}

// UpdateCredentials re-validates and re-attaches credentials to the
// current adapters without reconstructing them: rate and backoff state
// survive, cached tokens are dropped. The new blob is persisted for
// both active provider identifiers.
func (m *Manager) UpdateCredentials(creds credstore.Credentials) error {
	m.mu.Lock()
	aircraft, aircraftProvider := m.aircraft, m.aircraftProvider
	flights, flightService := m.flights, m.flightService
	m.mu.Unlock()

	if r, ok := aircraft.(providers.Reconfigurable); ok {
		if err := r.SetCredentials(creds); err != nil {
			return err
		}
	}
	if r, ok := flights.(providers.Reconfigurable); ok {
		if err := r.SetCredentials(creds); err != nil {
			return err
		}
	}

	if err := m.store.SetCredentials(aircraftProvider, creds); err != nil {
		return err
	}
	if flightService != aircraftProvider {
		if err := m.store.SetCredentials(flightService, creds); err != nil {
			return err
		}
	}
	return nil
}
