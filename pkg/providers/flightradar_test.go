package providers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

func newTestFlightRadar(t *testing.T, server *httptest.Server, opts ...Option) *flightRadarAdapter {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithPacerConfig(testPacer),
	}, opts...)
	a, err := newFlightRadarAdapter(AircraftFlightRadar,
		credstore.Credentials{"api_key": "test-key"}, opts)
	if err != nil {
		t.Fatalf("Expected no error building adapter, got: %v", err)
	}
	return a
}

// TestFlightRadarRequiresAPIKey tests construction without credentials.
func TestFlightRadarRequiresAPIKey(t *testing.T) {
	_, err := newFlightRadarAdapter(AircraftFlightRadar, credstore.Credentials{}, nil)
	if !aviation.IsKind(err, aviation.KindMissingCredentials) {
		t.Errorf("Expected KindMissingCredentials, got %v", aviation.KindOf(err))
	}
}

// TestFlightRadarFetchAircraft tests the zone feed query and the unit
// conversions on its fixed-position arrays.
func TestFlightRadarFetchAircraft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zones/fcgi/feed.js" {
			t.Errorf("Expected path /zones/fcgi/feed.js, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("token") != "test-key" {
			t.Errorf("Expected token test-key, got %q", q.Get("token"))
		}
		// north, south, west, east
		if q.Get("bounds") != "34.4425,33.4425,-118.9081,-117.9081" {
			t.Errorf("Unexpected bounds: %s", q.Get("bounds"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"full_count": 12000,
			"version":    4,
			"abc123": []any{"a12345", 33.94, -118.40, 270.0, 35000.0, 450.0, "1200", "T-1",
				"B738", "N12345", 1748779200, "LAX", "SFO", "UA123", 0.0, -64.0, "UAL123"},
		})
	}))
	defer server.Close()

	a := newTestFlightRadar(t, server)
	aircraft, err := a.FetchAircraft(context.Background(),
		aviation.Position{Latitude: 33.9425, Longitude: -118.4081}, 0.5)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(aircraft) != 1 {
		t.Fatalf("Expected 1 aircraft, got %d", len(aircraft))
	}

	ac := aircraft[0]
	if ac.ICAO24 != "a12345" {
		t.Errorf("Expected a12345, got %s", ac.ICAO24)
	}
	if ac.Callsign != "UAL123" {
		t.Errorf("Expected callsign UAL123, got %s", ac.Callsign)
	}
	if ac.BaroAltitude == nil || math.Abs(*ac.BaroAltitude-35000*feetToMeters) > 0.01 {
		t.Errorf("Expected altitude converted to meters, got %v", ac.BaroAltitude)
	}
	if ac.Velocity == nil || math.Abs(*ac.Velocity-450*knotsToMS) > 0.01 {
		t.Errorf("Expected speed converted to m/s, got %v", ac.Velocity)
	}
	if ac.VerticalRate == nil || math.Abs(*ac.VerticalRate-(-64)*feetPerMinToMS) > 0.001 {
		t.Errorf("Expected vertical rate converted to m/s, got %v", ac.VerticalRate)
	}
	if ac.OnGround {
		t.Error("Expected airborne aircraft")
	}
	if !ac.LastContact.Equal(time.Unix(1748779200, 0)) {
		t.Errorf("Expected feed timestamp, got %v", ac.LastContact)
	}
}

// TestNormalizeFeedEntries tests that scalar metadata keys sharing the
// feed object are skipped.
func TestNormalizeFeedEntries(t *testing.T) {
	payload := map[string]any{
		"full_count": 12000.0,
		"version":    4.0,
		"stats":      map[string]any{"total": map[string]any{"ads-b": 9000.0}},
		"abc": []any{"a12345", 33.94, -118.40, 270.0, 35000.0, 450.0, "1200", "T-1",
			"B738", "N12345", 1748779200.0, "LAX", "SFO", "UA123", 0.0, -64.0, "UAL123"},
		"short": []any{"too", "short"},
	}

	out := normalizeFeedEntries(payload)
	if len(out) != 1 {
		t.Fatalf("Expected 1 aircraft, got %d", len(out))
	}
	if out[0].ICAO24 != "a12345" {
		t.Errorf("Expected a12345, got %s", out[0].ICAO24)
	}
}

// TestFlightRadarHourlyBudget tests the local hourly request budget.
func TestFlightRadarHourlyBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	a := newTestFlightRadar(t, server, WithRequestsPerHour(1))
	center := aviation.Position{Latitude: 33.9, Longitude: -118.4}

	if _, err := a.FetchAircraft(context.Background(), center, 0.5); err != nil {
		t.Fatalf("Expected first request inside the budget, got: %v", err)
	}

	_, err := a.FetchAircraft(context.Background(), center, 0.5)
	if !aviation.IsKind(err, aviation.KindRateLimited) {
		t.Fatalf("Expected KindRateLimited after the budget is spent, got %v", aviation.KindOf(err))
	}
	if requests.Load() != 1 {
		t.Errorf("Expected the second request never to reach the provider, got %d requests", requests.Load())
	}
	if got := a.client.pacer.Failures(); got != 0 {
		t.Errorf("Expected local budget exhaustion to leave the backoff counter alone, got %d", got)
	}
}

// TestFlightRadarFetchFlights tests the schedule board query.
func TestFlightRadarFetchFlights(t *testing.T) {
	t.Run("Arrivals from the nested board", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/airports/schedule" {
				t.Errorf("Expected path /airports/schedule, got %s", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("code") != "egll" {
				t.Errorf("Expected lowercase airport code, got %q", q.Get("code"))
			}
			if q.Get("plugin-setting[schedule][mode]") != "arrivals" {
				t.Errorf("Expected arrivals mode, got %q", q.Get("plugin-setting[schedule][mode]"))
			}

			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{
					"response": map[string]any{
						"airport": map[string]any{
							"pluginData": map[string]any{
								"schedule": map[string]any{
									"arrivals": map[string]any{
										"data": []any{
											map[string]any{
												"flight": map[string]any{
													"identification": map[string]any{
														"id":       "brd-1",
														"callsign": "BAW117",
														"number":   map[string]any{"default": "BA117"},
													},
													"airline": map[string]any{"name": "British Airways"},
													"airport": map[string]any{
														"origin": map[string]any{
															"code": map[string]any{"icao": "KJFK"},
															"name": "John F. Kennedy Intl",
														},
													},
													"time": map[string]any{
														"scheduled": map[string]any{"arrival": 1748779200},
													},
												},
											},
										},
									},
								},
							},
						},
					},
				},
			})
		}))
		defer server.Close()

		a := newTestFlightRadar(t, server)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(flights) != 1 {
			t.Fatalf("Expected 1 flight, got %d", len(flights))
		}

		f := flights[0]
		if f.ID != "brd-1" {
			t.Errorf("Expected id brd-1, got %s", f.ID)
		}
		if f.FlightNumber != "BA117" {
			t.Errorf("Expected BA117, got %s", f.FlightNumber)
		}
		if f.DestinationICAO != "EGLL" {
			t.Errorf("Expected the queried airport filled in, got %q", f.DestinationICAO)
		}
		if f.OriginICAO != "KJFK" {
			t.Errorf("Expected origin KJFK, got %s", f.OriginICAO)
		}
	})

	t.Run("Oversized window fails before any network access", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
		}))
		defer server.Close()

		a := newTestFlightRadar(t, server)
		now := time.Now()
		_, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival,
			now.Add(-8*24*time.Hour), now)
		if !aviation.IsKind(err, aviation.KindInvalidInput) {
			t.Errorf("Expected KindInvalidInput, got %v", aviation.KindOf(err))
		}
		if requests.Load() != 0 {
			t.Errorf("Expected 0 requests, got %d", requests.Load())
		}
	})
}
