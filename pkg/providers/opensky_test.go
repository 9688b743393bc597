package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

// testPacer is a pacing config that keeps tests fast.
var testPacer = PacerConfig{BaseInterval: time.Millisecond, FailureCap: 5, MaxBackoff: 5 * time.Millisecond}

func newTestOpenSky(t *testing.T, server *httptest.Server, creds credstore.Credentials, opts ...Option) *openSkyAdapter {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithPacerConfig(testPacer),
	}, opts...)
	a, err := newOpenSkyAdapter(AircraftOpenSkyAnonymous, creds, false, opts)
	if err != nil {
		t.Fatalf("Expected no error building adapter, got: %v", err)
	}
	return a
}

// TestOpenSkyFetchAircraft tests the live position query end to end.
func TestOpenSkyFetchAircraft(t *testing.T) {
	t.Run("LAX area query", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/states/all" {
				t.Errorf("Expected path /states/all, got %s", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("lamin") != "33.4425" || q.Get("lamax") != "34.4425" {
				t.Errorf("Unexpected latitude bounds: lamin=%s lamax=%s", q.Get("lamin"), q.Get("lamax"))
			}
			if q.Get("lomin") != "-118.9081" || q.Get("lomax") != "-117.9081" {
				t.Errorf("Unexpected longitude bounds: lomin=%s lomax=%s", q.Get("lomin"), q.Get("lomax"))
			}

			json.NewEncoder(w).Encode(map[string]any{
				"time": 1748779200,
				"states": []any{
					// Inside the box.
					[]any{"a12345", "UAL123 ", "United States", nil, 1748779195,
						-118.40, 33.94, 10668.0, false, 230.0, 270.0, 0.0},
					// Outside the box; the provider is sloppy about edges.
					[]any{"a67890", "SWA456", "United States", nil, 1748779195,
						-120.00, 36.00, 9000.0, false, 220.0, 90.0, 0.0},
					// No coordinates; dropped.
					[]any{"abcdef", "DAL789", "United States", nil, 1748779195,
						nil, nil, nil, true, nil, nil, nil},
				},
			})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		aircraft, err := a.FetchAircraft(context.Background(),
			aviation.Position{Latitude: 33.9425, Longitude: -118.4081}, 0.5)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 1 {
			t.Fatalf("Expected 1 aircraft inside the box, got %d", len(aircraft))
		}
		if aircraft[0].ICAO24 != "a12345" {
			t.Errorf("Expected a12345, got %s", aircraft[0].ICAO24)
		}
		if aircraft[0].Callsign != "UAL123" {
			t.Errorf("Expected trimmed callsign UAL123, got %q", aircraft[0].Callsign)
		}
	})

	t.Run("Invalid center fails before any network access", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		_, err := a.FetchAircraft(context.Background(), aviation.Position{Latitude: 95, Longitude: 0}, 1)
		if !aviation.IsKind(err, aviation.KindInvalidInput) {
			t.Errorf("Expected KindInvalidInput, got %v", aviation.KindOf(err))
		}
		if requests.Load() != 0 {
			t.Errorf("Expected 0 requests, got %d", requests.Load())
		}
	})

	t.Run("Non-JSON body is a parse error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>maintenance</html>")
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		_, err := a.FetchAircraft(context.Background(), aviation.Position{Latitude: 33.9, Longitude: -118.4}, 0.5)
		if !aviation.IsKind(err, aviation.KindParse) {
			t.Errorf("Expected KindParse, got %v", aviation.KindOf(err))
		}
	})
}

// TestOpenSkyStatusPolicy tests the uniform HTTP status handling and
// its effect on the backoff counter.
func TestOpenSkyStatusPolicy(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantKind     aviation.ErrorKind
		wantFailures int
	}{
		{"401 is an authentication failure", http.StatusUnauthorized, aviation.KindAuthenticationFailed, 1},
		{"403 is an authentication failure", http.StatusForbidden, aviation.KindAuthenticationFailed, 1},
		{"429 is rate limited", http.StatusTooManyRequests, aviation.KindRateLimited, 1},
		{"500 is a network error", http.StatusInternalServerError, aviation.KindNetwork, 1},
		{"404 on aircraft is a network error", http.StatusNotFound, aviation.KindNetwork, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			a := newTestOpenSky(t, server, nil)
			_, err := a.FetchAircraft(context.Background(), aviation.Position{Latitude: 33.9, Longitude: -118.4}, 0.5)
			if !aviation.IsKind(err, tt.wantKind) {
				t.Errorf("Expected kind %v, got %v", tt.wantKind, aviation.KindOf(err))
			}
			if got := a.client.pacer.Failures(); got != tt.wantFailures {
				t.Errorf("Expected %d recorded failures, got %d", tt.wantFailures, got)
			}
		})
	}

	t.Run("Success resets the failure counter", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"time": 1, "states": []any{}})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		center := aviation.Position{Latitude: 33.9, Longitude: -118.4}

		_, _ = a.FetchAircraft(context.Background(), center, 0.5)
		_, _ = a.FetchAircraft(context.Background(), center, 0.5)
		if got := a.client.pacer.Failures(); got != 2 {
			t.Fatalf("Expected 2 failures, got %d", got)
		}

		fail.Store(false)
		if _, err := a.FetchAircraft(context.Background(), center, 0.5); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got := a.client.pacer.Failures(); got != 0 {
			t.Errorf("Expected failure counter reset, got %d", got)
		}
	})
}

// TestBackoffAfter429 tests that a single 429 doubles the enforced
// spacing before the next request goes out.
func TestBackoffAfter429(t *testing.T) {
	var requestTimes []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestTimes = append(requestTimes, time.Now())
		if len(requestTimes) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"time": 1, "states": []any{}})
	}))
	defer server.Close()

	base := 50 * time.Millisecond
	a := newTestOpenSky(t, server, nil, WithPacerConfig(PacerConfig{
		BaseInterval: base, FailureCap: 5, MaxBackoff: time.Second,
	}))
	center := aviation.Position{Latitude: 33.9, Longitude: -118.4}

	_, err := a.FetchAircraft(context.Background(), center, 0.5)
	if !aviation.IsKind(err, aviation.KindRateLimited) {
		t.Fatalf("Expected KindRateLimited, got %v", aviation.KindOf(err))
	}
	if got := a.client.pacer.Failures(); got != 1 {
		t.Fatalf("Expected exactly 1 recorded failure, got %d", got)
	}

	if _, err := a.FetchAircraft(context.Background(), center, 0.5); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(requestTimes) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requestTimes))
	}
	if gap := requestTimes[1].Sub(requestTimes[0]); gap < 2*base-10*time.Millisecond {
		t.Errorf("Expected at least base*2 between requests after a 429, got %v", gap)
	}
}

// TestOpenSkyFlightValidation tests the pre-network query checks.
func TestOpenSkyFlightValidation(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode([]any{})
	}))
	defer server.Close()

	a := newTestOpenSky(t, server, nil)
	now := time.Now()

	tests := []struct {
		name    string
		airport string
		from    time.Time
		to      time.Time
	}{
		{"Airport code too short", "EG", now.Add(-time.Hour), now},
		{"Airport code too long", "EGLLX", now.Add(-time.Hour), now},
		{"Window end before start", "EGLL", now, now.Add(-time.Hour)},
		{"Eight day window exceeds the provider maximum", "EGLL", now.Add(-8 * 24 * time.Hour), now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.FetchFlights(context.Background(), tt.airport, aviation.DirectionArrival, tt.from, tt.to)
			if !aviation.IsKind(err, aviation.KindInvalidInput) {
				t.Errorf("Expected KindInvalidInput, got %v", aviation.KindOf(err))
			}
		})
	}

	if requests.Load() != 0 {
		t.Errorf("Expected 0 network requests for invalid queries, got %d", requests.Load())
	}
}

// TestOpenSkyFetchFlights tests the schedule queries, the 404 policy
// and the arrival fallback search.
func TestOpenSkyFetchFlights(t *testing.T) {
	arrival := func(icao24, callsign string, lastSeen int64, airport string) map[string]any {
		return map[string]any{
			"icao24":            icao24,
			"callsign":          callsign,
			"lastSeen":          lastSeen,
			"estArrivalAirport": airport,
		}
	}

	t.Run("Arrivals with data in the primary window", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.URL.Path != "/flights/arrival" {
				t.Errorf("Expected path /flights/arrival, got %s", r.URL.Path)
			}
			if r.URL.Query().Get("airport") != "EGLL" {
				t.Errorf("Expected airport EGLL, got %s", r.URL.Query().Get("airport"))
			}
			json.NewEncoder(w).Encode([]any{
				arrival("400943", "BAW117", 1748779200, "EGLL"),
				arrival("abc123", "RYR22", 1748779300, "EGKK"), // wrong airport
			})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(flights) != 1 {
			t.Fatalf("Expected 1 matching flight, got %d", len(flights))
		}
		if flights[0].Callsign != "BAW117" {
			t.Errorf("Expected BAW117, got %s", flights[0].Callsign)
		}
		if requests.Load() != 1 {
			t.Errorf("Expected 1 request, got %d", requests.Load())
		}
	})

	t.Run("Empty arrivals trigger the fallback window search", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := requests.Add(1)
			if n <= 2 {
				// Primary window and first fallback window come back empty.
				json.NewEncoder(w).Encode([]any{})
				return
			}
			json.NewEncoder(w).Encode([]any{arrival("400943", "BAW117", 1748779200, "EGLL")})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(flights) != 1 {
			t.Fatalf("Expected the fallback window's flight, got %d flights", len(flights))
		}
		if requests.Load() != 3 {
			t.Errorf("Expected 3 requests (primary + 2 fallback windows), got %d", requests.Load())
		}
		if got := a.client.pacer.Failures(); got != 0 {
			t.Errorf("Expected failure counter untouched by empty windows, got %d", got)
		}
	})

	t.Run("Departures never trigger the fallback search", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.URL.Path != "/flights/departure" {
				t.Errorf("Expected path /flights/departure, got %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode([]any{})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionDeparture, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(flights) != 0 {
			t.Errorf("Expected empty result, got %d flights", len(flights))
		}
		if requests.Load() != 1 {
			t.Errorf("Expected exactly 1 request, got %d", requests.Load())
		}
	})

	t.Run("404 on a schedule query is no data, not a failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionDeparture, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected no error for schedule 404, got: %v", err)
		}
		if flights == nil || len(flights) != 0 {
			t.Errorf("Expected empty non-nil result, got %v", flights)
		}
		if got := a.client.pacer.Failures(); got != 0 {
			t.Errorf("Expected failure counter untouched by schedule 404, got %d", got)
		}
	})

	t.Run("Authentication failure surfaces without the fallback search", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		_, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival, now.Add(-time.Hour), now)
		if !aviation.IsKind(err, aviation.KindAuthenticationFailed) {
			t.Errorf("Expected KindAuthenticationFailed, got %v", aviation.KindOf(err))
		}
		if requests.Load() != 1 {
			t.Errorf("Expected no fallback requests after an auth failure, got %d requests", requests.Load())
		}
	})

	t.Run("Rate limited primary still runs the fallback search", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			json.NewEncoder(w).Encode([]any{arrival("400943", "BAW117", 1748779200, "EGLL")})
		}))
		defer server.Close()

		a := newTestOpenSky(t, server, nil)
		now := time.Now()
		flights, err := a.FetchFlights(context.Background(), "EGLL", aviation.DirectionArrival, now.Add(-time.Hour), now)
		if err != nil {
			t.Fatalf("Expected the fallback to recover from the 429, got: %v", err)
		}
		if len(flights) != 1 {
			t.Fatalf("Expected 1 flight from the fallback window, got %d", len(flights))
		}
	})
}

// TestOpenSkyRequiresCredentials tests the authenticated tier's
// credential requirement.
func TestOpenSkyRequiresCredentials(t *testing.T) {
	_, err := newOpenSkyAdapter(AircraftOpenSky, credstore.Credentials{}, true, nil)
	if !aviation.IsKind(err, aviation.KindMissingCredentials) {
		t.Errorf("Expected KindMissingCredentials, got %v", aviation.KindOf(err))
	}
}

// TestOpenSkyCredentialSwapKeepsRateState tests that swapping
// credentials in place does not reset the backoff counter.
func TestOpenSkyCredentialSwapKeepsRateState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := newTestOpenSky(t, server, nil)
	_, _ = a.FetchAircraft(context.Background(), aviation.Position{Latitude: 33.9, Longitude: -118.4}, 0.5)
	if got := a.client.pacer.Failures(); got != 1 {
		t.Fatalf("Expected 1 failure, got %d", got)
	}

	if err := a.SetCredentials(credstore.Credentials{"username": "u", "password": "p"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := a.client.pacer.Failures(); got != 1 {
		t.Errorf("Expected backoff state to survive the credential swap, got %d failures", got)
	}
}

// TestOpenSkyCredentialSwapDuringFetch tests that swapping credentials
// while fetches are in flight is safe.
func TestOpenSkyCredentialSwapDuringFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"time": 1, "states": []any{}})
	}))
	defer server.Close()

	a := newTestOpenSky(t, server, nil)
	center := aviation.Position{Latitude: 33.9, Longitude: -118.4}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			_, _ = a.FetchAircraft(context.Background(), center, 0.5)
		}
	}()

	for i := 0; i < 25; i++ {
		creds := credstore.Credentials{"username": "user", "password": fmt.Sprintf("pass-%d", i)}
		if err := a.SetCredentials(creds); err != nil {
			t.Fatalf("Expected no error swapping credentials, got: %v", err)
		}
	}
	<-done

	if _, err := a.FetchAircraft(context.Background(), center, 0.5); err != nil {
		t.Fatalf("Expected a clean fetch after the swaps, got: %v", err)
	}
}

// TestOpenSkyBearerAuthFlow tests the OAuth2 path against fake token
// and data endpoints.
func TestOpenSkyBearerAuthFlow(t *testing.T) {
	var tokenRequests, dataRequests atomic.Int32

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-xyz", "expires_in": 3600})
	}))
	defer tokenServer.Close()

	dataServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dataRequests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer tok-xyz" {
			t.Errorf("Expected bearer token on data request, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"time": 1, "states": []any{}})
	}))
	defer dataServer.Close()

	a, err := newOpenSkyAdapter(AircraftOpenSky,
		credstore.Credentials{"clientId": "id", "clientSecret": "secret"}, true,
		[]Option{
			WithBaseURL(dataServer.URL),
			WithTokenURL(tokenServer.URL),
			WithHTTPClient(dataServer.Client()),
			WithPacerConfig(testPacer),
		})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	center := aviation.Position{Latitude: 33.9, Longitude: -118.4}
	for i := 0; i < 2; i++ {
		if _, err := a.FetchAircraft(context.Background(), center, 0.5); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	if tokenRequests.Load() != 1 {
		t.Errorf("Expected 1 token request across 2 data requests, got %d", tokenRequests.Load())
	}
	if dataRequests.Load() != 2 {
		t.Errorf("Expected 2 data requests, got %d", dataRequests.Load())
	}
}

// TestTokenFailureFeedsBackoff tests that a rejected token request
// counts against the pacer like a data-endpoint 401.
func TestTokenFailureFeedsBackoff(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokenServer.Close()

	dataServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no data request after a token failure")
	}))
	defer dataServer.Close()

	a, err := newOpenSkyAdapter(AircraftOpenSky,
		credstore.Credentials{"clientId": "id", "clientSecret": "bad"}, true,
		[]Option{
			WithBaseURL(dataServer.URL),
			WithTokenURL(tokenServer.URL),
			WithHTTPClient(dataServer.Client()),
			WithPacerConfig(testPacer),
		})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	center := aviation.Position{Latitude: 33.9, Longitude: -118.4}
	for attempt := 1; attempt <= 2; attempt++ {
		_, err := a.FetchAircraft(context.Background(), center, 0.5)
		if !aviation.IsKind(err, aviation.KindAuthenticationFailed) {
			t.Fatalf("Expected KindAuthenticationFailed, got %v", aviation.KindOf(err))
		}
		if got := a.client.pacer.Failures(); got != attempt {
			t.Errorf("Expected %d recorded failures after attempt %d, got %d", attempt, attempt, got)
		}
	}
}
