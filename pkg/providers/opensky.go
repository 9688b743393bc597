package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

const (
	openSkyBaseURL  = "https://opensky-network.org/api"
	openSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// openSkyMaxQuerySpan is the widest window the flights endpoints
	// accept. Larger requests are rejected before any network access.
	openSkyMaxQuerySpan = 7 * 24 * time.Hour
)

// openSkyAdapter talks to the OpenSky Network. It implements both
// capability interfaces: /states/all for live positions and
// /flights/{arrival,departure} for schedules.
//
// Anonymous access works on both endpoint families but is rate limited
// far more aggressively, which the pacer defaults reflect.
type openSkyAdapter struct {
	provider        string
	baseURL         string
	tokenURL        string
	requireAuth     bool
	client          *restClient
	fallbackWindows []FallbackWindow
}

func newOpenSkyAdapter(provider string, creds credstore.Credentials, requireAuth bool, opts []Option) (*openSkyAdapter, error) {
	o := buildOptions(opts)

	a := &openSkyAdapter{
		provider:        provider,
		baseURL:         openSkyBaseURL,
		tokenURL:        openSkyTokenURL,
		requireAuth:     requireAuth,
		fallbackWindows: DefaultFallbackWindows(),
	}
	if o.baseURL != "" {
		a.baseURL = o.baseURL
	}
	if o.tokenURL != "" {
		a.tokenURL = o.tokenURL
	}
	if o.fallbackWindows != nil {
		a.fallbackWindows = o.fallbackWindows
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}

	pacerCfg := DefaultPacerConfig(provider)
	if o.pacer != nil {
		pacerCfg = *o.pacer
	}

	a.client = &restClient{
		provider:   provider,
		httpClient: httpClient,
		pacer:      newPacer(pacerCfg),
		auth:       newAuthenticator(provider, authNone, a.tokenURL, httpClient),
	}

	if err := a.SetCredentials(creds); err != nil {
		return nil, err
	}
	return a, nil
}

// SetCredentials re-validates and attaches a credential blob. The auth
// scheme follows the blob: OAuth2 client credentials when clientId is
// present, legacy Basic auth for username/password, anonymous
// otherwise. Rate and backoff state are untouched; any cached token is
// dropped. Safe to call while fetches are in flight.
func (a *openSkyAdapter) SetCredentials(creds credstore.Credentials) error {
	mode := detectAuthMode(creds)
	if mode == authNone && a.requireAuth {
		return aviation.NewError(aviation.KindMissingCredentials, a.provider, "configure adapter",
			"authenticated OpenSky access needs clientId/clientSecret or username/password")
	}
	return a.client.auth.reconfigure(mode, creds)
}

// FetchAircraft returns live state vectors inside center ± radiusDeg.
func (a *openSkyAdapter) FetchAircraft(ctx context.Context, center aviation.Position, radiusDeg float64) ([]aviation.LiveAircraft, error) {
	const op = "fetch aircraft"

	if !center.Valid() || radiusDeg <= 0 {
		return nil, aviation.NewError(aviation.KindInvalidInput, a.provider, op,
			"bounding box center or radius out of range")
	}

	q := url.Values{
		"lamin": {formatCoord(center.Latitude - radiusDeg)},
		"lamax": {formatCoord(center.Latitude + radiusDeg)},
		"lomin": {formatCoord(center.Longitude - radiusDeg)},
		"lomax": {formatCoord(center.Longitude + radiusDeg)},
	}

	body, _, err := a.client.getJSON(ctx, a.baseURL+"/states/all?"+q.Encode(), classAircraft, op)
	if err != nil {
		return nil, err
	}

	payload, err := decodePayload(body, a.provider, op)
	if err != nil {
		return nil, err
	}

	observed := time.Now().UTC()
	var states [][]any
	if m, ok := payload.(map[string]any); ok {
		if ts, ok := dig(m, "time"); ok {
			if t := timeFromAny(ts); t != nil {
				observed = *t
			}
		}
		if list, ok := listAt(m, "states"); ok {
			for _, item := range list {
				if sv, ok := item.([]any); ok {
					states = append(states, sv)
				}
			}
		}
	}

	aircraft := normalizeStateVectors(states, observed)
	return filterBoundingBox(aircraft, center, radiusDeg), nil
}

// FetchFlights returns arrivals or departures for the airport within
// [from, to]. Empty arrival results trigger the fallback range search
// over historical windows.
func (a *openSkyAdapter) FetchFlights(ctx context.Context, airportCode string, direction aviation.FlightDirection, from, to time.Time) ([]aviation.Flight, error) {
	const op = "fetch flights"

	if err := validateFlightQuery(a.provider, op, airportCode, from, to, openSkyMaxQuerySpan); err != nil {
		return nil, err
	}

	flights, err := a.fetchFlightWindow(ctx, airportCode, direction, from, to)
	if err == nil && len(flights) > 0 {
		return flights, nil
	}
	if direction != aviation.DirectionArrival {
		return flights, err
	}

	// Arrivals are batch-processed upstream with unpredictable delay;
	// an empty (or rate-limited) primary window is retried across
	// alternate historical windows before giving up.
	if err != nil && !aviation.IsKind(err, aviation.KindRateLimited) {
		return nil, err
	}
	if recovered := searchFallbackWindows(ctx, a.provider, a.fallbackWindows, func(ctx context.Context, wFrom, wTo time.Time) ([]aviation.Flight, error) {
		return a.fetchFlightWindow(ctx, airportCode, direction, wFrom, wTo)
	}); len(recovered) > 0 {
		return recovered, nil
	}
	if err != nil {
		return nil, err
	}
	return []aviation.Flight{}, nil
}

// fetchFlightWindow runs one schedule query for an absolute window.
func (a *openSkyAdapter) fetchFlightWindow(ctx context.Context, airportCode string, direction aviation.FlightDirection, from, to time.Time) ([]aviation.Flight, error) {
	op := "fetch " + string(direction) + "s"

	endpoint := "/flights/arrival"
	if direction == aviation.DirectionDeparture {
		endpoint = "/flights/departure"
	}

	q := url.Values{
		"airport": {airportCode},
		"begin":   {strconv.FormatInt(from.Unix(), 10)},
		"end":     {strconv.FormatInt(to.Unix(), 10)},
	}

	body, noData, err := a.client.getJSON(ctx, a.baseURL+endpoint+"?"+q.Encode(), classFlights, op)
	if err != nil {
		return nil, err
	}
	if noData {
		return []aviation.Flight{}, nil
	}

	payload, err := decodePayload(body, a.provider, op)
	if err != nil {
		return nil, err
	}

	records := extractFlightRecords(payload, direction, a.provider)
	flights := make([]aviation.Flight, 0, len(records))
	for _, rec := range records {
		f, ok := normalizeFlightRecord(rec, direction, airportCode)
		if !ok || !matchesAirport(f, airportCode, direction) {
			continue
		}
		flights = append(flights, f)
	}
	return flights, nil
}

// validateFlightQuery applies the checks shared by every flight
// adapter, all before any network access.
func validateFlightQuery(provider, op, airportCode string, from, to time.Time, maxSpan time.Duration) error {
	if len(airportCode) < 3 || len(airportCode) > 4 {
		return aviation.NewError(aviation.KindInvalidInput, provider, op,
			fmt.Sprintf("airport code %q must be 3-4 characters", airportCode))
	}
	if !to.After(from) {
		return aviation.NewError(aviation.KindInvalidInput, provider, op,
			"query window end must be after start")
	}
	if to.Sub(from) > maxSpan {
		return aviation.NewError(aviation.KindInvalidInput, provider, op,
			fmt.Sprintf("query window %v exceeds provider maximum %v", to.Sub(from), maxSpan))
	}
	return nil
}

// filterBoundingBox drops records outside center ± radiusDeg. The
// providers filter server-side already; this keeps the contract honest
// when they are sloppy about the edges.
func filterBoundingBox(aircraft []aviation.LiveAircraft, center aviation.Position, radiusDeg float64) []aviation.LiveAircraft {
	out := make([]aviation.LiveAircraft, 0, len(aircraft))
	for _, ac := range aircraft {
		if ac.Latitude < center.Latitude-radiusDeg || ac.Latitude > center.Latitude+radiusDeg {
			continue
		}
		if ac.Longitude < center.Longitude-radiusDeg || ac.Longitude > center.Longitude+radiusDeg {
			continue
		}
		out = append(out, ac)
	}
	return out
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
