package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

const (
	flightRadarBaseURL = "https://data-live.flightradar24.com"

	flightRadarMaxQuerySpan = 7 * 24 * time.Hour

	// Unit conversions: the feed reports feet, knots and ft/min while
	// the canonical model uses meters and m/s.
	feetToMeters   = 0.3048
	knotsToMS      = 0.514444
	feetPerMinToMS = 0.00508
)

// Feed array positions for the live zone endpoint. Each aircraft is a
// fixed-position array keyed by an opaque feed id.
const (
	frICAO24 = iota
	frLat
	frLon
	frTrack
	frAltFt
	frSpeedKt
	frSquawk
	frRadar
	frType
	frRegistration
	frTimestamp
	frOriginIATA
	frDestIATA
	frFlightNumber
	frOnGround
	frVSpeedFtMin
	frCallsign
	frMinLen = frCallsign + 1
)

// flightRadarAdapter is the paid unified feed: one subscription covers
// live positions and airport schedule boards. Authentication is an API
// key passed as a query token; an hourly request budget guards the
// subscription quota on top of the per-request pacer.
type flightRadarAdapter struct {
	provider        string
	baseURL         string
	client          *restClient
	fallbackWindows []FallbackWindow
}

func newFlightRadarAdapter(provider string, creds credstore.Credentials, opts []Option) (*flightRadarAdapter, error) {
	o := buildOptions(opts)

	a := &flightRadarAdapter{
		provider:        provider,
		baseURL:         flightRadarBaseURL,
		fallbackWindows: DefaultFallbackWindows(),
	}
	if o.baseURL != "" {
		a.baseURL = o.baseURL
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
		auth:       newAuthenticator(provider, authAPIKey, "", httpClient),
		budget:     hourlyBudget(o.requestsPerHour),
	}

	if err := a.SetCredentials(creds); err != nil {
		return nil, err
	}
	return a, nil
}

// SetCredentials re-validates the API key and attaches it. Rate and
// backoff state survive the swap. Safe to call while fetches are in
// flight.
func (a *flightRadarAdapter) SetCredentials(creds credstore.Credentials) error {
	return a.client.auth.setCredentials(creds)
}

// FetchAircraft queries the live zone feed for center ± radiusDeg.
func (a *flightRadarAdapter) FetchAircraft(ctx context.Context, center aviation.Position, radiusDeg float64) ([]aviation.LiveAircraft, error) {
	const op = "fetch aircraft"

	if !center.Valid() || radiusDeg <= 0 {
		return nil, aviation.NewError(aviation.KindInvalidInput, a.provider, op,
			"bounding box center or radius out of range")
	}

	// bounds order: north, south, west, east
	bounds := fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(center.Latitude+radiusDeg),
		formatCoord(center.Latitude-radiusDeg),
		formatCoord(center.Longitude-radiusDeg),
		formatCoord(center.Longitude+radiusDeg))

	q := url.Values{
		"bounds": {bounds},
		"token":  {a.client.auth.apiKey()},
	}

	body, _, err := a.client.getJSON(ctx, a.baseURL+"/zones/fcgi/feed.js?"+q.Encode(), classAircraft, op)
	if err != nil {
		return nil, err
	}

	payload, err := decodePayload(body, a.provider, op)
	if err != nil {
		return nil, err
	}

	aircraft := normalizeFeedEntries(payload)
	return filterBoundingBox(aircraft, center, radiusDeg), nil
}

// normalizeFeedEntries converts the zone feed's keyed arrays into
// canonical records. Scalar metadata keys (full_count, version, stats)
// share the object with the aircraft entries and are skipped by type.
func normalizeFeedEntries(payload any) []aviation.LiveAircraft {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}

	out := make([]aviation.LiveAircraft, 0, len(m))
	for _, v := range m {
		sv, ok := v.([]any)
		if !ok || len(sv) < frMinLen {
			continue
		}

		icao := strings.TrimSpace(stringAt(sv, frICAO24))
		lat, latOK := floatAt(sv, frLat)
		lon, lonOK := floatAt(sv, frLon)
		if icao == "" || !latOK || !lonOK {
			continue
		}
		pos := aviation.Position{Latitude: lat, Longitude: lon}
		if !pos.Valid() {
			continue
		}

		ac := aviation.LiveAircraft{
			ICAO24:      icao,
			Callsign:    strings.TrimSpace(stringAt(sv, frCallsign)),
			Latitude:    lat,
			Longitude:   lon,
			LastContact: time.Now().UTC(),
		}

		if v, ok := floatAt(sv, frOnGround); ok {
			ac.OnGround = v != 0
		}
		if v, ok := floatAt(sv, frAltFt); ok {
			alt := v * feetToMeters
			ac.BaroAltitude = &alt
		}
		if v, ok := floatAt(sv, frSpeedKt); ok {
			spd := v * knotsToMS
			ac.Velocity = &spd
		}
		if v, ok := floatAt(sv, frTrack); ok {
			track := v
			ac.Track = &track
		}
		if v, ok := floatAt(sv, frVSpeedFtMin); ok {
			vs := v * feetPerMinToMS
			ac.VerticalRate = &vs
		}
		if v, ok := floatAt(sv, frTimestamp); ok && v > 0 {
			ac.LastContact = time.Unix(int64(v), 0).UTC()
		}

		out = append(out, ac)
	}
	return out
}

// FetchFlights queries the airport schedule board. The response nests
// the list under result.response.airport.pluginData.schedule, which the
// shape matchers unwrap.
func (a *flightRadarAdapter) FetchFlights(ctx context.Context, airportCode string, direction aviation.FlightDirection, from, to time.Time) ([]aviation.Flight, error) {
	const op = "fetch flights"

	if err := validateFlightQuery(a.provider, op, airportCode, from, to, flightRadarMaxQuerySpan); err != nil {
		return nil, err
	}

	flights, err := a.fetchScheduleWindow(ctx, airportCode, direction, from, to)
	if err == nil && len(flights) > 0 {
		return flights, nil
	}
	if direction != aviation.DirectionArrival {
		return flights, err
	}

	if err != nil && !aviation.IsKind(err, aviation.KindRateLimited) {
		return nil, err
	}
	if recovered := searchFallbackWindows(ctx, a.provider, a.fallbackWindows, func(ctx context.Context, wFrom, wTo time.Time) ([]aviation.Flight, error) {
		return a.fetchScheduleWindow(ctx, airportCode, direction, wFrom, wTo)
	}); len(recovered) > 0 {
		return recovered, nil
	}
	if err != nil {
		return nil, err
	}
	return []aviation.Flight{}, nil
}

func (a *flightRadarAdapter) fetchScheduleWindow(ctx context.Context, airportCode string, direction aviation.FlightDirection, from, to time.Time) ([]aviation.Flight, error) {
	op := "fetch " + string(direction) + "s"

	q := url.Values{}
	q.Set("code", strings.ToLower(airportCode))
	q.Set("plugin-setting[schedule][mode]", directionKey(direction))
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	q.Set("token", a.client.auth.apiKey())

	body, noData, err := a.client.getJSON(ctx, a.baseURL+"/airports/schedule?"+q.Encode(), classFlights, op)
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
