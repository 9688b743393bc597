package providers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

const (
	adsbExchangeBaseURL = "https://adsbexchange-com1.p.rapidapi.com"

	// The point query takes a radius in nautical miles; one degree of
	// latitude is 60 NM.
	degreesToNM = 60.0

	adsbExchangeMaxRadiusNM = 250.0
)

// adsbExchangeAdapter is the key-authenticated position feed. It only
// implements the aircraft capability; the service has no schedule
// endpoint.
type adsbExchangeAdapter struct {
	provider string
	baseURL  string
	client   *restClient
}

func newADSBExchangeAdapter(creds credstore.Credentials, opts []Option) (*adsbExchangeAdapter, error) {
	o := buildOptions(opts)

	a := &adsbExchangeAdapter{
		provider: AircraftADSBExchange,
		baseURL:  adsbExchangeBaseURL,
	}
	if o.baseURL != "" {
		a.baseURL = o.baseURL
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}

	pacerCfg := DefaultPacerConfig(AircraftADSBExchange)
	if o.pacer != nil {
		pacerCfg = *o.pacer
	}

	a.client = &restClient{
		provider:   a.provider,
		httpClient: httpClient,
		pacer:      newPacer(pacerCfg),
		auth:       newAuthenticator(a.provider, authAPIKey, "", httpClient),
		budget:     hourlyBudget(o.requestsPerHour),
	}

	if err := a.SetCredentials(creds); err != nil {
		return nil, err
	}
	return a, nil
}

// SetCredentials re-validates the API key. Rate and backoff state
// survive the swap. Safe to call while fetches are in flight.
func (a *adsbExchangeAdapter) SetCredentials(creds credstore.Credentials) error {
	return a.client.auth.setCredentials(creds)
}

// FetchAircraft queries the point endpoint and trims the circular
// result set down to the requested bounding box.
func (a *adsbExchangeAdapter) FetchAircraft(ctx context.Context, center aviation.Position, radiusDeg float64) ([]aviation.LiveAircraft, error) {
	const op = "fetch aircraft"

	if !center.Valid() || radiusDeg <= 0 {
		return nil, aviation.NewError(aviation.KindInvalidInput, a.provider, op,
			"bounding box center or radius out of range")
	}

	// The bounding box diagonal must fit inside the query circle.
	radiusNM := math.Ceil(radiusDeg * degreesToNM * math.Sqrt2)
	if radiusNM > adsbExchangeMaxRadiusNM {
		radiusNM = adsbExchangeMaxRadiusNM
	}

	endpoint := fmt.Sprintf("%s/v2/lat/%s/lon/%s/dist/%.0f/",
		a.baseURL, formatCoord(center.Latitude), formatCoord(center.Longitude), radiusNM)

	body, _, err := a.client.getJSONWithHeaders(ctx, endpoint, classAircraft, op, map[string]string{
		"X-RapidAPI-Key": a.client.auth.apiKey(),
	})
	if err != nil {
		return nil, err
	}

	payload, err := decodePayload(body, a.provider, op)
	if err != nil {
		return nil, err
	}

	aircraft := normalizePointEntries(payload)
	return filterBoundingBox(aircraft, center, radiusDeg), nil
}

// normalizePointEntries converts the {ac: [...]} object list into
// canonical records. Altitude can be the string "ground" instead of a
// number; speeds arrive in knots and ft/min.
func normalizePointEntries(payload any) []aviation.LiveAircraft {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := listAt(m, "ac")
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	out := make([]aviation.LiveAircraft, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}

		icao := strings.TrimSpace(stringField(rec, "hex"))
		lat, latOK := floatValue(rec, "lat")
		lon, lonOK := floatValue(rec, "lon")
		if icao == "" || !latOK || !lonOK {
			continue
		}
		pos := aviation.Position{Latitude: lat, Longitude: lon}
		if !pos.Valid() {
			continue
		}

		ac := aviation.LiveAircraft{
			ICAO24:      icao,
			Callsign:    strings.TrimSpace(stringField(rec, "flight")),
			Latitude:    lat,
			Longitude:   lon,
			LastContact: now,
		}

		if raw, found := rec["alt_baro"]; found {
			switch v := raw.(type) {
			case float64:
				alt := v * feetToMeters
				ac.BaroAltitude = &alt
			case string:
				if v == "ground" {
					ac.OnGround = true
				}
			}
		}
		if v, ok := floatValue(rec, "gs"); ok {
			spd := v * knotsToMS
			ac.Velocity = &spd
		}
		if v, ok := floatValue(rec, "track"); ok {
			track := v
			ac.Track = &track
		}
		if v, ok := floatValue(rec, "baro_rate"); ok {
			vs := v * feetPerMinToMS
			ac.VerticalRate = &vs
		}
		if v, ok := floatValue(rec, "seen"); ok {
			ac.LastContact = now.Add(-time.Duration(v * float64(time.Second)))
		}

		out = append(out, ac)
	}
	return out
}

func floatValue(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
