package providers

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mstrella/skyfeed/pkg/aviation"
)

// decodePayload parses raw response bytes into a generic JSON value.
// This is the only place a parse error can originate: bytes that are
// not JSON at all. A JSON payload with an unfamiliar shape is handled
// downstream as "no data", never as an error.
func decodePayload(body []byte, provider, op string) (any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, aviation.WrapError(aviation.KindParse, provider, op, err)
	}
	return payload, nil
}

// ---------------------------------------------------------------------------
// Aircraft state vectors
// ---------------------------------------------------------------------------

// OpenSky /states/all positions within each state array.
const (
	svICAO24 = iota
	svCallsign
	svOriginCountry
	svTimePosition
	svLastContact
	svLongitude
	svLatitude
	svBaroAltitude
	svOnGround
	svVelocity
	svTrueTrack
	svVerticalRate
	svMinLen = svVerticalRate + 1
)

// normalizeStateVectors converts fixed-position state arrays into
// canonical aircraft records. Records missing a transponder id or
// coordinates, or with out-of-range coordinates, are silently dropped.
// That is a best-effort policy for noisy upstream data, not a parse
// failure.
func normalizeStateVectors(states [][]any, observed time.Time) []aviation.LiveAircraft {
	out := make([]aviation.LiveAircraft, 0, len(states))
	for _, sv := range states {
		if len(sv) < svMinLen {
			continue
		}

		icao := strings.TrimSpace(stringAt(sv, svICAO24))
		lat, latOK := floatAt(sv, svLatitude)
		lon, lonOK := floatAt(sv, svLongitude)
		if icao == "" || !latOK || !lonOK {
			continue
		}

		pos := aviation.Position{Latitude: lat, Longitude: lon}
		if !pos.Valid() {
			continue
		}

		ac := aviation.LiveAircraft{
			ICAO24:        icao,
			Callsign:      strings.TrimSpace(stringAt(sv, svCallsign)),
			OriginCountry: stringAt(sv, svOriginCountry),
			Latitude:      lat,
			Longitude:     lon,
			OnGround:      boolAt(sv, svOnGround),
			LastContact:   observed,
		}

		if v, ok := floatAt(sv, svBaroAltitude); ok {
			ac.BaroAltitude = &v
		}
		if v, ok := floatAt(sv, svVelocity); ok {
			ac.Velocity = &v
		}
		if v, ok := floatAt(sv, svTrueTrack); ok {
			ac.Track = &v
		}
		if v, ok := floatAt(sv, svVerticalRate); ok {
			ac.VerticalRate = &v
		}
		if v, ok := floatAt(sv, svLastContact); ok {
			ac.LastContact = time.Unix(int64(v), 0).UTC()
		}

		out = append(out, ac)
	}
	return out
}

func stringAt(sv []any, idx int) string {
	if idx >= len(sv) {
		return ""
	}
	s, _ := sv[idx].(string)
	return s
}

func floatAt(sv []any, idx int) (float64, bool) {
	if idx >= len(sv) {
		return 0, false
	}
	f, ok := sv[idx].(float64)
	return f, ok
}

func boolAt(sv []any, idx int) bool {
	if idx >= len(sv) {
		return false
	}
	b, _ := sv[idx].(bool)
	return b
}

// ---------------------------------------------------------------------------
// Flight list shape matching
// ---------------------------------------------------------------------------

// flightShape recognizes one provider's way of nesting the flight list
// inside a response body. Matchers are tried in declaration order; the
// first match wins.
type flightShape struct {
	name  string
	match func(m map[string]any, direction aviation.FlightDirection) ([]any, bool)
}

// flightListShapes covers the nesting dialects observed across
// providers. Keeping this a data-driven list (rather than a cascade of
// conditionals) makes the next dialect a one-entry change.
var flightListShapes = []flightShape{
	{
		name: "data",
		match: func(m map[string]any, _ aviation.FlightDirection) ([]any, bool) {
			return listAt(m, "data")
		},
	},
	{
		name: "result.response.airport.pluginData.schedule",
		match: func(m map[string]any, direction aviation.FlightDirection) ([]any, bool) {
			node, ok := dig(m, "result", "response", "airport", "pluginData", "schedule", directionKey(direction))
			if !ok {
				return nil, false
			}
			// The schedule node is either the list itself or a wrapper
			// holding it under "data".
			if list, ok := node.([]any); ok {
				return list, true
			}
			if wrapper, ok := node.(map[string]any); ok {
				return listAt(wrapper, "data")
			}
			return nil, false
		},
	},
	{
		name: "response",
		match: func(m map[string]any, direction aviation.FlightDirection) ([]any, bool) {
			resp, ok := dig(m, "response")
			if !ok {
				return nil, false
			}
			wrapper, ok := resp.(map[string]any)
			if !ok {
				return nil, false
			}
			return listAt(wrapper, directionKey(direction))
		},
	},
	{
		name: "flights",
		match: func(m map[string]any, _ aviation.FlightDirection) ([]any, bool) {
			return listAt(m, "flights")
		},
	},
}

func directionKey(direction aviation.FlightDirection) string {
	if direction == aviation.DirectionArrival {
		return "arrivals"
	}
	return "departures"
}

// extractFlightRecords locates the flight list inside a parsed payload.
// A top-level array is the list itself; objects go through the shape
// matchers. No recognizable shape resolves to an empty list with a
// diagnostic, because an unfamiliar shape means "no data" here.
func extractFlightRecords(payload any, direction aviation.FlightDirection, provider string) []map[string]any {
	var list []any
	switch v := payload.(type) {
	case []any:
		list = v
	case map[string]any:
		matched := false
		for _, shape := range flightListShapes {
			if l, ok := shape.match(v, direction); ok {
				list = l
				matched = true
				break
			}
		}
		if !matched {
			slog.Debug("no known flight payload shape matched, treating as empty",
				"provider", provider, "direction", direction)
			return nil
		}
	default:
		return nil
	}

	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

// dig walks nested objects along path, returning the final value.
func dig(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func listAt(m map[string]any, path ...string) ([]any, bool) {
	v, ok := dig(m, path...)
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok
}

func stringField(m map[string]any, path ...string) string {
	v, ok := dig(m, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// timeField extracts a timestamp that may be a unix-seconds number, a
// numeric string, or an RFC3339-ish string. Zero and negative epoch
// values are treated as absent.
func timeField(m map[string]any, path ...string) *time.Time {
	v, ok := dig(m, path...)
	if !ok {
		return nil
	}
	return timeFromAny(v)
}

func timeFromAny(v any) *time.Time {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return nil
		}
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05+00:00", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
		return nil
	default:
		return nil
	}
}

// firstTime returns the first non-nil timestamp.
func firstTime(times ...*time.Time) *time.Time {
	for _, t := range times {
		if t != nil {
			return t
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Flight record normalization
// ---------------------------------------------------------------------------

// statusFromText maps a provider's explicit status string to the
// canonical enumeration. Unknown text yields StatusUnknown; the caller
// falls back to timestamp inference only when no text was supplied.
func statusFromText(text string) (aviation.FlightStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "":
		return aviation.StatusUnknown, false
	case "scheduled", "expected":
		return aviation.StatusScheduled, true
	case "active", "en-route", "enroute", "en route", "airborne":
		return aviation.StatusEnRoute, true
	case "landed", "arrived":
		return aviation.StatusLanded, true
	case "departed":
		return aviation.StatusDeparted, true
	case "delayed":
		return aviation.StatusDelayed, true
	case "cancelled", "canceled":
		return aviation.StatusCancelled, true
	case "diverted":
		return aviation.StatusDiverted, true
	default:
		return aviation.StatusUnknown, true
	}
}

// normalizeFlightRecord maps one raw record into a canonical Flight.
// Field extraction is best-effort across the dialects the shape
// matchers admit; a record with nothing identifying at all is dropped.
//
// queriedAirport fills the matching airport field for board-style
// responses that leave it implicit (the board is for that airport).
func normalizeFlightRecord(rec map[string]any, direction aviation.FlightDirection, queriedAirport string) (aviation.Flight, bool) {
	f := aviation.Flight{Direction: direction}

	// Callsign dialects: flat, nested identification, or live feed.
	f.Callsign = firstNonEmpty(
		stringField(rec, "callsign"),
		stringField(rec, "flight", "identification", "callsign"),
		stringField(rec, "identification", "callsign"),
	)

	// Flight number dialects, falling back to the callsign split.
	f.FlightNumber = firstNonEmpty(
		stringField(rec, "flight", "iata"),
		stringField(rec, "flight", "number"),
		stringField(rec, "flight", "identification", "number", "default"),
		stringField(rec, "identification", "number", "default"),
		stringField(rec, "flight_number"),
	)
	if f.FlightNumber == "" && f.Callsign != "" {
		f.FlightNumber = flightNumberFromCallsign(f.Callsign)
	}

	f.Airline = firstNonEmpty(
		stringField(rec, "airline", "name"),
		stringField(rec, "flight", "airline", "name"),
		stringField(rec, "airline", "code", "iata"),
		stringField(rec, "airline"),
	)

	f.AircraftType = firstNonEmpty(
		stringField(rec, "aircraft", "icao"),
		stringField(rec, "aircraft", "model", "code"),
		stringField(rec, "flight", "aircraft", "model", "code"),
		stringField(rec, "aircraft_type"),
	)

	f.OriginICAO = firstNonEmpty(
		stringField(rec, "departure", "icao"),
		stringField(rec, "origin", "code_icao"),
		stringField(rec, "flight", "airport", "origin", "code", "icao"),
		stringField(rec, "airport", "origin", "code", "icao"),
		stringField(rec, "estDepartureAirport"),
	)
	f.OriginName = firstNonEmpty(
		stringField(rec, "departure", "airport"),
		stringField(rec, "origin", "name"),
		stringField(rec, "flight", "airport", "origin", "name"),
		stringField(rec, "airport", "origin", "name"),
	)

	f.DestinationICAO = firstNonEmpty(
		stringField(rec, "arrival", "icao"),
		stringField(rec, "destination", "code_icao"),
		stringField(rec, "flight", "airport", "destination", "code", "icao"),
		stringField(rec, "airport", "destination", "code", "icao"),
		stringField(rec, "estArrivalAirport"),
	)
	f.DestinationName = firstNonEmpty(
		stringField(rec, "arrival", "airport"),
		stringField(rec, "destination", "name"),
		stringField(rec, "flight", "airport", "destination", "name"),
		stringField(rec, "airport", "destination", "name"),
	)

	// Board-style payloads omit the queried airport side entirely.
	if direction == aviation.DirectionArrival && f.DestinationICAO == "" && recordIsBoardStyle(rec) {
		f.DestinationICAO = queriedAirport
	}
	if direction == aviation.DirectionDeparture && f.OriginICAO == "" && recordIsBoardStyle(rec) {
		f.OriginICAO = queriedAirport
	}

	// Movement times for the queried direction.
	sideKey := "arrival"
	if direction == aviation.DirectionDeparture {
		sideKey = "departure"
	}
	f.Scheduled = firstTime(
		timeField(rec, sideKey, "scheduled"),
		timeField(rec, "flight", "time", "scheduled", sideKey),
		timeField(rec, "time", "scheduled", sideKey),
	)
	f.Estimated = firstTime(
		timeField(rec, sideKey, "estimated"),
		timeField(rec, "flight", "time", "estimated", sideKey),
		timeField(rec, "time", "estimated", sideKey),
	)
	f.Actual = firstTime(
		timeField(rec, sideKey, "actual"),
		timeField(rec, "flight", "time", "real", sideKey),
		timeField(rec, "time", "real", sideKey),
		openSkyMovementTime(rec, direction),
	)

	// Status: explicit text wins, otherwise inferred from timestamps.
	statusText := firstNonEmpty(
		stringField(rec, "flight_status"),
		stringField(rec, "status"),
		stringField(rec, "flight", "status", "generic", "status", "text"),
		stringField(rec, "status", "generic", "status", "text"),
	)
	if status, explicit := statusFromText(statusText); explicit {
		f.Status = status
	} else {
		f.Status = aviation.InferStatus(direction, f.Estimated, f.Actual)
	}

	f.ID = flightID(rec, f)
	if f.ID == "" {
		return aviation.Flight{}, false
	}
	return f, true
}

// recordIsBoardStyle reports whether the record looks like an airport
// board entry (nested under flight/airport trees) rather than a flat
// per-flight record that names both endpoints itself.
func recordIsBoardStyle(rec map[string]any) bool {
	if _, ok := dig(rec, "flight", "airport"); ok {
		return true
	}
	if _, ok := dig(rec, "airport"); ok {
		return true
	}
	return false
}

// openSkyMovementTime pulls firstSeen/lastSeen (historical actuals)
// from OpenSky flight records.
func openSkyMovementTime(rec map[string]any, direction aviation.FlightDirection) *time.Time {
	if direction == aviation.DirectionArrival {
		return timeField(rec, "lastSeen")
	}
	return timeField(rec, "firstSeen")
}

// flightID builds a record identifier from whatever provider fields are
// available. The last resort is a name-based UUID over the serialized
// record, so every returned record is addressable and repeat
// normalizations of the same payload agree.
func flightID(rec map[string]any, f aviation.Flight) string {
	if id := firstNonEmpty(
		stringField(rec, "fa_flight_id"),
		stringField(rec, "flight", "identification", "id"),
		stringField(rec, "identification", "id"),
		stringField(rec, "id"),
	); id != "" {
		return id
	}

	if icao24 := stringField(rec, "icao24"); icao24 != "" {
		if t := f.Actual; t != nil {
			return icao24 + "-" + strconv.FormatInt(t.Unix(), 10)
		}
		return icao24
	}

	name := firstNonEmpty(f.Callsign, f.FlightNumber)
	if name != "" {
		if t := firstTime(f.Scheduled, f.Estimated, f.Actual); t != nil {
			return name + "-" + strconv.FormatInt(t.Unix(), 10)
		}
		return name
	}

	// encoding/json sorts map keys, so the digest input is stable.
	raw, _ := json.Marshal(rec)
	return uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// matchesAirport applies the direction filter: an arrival is valid only
// when its destination equals the queried airport, a departure only
// when its origin does. Records whose matching field is absent are not
// valid for the requested direction.
func matchesAirport(f aviation.Flight, airport string, direction aviation.FlightDirection) bool {
	if direction == aviation.DirectionArrival {
		return strings.EqualFold(f.DestinationICAO, airport)
	}
	return strings.EqualFold(f.OriginICAO, airport)
}
