// Package aviation defines the canonical data model returned by every
// provider adapter, together with the capability interfaces the rest of
// the application consumes. All position data is in WGS84 coordinates.
package aviation

import (
	"context"
	"time"
)

// Position is a point on the earth in decimal degrees.
type Position struct {
	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the position is inside the WGS84 coordinate range.
func (p Position) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// LiveAircraft is one observed aircraft state vector. Records are
// immutable values recreated on every poll; the ICAO24 transponder
// address is the only identity carried across polls.
type LiveAircraft struct {
	// ICAO24 is the 24-bit Mode S transponder address (e.g., "a12345")
	ICAO24 string `json:"icao24"`

	// Callsign is the flight number or registration, if broadcast
	Callsign string `json:"callsign,omitempty"`

	// OriginCountry is the country label inferred from the ICAO24 block
	OriginCountry string `json:"origin_country,omitempty"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// BaroAltitude is barometric altitude in meters, nil when not reported
	BaroAltitude *float64 `json:"baro_altitude,omitempty"`

	// OnGround indicates a surface position report
	OnGround bool `json:"on_ground"`

	// Velocity is ground speed in m/s, nil when not reported
	Velocity *float64 `json:"velocity,omitempty"`

	// Track is the true track in decimal degrees (0 = north), nil when not reported
	Track *float64 `json:"track,omitempty"`

	// VerticalRate in m/s, positive = climbing, nil when not reported
	VerticalRate *float64 `json:"vertical_rate,omitempty"`

	// LastContact is the timestamp of the observation
	LastContact time.Time `json:"last_contact"`
}

// FlightStatus is the lifecycle state of a scheduled flight. Providers
// rarely agree on status strings, so the status is frequently inferred
// from whichever timestamps are present rather than taken verbatim.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "scheduled"
	StatusEnRoute   FlightStatus = "en_route"
	StatusLanded    FlightStatus = "landed"
	StatusDeparted  FlightStatus = "departed"
	StatusDelayed   FlightStatus = "delayed"
	StatusCancelled FlightStatus = "cancelled"
	StatusDiverted  FlightStatus = "diverted"
	StatusUnknown   FlightStatus = "unknown"
)

// FlightDirection tags a Flight as an arrival or a departure relative to
// the queried airport.
type FlightDirection string

const (
	DirectionArrival   FlightDirection = "arrival"
	DirectionDeparture FlightDirection = "departure"
)

// Flight is one arrival or departure record for a queried airport.
type Flight struct {
	// ID is constructed from whatever provider fields are available.
	// It is stable within one provider's responses but never guaranteed
	// stable across providers.
	ID string `json:"id"`

	// Callsign is the ATC callsign (e.g., "BAW117")
	Callsign string `json:"callsign,omitempty"`

	// FlightNumber is the commercial flight number (e.g., "BA117")
	FlightNumber string `json:"flight_number,omitempty"`

	// Airline is the operating airline name or code, if known
	Airline string `json:"airline,omitempty"`

	// AircraftType is the ICAO aircraft type designator (e.g., "B77W")
	AircraftType string `json:"aircraft_type,omitempty"`

	// Origin airport, ICAO code and human-readable name
	OriginICAO string `json:"origin_icao,omitempty"`
	OriginName string `json:"origin_name,omitempty"`

	// Destination airport, ICAO code and human-readable name
	DestinationICAO string `json:"destination_icao,omitempty"`
	DestinationName string `json:"destination_name,omitempty"`

	// Scheduled, Estimated and Actual movement times. At most one of
	// these is guaranteed non-nil.
	Scheduled *time.Time `json:"scheduled,omitempty"`
	Estimated *time.Time `json:"estimated,omitempty"`
	Actual    *time.Time `json:"actual,omitempty"`

	// Status is the (possibly inferred) flight status
	Status FlightStatus `json:"status"`

	// Direction relative to the queried airport
	Direction FlightDirection `json:"direction"`
}

// InferStatus derives a FlightStatus from the timestamps present on a
// record when the provider supplies no explicit status string.
func InferStatus(direction FlightDirection, estimated, actual *time.Time) FlightStatus {
	switch {
	case actual != nil:
		if direction == DirectionArrival {
			return StatusLanded
		}
		return StatusDeparted
	case estimated != nil:
		return StatusEnRoute
	default:
		return StatusScheduled
	}
}

// AircraftSource is the live-position capability. Implementations issue
// one authenticated, rate-limited request per call and return only
// records with coordinates inside the WGS84 range.
type AircraftSource interface {
	// FetchAircraft returns aircraft inside the bounding box
	// center ± radiusDeg on both axes.
	FetchAircraft(ctx context.Context, center Position, radiusDeg float64) ([]LiveAircraft, error)
}

// FlightSource is the schedule capability. Implementations validate the
// airport code and time window before any network access.
type FlightSource interface {
	// FetchFlights returns arrivals or departures for the airport within
	// [from, to]. An empty slice means the provider had no matching data;
	// it is never conflated with an error.
	FetchFlights(ctx context.Context, airportCode string, direction FlightDirection, from, to time.Time) ([]Flight, error)
}
