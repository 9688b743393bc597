package providers

import (
	"strings"
	"unicode"
)

// icaoToIATA maps the ICAO three-letter airline designators seen in ATC
// callsigns to the IATA two-letter codes used in commercial flight
// numbers. The table covers common carriers only: unknown prefixes
// pass through unchanged rather than failing.
var icaoToIATA = map[string]string{
	"AAL": "AA", // American Airlines
	"ACA": "AC", // Air Canada
	"AFR": "AF", // Air France
	"ASA": "AS", // Alaska Airlines
	"BAW": "BA", // British Airways
	"DAL": "DL", // Delta Air Lines
	"DLH": "LH", // Lufthansa
	"EIN": "EI", // Aer Lingus
	"EZY": "U2", // easyJet
	"FDX": "FX", // FedEx Express
	"IBE": "IB", // Iberia
	"JBU": "B6", // JetBlue
	"KLM": "KL", // KLM
	"QFA": "QF", // Qantas
	"RYR": "FR", // Ryanair
	"SAS": "SK", // Scandinavian Airlines
	"SIA": "SQ", // Singapore Airlines
	"SWA": "WN", // Southwest Airlines
	"SWR": "LX", // Swiss
	"UAE": "EK", // Emirates
	"UAL": "UA", // United Airlines
	"UPS": "5X", // UPS Airlines
	"VIR": "VS", // Virgin Atlantic
	"VLG": "VY", // Vueling
}

// splitCallsign separates an ATC callsign into its letters prefix and
// the remaining suffix (flight number digits plus any letter suffix).
// "BAW117A" -> ("BAW", "117A"). Callsigns with no digit portion return
// an empty suffix.
func splitCallsign(callsign string) (prefix, suffix string) {
	callsign = strings.TrimSpace(callsign)
	i := 0
	for i < len(callsign) && unicode.IsLetter(rune(callsign[i])) {
		i++
	}
	return callsign[:i], callsign[i:]
}

// flightNumberFromCallsign canonicalizes a callsign into an IATA-style
// flight number when the airline prefix is known. Unknown prefixes and
// non-airline callsigns (registrations, no digits) come back unchanged.
func flightNumberFromCallsign(callsign string) string {
	prefix, suffix := splitCallsign(callsign)
	if prefix == "" || suffix == "" {
		return strings.TrimSpace(callsign)
	}
	if iata, ok := icaoToIATA[strings.ToUpper(prefix)]; ok {
		return iata + suffix
	}
	return strings.TrimSpace(callsign)
}
