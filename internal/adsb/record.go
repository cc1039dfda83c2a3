package adsb

// KindTelemetry is the only message type accepted from the feed.
const KindTelemetry = "MSG"

// Record is one decoded MSG line.
//
// Pointer fields are optional: nil means the source field was empty or not
// numeric. A zero value is a real reading and is never used as a stand-in
// for "absent".
type Record struct {
	Kind             string
	TransmissionType uint8 // 0 when the source field is missing or unparsable

	SessionID  string
	AircraftID string
	HexIdent   string
	FlightID   string

	DateGenerated string
	TimeGenerated string

	Altitude    *uint32
	GroundSpeed *float64
	Track       *float64
	Latitude    *float64
	Longitude   *float64
}
