package adsb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinFields is the shortest line that can carry a MSG record.
const MinFields = 22

// field positions inside a BaseStation line
const (
	posKind = iota
	posTransmissionType
	posSessionID
	posAircraftID
	posHexIdent
	posFlightID
	posDateGenerated
	posTimeGenerated
	_ // date logged
	_ // time logged
	_ // callsign (unused)
	posAltitude
	posGroundSpeed
	posTrack
	posLatitude
	posLongitude
)

var (
	// ErrRejected is wrapped by every decode rejection.
	ErrRejected = errors.New("adsb: line rejected")

	ErrTooFewFields = fmt.Errorf("%w: too few fields", ErrRejected)
	ErrNotTelemetry = fmt.Errorf("%w: not a %s record", ErrRejected, KindTelemetry)
)

// Decode turns one feed line into a Record.
//
// Fields are split on ',' with no quoting. Unparsable numeric fields leave the
// matching attribute nil, except TransmissionType which falls back to 0.
func Decode(line string) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) < MinFields {
		return Record{}, fmt.Errorf("%w (%d < %d)", ErrTooFewFields, len(parts), MinFields)
	}
	if parts[posKind] != KindTelemetry {
		return Record{}, fmt.Errorf("%w: got %q", ErrNotTelemetry, parts[posKind])
	}

	return Record{
		Kind:             parts[posKind],
		TransmissionType: parseTransmissionType(parts[posTransmissionType]),
		SessionID:        parts[posSessionID],
		AircraftID:       parts[posAircraftID],
		HexIdent:         parts[posHexIdent],
		FlightID:         parts[posFlightID],
		DateGenerated:    parts[posDateGenerated],
		TimeGenerated:    parts[posTimeGenerated],
		Altitude:         parseUint32(parts[posAltitude]),
		GroundSpeed:      parseFloat(parts[posGroundSpeed]),
		Track:            parseFloat(parts[posTrack]),
		Latitude:         parseFloat(parts[posLatitude]),
		Longitude:        parseFloat(parts[posLongitude]),
	}, nil
}

func parseTransmissionType(s string) uint8 {
	v, err := strconv.ParseUint(unsigned(s), 10, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func parseUint32(s string) *uint32 {
	v, err := strconv.ParseUint(unsigned(s), 10, 32)
	if err != nil {
		return nil
	}
	u := uint32(v)
	return &u
}

// unsigned drops one leading '+', which ParseUint does not accept.
func unsigned(s string) string { return strings.TrimPrefix(s, "+") }

// parseFloat takes decimal notation only; hex floats are absent.
func parseFloat(s string) *float64 {
	if digits := strings.TrimLeft(s, "+-"); len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
