package sink

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"adsbrelay/internal/adsb"
)

// Format selects how a Payload is serialised on the wire.
type Format string

const (
	FormatJSON  Format = "json"
	FormatProto Format = "proto" // google.protobuf.Struct
)

// ParseFormat maps a configuration value to a Format. Empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatProto:
		return FormatProto, nil
	}
	return "", fmt.Errorf("unknown payload format %q", s)
}

// Payload is the outgoing projection of a Record. Session, correlation and
// timestamp fields are not forwarded.
type Payload struct {
	HexIdent         string   `json:"hex_ident"`
	TransmissionType uint8    `json:"transmission_type"`
	Altitude         *uint32  `json:"altitude"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	GroundSpeed      *float64 `json:"ground_speed"`
	Track            *float64 `json:"track"`
}

// NewPayload projects rec. Non-finite floats become null.
func NewPayload(rec adsb.Record) Payload {
	return Payload{
		HexIdent:         rec.HexIdent,
		TransmissionType: rec.TransmissionType,
		Altitude:         rec.Altitude,
		Latitude:         finite(rec.Latitude),
		Longitude:        finite(rec.Longitude),
		GroundSpeed:      finite(rec.GroundSpeed),
		Track:            finite(rec.Track),
	}
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// Encode serialises rec in format f.
func Encode(f Format, rec adsb.Record) ([]byte, error) {
	p := NewPayload(rec)
	switch f {
	case FormatProto:
		return p.marshalProto()
	case "", FormatJSON:
		return json.Marshal(p)
	}
	return nil, fmt.Errorf("unknown payload format %q", f)
}

func (p Payload) marshalProto() ([]byte, error) {
	st := &structpb.Struct{Fields: map[string]*structpb.Value{
		"hex_ident":         structpb.NewStringValue(p.HexIdent),
		"transmission_type": structpb.NewNumberValue(float64(p.TransmissionType)),
		"altitude":          nullableNumber(p.Altitude),
		"latitude":          nullableNumber(p.Latitude),
		"longitude":         nullableNumber(p.Longitude),
		"ground_speed":      nullableNumber(p.GroundSpeed),
		"track":             nullableNumber(p.Track),
	}}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

func nullableNumber[T uint32 | float64](v *T) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(float64(*v))
}
