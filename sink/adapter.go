package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"adsbrelay/internal/adsb"
)

// Kind names a sink backend. Exactly one is selected per process.
type Kind string

const (
	KindMQTT  Kind = "mqtt"
	KindKafka Kind = "kafka"
)

// ErrUnknownKind is returned for a sink selection that is neither mqtt nor kafka.
var ErrUnknownKind = errors.New("unknown sink")

// ParseKind maps a configuration value to a Kind. Empty selects MQTT.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindMQTT:
		return KindMQTT, nil
	case KindKafka:
		return KindKafka, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// Outcome reports what happened to a single Publish call.
type Outcome struct {
	Destination string
	Err         error // nil on success
}

func (o Outcome) OK() bool { return o.Err == nil }

// Failure builds an Outcome for dest carrying err.
func Failure(dest string, err error) Outcome { return Outcome{Destination: dest, Err: err} }

// Sink is the behaviour every backend exposes.
//
// Publish blocks until the broker has acknowledged the record or the attempt
// failed. It never retries.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec adsb.Record) Outcome
	Close() error // idempotent
}

// Topic is the MQTT destination for rec: adsb/<hex ident>/<transmission type>.
func Topic(rec adsb.Record) string {
	return "adsb/" + rec.HexIdent + "/" + strconv.FormatUint(uint64(rec.TransmissionType), 10)
}
