package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"adsbrelay/internal/adsb"
	"adsbrelay/internal/logging"
	"adsbrelay/sink"
)

// QoS is at-least-once: the broker confirms receipt with PUBACK.
const QoS byte = 1

const (
	eventBuffer    = 64
	disconnectWait = 250 // ms
)

var (
	ErrConnectTimeout = errors.New("mqtt-sink: timed out connecting to broker")
	ErrPublishTimeout = errors.New("mqtt-sink: timed out waiting for PUBACK")
	ErrClosed         = errors.New("mqtt-sink: client closed")
)

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type eventKind string

const (
	evConnected    eventKind = "connected"
	evLost         eventKind = "connection_lost"
	evReconnecting eventKind = "reconnecting"
)

type event struct {
	kind eventKind
	err  error
}

// Publisher sends each record to adsb/<hex ident>/<transmission type>.
//
// paho reports connection lifecycle through callbacks. Those callbacks only
// enqueue onto events; a listener goroutine drains and logs them until Close.
// Nothing it sees reaches the publish path.
type Publisher struct {
	cfg    Config
	format sink.Format
	cl     client

	events  chan event
	drained atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New connects to the broker. A connect error or timeout is a startup
// failure.
func New(cfg Config, format sink.Format) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := newPublisher(cfg, format)
	p.cl = paho.NewClient(p.clientOptions())
	if err := p.connect(); err != nil {
		p.Close()
		return nil, err
	}
	logging.L().Info("mqtt-sink: connected", "broker", cfg.BrokerURL(), "client_id", cfg.ClientID)
	return p, nil
}

func newPublisher(cfg Config, format sink.Format) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		format: format,
		events: make(chan event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.listen()
	return p
}

func (p *Publisher) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL()).
		SetClientID(p.cfg.ClientID).
		SetKeepAlive(p.cfg.KeepAlive).
		SetConnectTimeout(p.cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(paho.Client) {
			p.notify(event{kind: evConnected})
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.notify(event{kind: evLost, err: err})
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			p.notify(event{kind: evReconnecting})
		})
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username).SetPassword(p.cfg.Password)
	}
	if p.cfg.TLSEnabled {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func (p *Publisher) connect() error {
	tok := p.cl.Connect()
	if !tok.WaitTimeout(p.cfg.ConnectTimeout) {
		return fmt.Errorf("%w %s", ErrConnectTimeout, p.cfg.BrokerURL())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt-sink: connect %s: %w", p.cfg.BrokerURL(), err)
	}
	return nil
}

func (p *Publisher) Name() string { return string(sink.KindMQTT) }

func (p *Publisher) Publish(ctx context.Context, rec adsb.Record) sink.Outcome {
	topic := sink.Topic(rec)
	if p.closed.Load() {
		return sink.Failure(topic, ErrClosed)
	}
	payload, err := sink.Encode(p.format, rec)
	if err != nil {
		return sink.Failure(topic, err)
	}

	tok := p.cl.Publish(topic, QoS, false, payload)

	var timeout <-chan time.Time
	if p.cfg.PublishTimeout > 0 {
		t := time.NewTimer(p.cfg.PublishTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-tok.Done():
		return sink.Outcome{Destination: topic, Err: tok.Error()}
	case <-timeout:
		return sink.Failure(topic, ErrPublishTimeout)
	case <-ctx.Done():
		return sink.Failure(topic, ctx.Err())
	}
}

// Close disconnects and stops the listener.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.cl != nil {
			p.cl.Disconnect(disconnectWait)
		}
		close(p.stop)
	})
	<-p.done
	return nil
}

// notify never blocks a paho callback; events are dropped when the buffer
// is full.
func (p *Publisher) notify(ev event) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Publisher) listen() {
	defer close(p.done)
	log := logging.L().With("broker", p.cfg.BrokerURL())
	for {
		select {
		case ev := <-p.events:
			p.drained.Add(1)
			switch ev.kind {
			case evLost:
				log.Warn("mqtt-sink: connection lost", "err", ev.err)
			default:
				log.Info("mqtt-sink: " + string(ev.kind))
			}
		case <-p.stop:
			return
		}
	}
}
