package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"adsbrelay/internal/adsb"
	"adsbrelay/internal/logging"
	"adsbrelay/sink"
)

var (
	ErrAckTimeout = errors.New("kafka-sink: timed out waiting for broker ack")
	ErrClosed     = errors.New("kafka-sink: producer closed")
)

// Producer publishes records to a single topic keyed by hex ident.
//
// The underlying sarama producer is asynchronous. A listener goroutine drains
// its Successes and Errors channels for the producer lifetime and hands each
// ack to the Publish call waiting on it, matched by ProducerMessage.Metadata.
type Producer struct {
	cfg    Config
	format sink.Format
	p      sarama.AsyncProducer

	seq    atomic.Uint64
	closed atomic.Bool

	mu      sync.Mutex // guards waiting
	waiting map[uint64]chan error

	closeOnce sync.Once
	done      chan struct{} // closed when the listener exits
}

// New validates cfg and connects a producer. Any failure here is a startup
// failure.
func New(cfg Config, format sink.Format) (*Producer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: %w", err)
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: create producer: %w", err)
	}
	logging.L().Info("kafka-sink: producer ready",
		"brokers", cfg.Brokers, "topic", cfg.Topic, "protocol", cfg.SecurityProtocol())
	return newProducer(cfg, format, p), nil
}

func newProducer(cfg Config, format sink.Format, p sarama.AsyncProducer) *Producer {
	cfg.ApplyDefaults()
	d := &Producer{
		cfg:     cfg,
		format:  format,
		p:       p,
		waiting: make(map[uint64]chan error),
		done:    make(chan struct{}),
	}
	go d.listen()
	return d
}

func (d *Producer) Name() string { return string(sink.KindKafka) }

func (d *Producer) Publish(ctx context.Context, rec adsb.Record) sink.Outcome {
	dest := d.cfg.Topic
	if d.closed.Load() {
		return sink.Failure(dest, ErrClosed)
	}
	payload, err := sink.Encode(d.format, rec)
	if err != nil {
		return sink.Failure(dest, err)
	}

	id := d.seq.Add(1)
	ack := make(chan error, 1)
	d.mu.Lock()
	d.waiting[id] = ack
	d.mu.Unlock()

	msg := &sarama.ProducerMessage{
		Topic:    dest,
		Key:      sarama.StringEncoder(rec.HexIdent),
		Value:    sarama.ByteEncoder(payload),
		Metadata: id,
	}
	select {
	case d.p.Input() <- msg:
	case <-ctx.Done():
		d.forget(id)
		return sink.Failure(dest, ctx.Err())
	case <-d.done:
		d.forget(id)
		return sink.Failure(dest, ErrClosed)
	}

	timer := time.NewTimer(d.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return sink.Outcome{Destination: dest, Err: err}
	case <-timer.C:
		d.forget(id)
		return sink.Failure(dest, ErrAckTimeout)
	case <-ctx.Done():
		d.forget(id)
		return sink.Failure(dest, ctx.Err())
	}
}

// Close flushes buffered messages and waits for the listener to drain.
func (d *Producer) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.p.AsyncClose()
	})
	<-d.done
	return nil
}

func (d *Producer) forget(id uint64) {
	d.mu.Lock()
	delete(d.waiting, id)
	d.mu.Unlock()
}

// listen runs until sarama closes both result channels.
func (d *Producer) listen() {
	defer close(d.done)
	successes, errs := d.p.Successes(), d.p.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			d.resolve(msg, nil)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.resolve(perr.Msg, perr.Err)
		}
	}
	logging.L().Debug("kafka-sink: ack listener stopped")
}

func (d *Producer) resolve(msg *sarama.ProducerMessage, err error) {
	if msg == nil {
		logging.L().Warn("kafka-sink: producer error without message", "err", err)
		return
	}
	id, _ := msg.Metadata.(uint64)

	d.mu.Lock()
	ack, ok := d.waiting[id]
	if ok {
		delete(d.waiting, id)
	}
	d.mu.Unlock()

	if !ok {
		logging.L().Warn("kafka-sink: late ack discarded",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return
	}
	if err == nil {
		logging.L().Debug("kafka-sink: delivered",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
	ack <- err
}
