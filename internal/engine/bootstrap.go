package engine

import (
	"context"
	"fmt"
	"io"

	"adsbrelay/internal/config"
	"adsbrelay/internal/feed"
	"adsbrelay/internal/logging"
	"adsbrelay/internal/telemetry"
	"adsbrelay/internal/transport"
	"adsbrelay/sink"
	"adsbrelay/sink/kafka"
	"adsbrelay/sink/mqtt"
)

// Bootstrap acquires every resource the relay needs. Any failure here is a
// startup failure; whatever was already opened is released.
func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	// 1. feed
	src, err := feed.Open(ctx, cfg.Feed)
	if err != nil {
		return nil, err
	}
	logging.L().Info("feed connected", "address", cfg.Feed.Address)

	// 2. sink, selected once
	s, err := OpenSink(cfg)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("sink: %w", err)
	}

	e := newEngine(cfg, s, src)

	// 3. metrics
	if cfg.MetricsPort > 0 {
		reg := telemetry.NewRegistry()
		e.metrics = telemetry.NewMetrics(reg)
		if e.metricsSrv, err = telemetry.Expose(cfg.MetricsPort, reg); err != nil {
			e.close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	// 4. health
	if cfg.GRPCPort > 0 {
		if e.transport, err = transport.StartServer(cfg.GRPCPort); err != nil {
			e.close()
			return nil, fmt.Errorf("transport: %w", err)
		}
	}
	return e, nil
}

// OpenSink builds the sink named by cfg.Sink.
func OpenSink(cfg config.Config) (sink.Sink, error) {
	kind, err := sink.ParseKind(string(cfg.Sink))
	if err != nil {
		return nil, err
	}
	if kind == sink.KindKafka {
		p, err := kafka.New(cfg.Kafka, cfg.PayloadFormat)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := mqtt.New(cfg.MQTT, cfg.PayloadFormat)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newEngine(cfg config.Config, s sink.Sink, src io.ReadCloser) *Engine {
	return &Engine{cfg: cfg, sink: s, src: src}
}
