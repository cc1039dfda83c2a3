package engine

import (
	"context"
	"io"
	"time"

	"adsbrelay/internal/config"
	"adsbrelay/internal/logging"
	"adsbrelay/internal/pipeline"
	"adsbrelay/internal/telemetry"
	"adsbrelay/internal/transport"
	"adsbrelay/sink"
)

const shutdownTimeout = 5 * time.Second

type Engine struct {
	cfg  config.Config
	sink sink.Sink
	src  io.ReadCloser

	metrics    *telemetry.Metrics
	metricsSrv *telemetry.Server
	transport  *transport.Server
}

// Run drives the feed into the sink until the feed ends or ctx is cancelled,
// then releases everything. Cancellation is a clean stop and returns nil;
// a feed read error is returned.
func (e *Engine) Run(ctx context.Context) (pipeline.Stats, error) {
	defer e.close()

	if e.transport != nil {
		go func() {
			if err := e.transport.Serve(); err != nil {
				logging.L().Error("grpc server stopped", "err", err)
			}
		}()
		e.transport.SetServing(true)
	}

	// A blocked read only returns once the source is closed.
	stop := context.AfterFunc(ctx, func() { _ = e.src.Close() })
	defer stop()

	opts := []pipeline.Option{pipeline.WithReportInterval(e.cfg.ReportInterval)}
	if e.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(e.metrics))
	}
	st, err := pipeline.NewDriver(e.sink, opts...).Run(ctx, e.src)

	if e.transport != nil {
		e.transport.SetServing(false)
	}
	if ctx.Err() != nil {
		logging.L().Info("shutdown requested", "cause", context.Cause(ctx))
		return st, nil
	}
	return st, err
}

func (e *Engine) close() {
	if err := e.sink.Close(); err != nil {
		logging.L().Warn("sink close", "err", err)
	}
	_ = e.src.Close()
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = e.metricsSrv.Stop(ctx)
	}
	if e.transport != nil {
		e.transport.Stop()
	}
}
