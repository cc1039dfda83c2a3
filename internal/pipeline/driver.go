package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"adsbrelay/internal/adsb"
	"adsbrelay/internal/logging"
	"adsbrelay/internal/telemetry"
	"adsbrelay/sink"
)

type State int32

const (
	Running State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return "terminated"
	}
}

// Stats counts what happened to the lines of one run.
type Stats struct {
	Lines     uint64
	Rejected  uint64
	Published uint64
	Failed    uint64
}

const snippetLen = 100

// Driver reads lines from a feed, decodes them and publishes each record to
// one sink, strictly in order and one at a time.
//
// Bad lines and failed publishes are logged and counted; they never stop the
// loop. Only the end of the feed, a read error or ctx ends a run.
type Driver struct {
	sink        sink.Sink
	metrics     *telemetry.Metrics
	reportEvery time.Duration

	state atomic.Int32
}

type Option func(*Driver)

// WithMetrics mirrors Stats into Prometheus counters.
func WithMetrics(m *telemetry.Metrics) Option { return func(d *Driver) { d.metrics = m } }

// WithReportInterval logs a throughput line at most every d. 0 disables it.
func WithReportInterval(every time.Duration) Option {
	return func(d *Driver) { d.reportEvery = every }
}

func NewDriver(s sink.Sink, opts ...Option) *Driver {
	d := &Driver{sink: s}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) State() State { return State(d.state.Load()) }

// Run consumes r until EOF, a read error or ctx is done. EOF returns a nil
// error. A blocked read is not interrupted by ctx; close the source for that.
func (d *Driver) Run(ctx context.Context, r io.Reader) (Stats, error) {
	d.state.Store(int32(Running))
	defer d.state.Store(int32(Terminated))

	var (
		st         Stats
		br         = bufio.NewReader(r)
		start      = time.Now()
		lastReport = start
		log        = logging.L().With("sink", d.sink.Name())
	)
	for {
		if err := ctx.Err(); err != nil {
			d.finish(log, st, start)
			return st, err
		}

		line, rerr := br.ReadString('\n')
		if line != "" {
			d.handle(ctx, log, strings.TrimRight(line, "\r\n"), &st)
		}
		if rerr != nil {
			d.finish(log, st, start)
			if errors.Is(rerr, io.EOF) {
				return st, nil
			}
			return st, fmt.Errorf("read feed: %w", rerr)
		}

		if d.reportEvery > 0 && time.Since(lastReport) >= d.reportEvery {
			lastReport = time.Now()
			report(log, "relay progress", st, lastReport.Sub(start))
		}
	}
}

func (d *Driver) handle(ctx context.Context, log *slog.Logger, line string, st *Stats) {
	st.Lines++
	if d.metrics != nil {
		d.metrics.Lines.Inc()
	}

	rec, err := adsb.Decode(line)
	if err != nil {
		st.Rejected++
		if d.metrics != nil {
			d.metrics.Rejected.Inc()
		}
		log.Debug("line rejected", "err", err, "line", snippet(line))
		return
	}

	began := time.Now()
	out := d.sink.Publish(ctx, rec)
	if d.metrics != nil {
		d.metrics.PublishSeconds.WithLabelValues(d.sink.Name()).Observe(time.Since(began).Seconds())
	}
	if !out.OK() {
		st.Failed++
		if d.metrics != nil {
			d.metrics.Failures.WithLabelValues(d.sink.Name()).Inc()
		}
		log.Warn("publish failed", "destination", out.Destination, "hex_ident", rec.HexIdent, "err", out.Err)
		return
	}
	st.Published++
	if d.metrics != nil {
		d.metrics.Published.WithLabelValues(d.sink.Name()).Inc()
	}
	log.Debug("published", "destination", out.Destination)
}

func (d *Driver) finish(log *slog.Logger, st Stats, start time.Time) {
	d.state.Store(int32(Draining))
	report(log, "all messages processed", st, time.Since(start))
}

func report(log *slog.Logger, msg string, st Stats, elapsed time.Duration) {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(st.Lines) / secs
	}
	log.Info(msg,
		"lines", st.Lines,
		"published", st.Published,
		"failed", st.Failed,
		"rejected", st.Rejected,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"lines_per_sec", fmt.Sprintf("%.1f", rate))
}

func snippet(s string) string {
	if len(s) > snippetLen {
		return s[:snippetLen]
	}
	return s
}
