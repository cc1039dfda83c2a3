package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adsbrelay/internal/logging"
)

const namespace = "adsbrelay"

// Metrics are the relay's pipeline counters.
type Metrics struct {
	Lines          prometheus.Counter
	Rejected       prometheus.Counter
	Published      *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	PublishSeconds *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lines: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lines_total",
			Help: "Lines read from the feed.",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_total",
			Help: "Lines that did not decode to a MSG record.",
		}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "published_total",
			Help: "Records acknowledged by the sink.",
		}, []string{"sink"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_failures_total",
			Help: "Records the sink failed to publish.",
		}, []string{"sink"}),
		PublishSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "publish_seconds",
			Help:    "Time from publish to broker acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"sink"}),
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

type Server struct {
	srv *http.Server
	lis net.Listener
}

// Expose serves /metrics for g on port. Port 0 picks a free port.
func Expose(port int, g prometheus.Gatherer) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis: lis,
	}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics server stopped", "err", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }
