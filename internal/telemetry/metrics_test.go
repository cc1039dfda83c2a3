package telemetry

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestExpose_ServesPipelineCounters(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.Lines.Add(3)
	m.Rejected.Inc()
	m.Published.WithLabelValues("mqtt").Add(2)
	m.PublishSeconds.WithLabelValues("mqtt").Observe(0.002)

	s, err := Expose(0, reg)
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	defer s.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", s.Addr().(*net.TCPAddr).Port))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"adsbrelay_lines_total 3",
		"adsbrelay_rejected_total 1",
		`adsbrelay_published_total{sink="mqtt"} 2`,
		`adsbrelay_publish_seconds_count{sink="mqtt"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
