package rdma

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsCountsByOpcodeAndSide(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	m.WRCompleted("send", "client")
	m.WRCompleted("send", "client")
	m.WRFailed("write", "server")

	if got := testutil.ToFloat64(m.wrCompleted.WithLabelValues("send", "client")); got != 2 {
		t.Fatalf("expected 2 completed sends, got %v", got)
	}
	if got := testutil.ToFloat64(m.wrFailed.WithLabelValues("write", "server")); got != 1 {
		t.Fatalf("expected 1 failed write, got %v", got)
	}
}

func TestPrometheusMetricsActiveConnectionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.activeConnections); got != 1 {
		t.Fatalf("expected 1 active connection, got %v", got)
	}
}

func TestPrometheusMetricsSecondRegistrationReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	second, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second registration should reuse the existing collectors, got error: %v", err)
	}

	first.WRCompleted("recv", "client")
	if got := testutil.ToFloat64(second.wrCompleted.WithLabelValues("recv", "client")); got != 1 {
		t.Fatalf("expected the second handle to observe the first's increment, got %v", got)
	}
}
