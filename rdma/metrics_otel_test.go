package rdma

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetricsRecordsWorkRequestsAndConnections(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	m.WRCompleted("send", "client")
	m.WRCompleted("send", "client")
	m.WRFailed("write", "server")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("collect: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range data.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
		}
	}
	for _, name := range []string{"rdma.work_requests.completed", "rdma.work_requests.failed", "rdma.connections.active"} {
		if !found[name] {
			t.Fatalf("expected instrument %q to have been collected, got %v", name, found)
		}
	}
}
