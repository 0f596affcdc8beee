package manager

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PrometheusManagerMetrics tracks active executors by sandbox kind and the
// time spent spawning them.
type PrometheusManagerMetrics struct {
	activeExecutors *prometheus.GaugeVec
	spawnLatency    *prometheus.HistogramVec
}

// NewPrometheusManagerMetrics registers the manager's gauges and histogram
// against reg, defaulting to the global registry.
func NewPrometheusManagerMetrics(reg prometheus.Registerer) (*PrometheusManagerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusManagerMetrics{
		activeExecutors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "executor_manager_active_executors",
			Help: "Number of executor processes currently tracked, by sandbox kind",
		}, []string{"kind"}),
		spawnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "executor_manager_spawn_latency_seconds",
			Help:    "Latency of spawning an executor process, by sandbox kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if err := reg.Register(m.activeExecutors); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.activeExecutors = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(m.spawnLatency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.spawnLatency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusManagerMetrics) ExecutorSpawned(kind SandboxKind, latency time.Duration) {
	m.activeExecutors.WithLabelValues(string(kind)).Inc()
	m.spawnLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

func (m *PrometheusManagerMetrics) ExecutorReaped(kind SandboxKind) {
	m.activeExecutors.WithLabelValues(string(kind)).Dec()
}

// OTelManagerMetrics mirrors PrometheusManagerMetrics over an OpenTelemetry
// meter. Like rdma.NewOTelMetrics, it falls back to the global meter
// provider, so the two share one pipeline when neither is given a provider.
type OTelManagerMetrics struct {
	active       metric.Int64UpDownCounter
	spawnLatency metric.Float64Histogram
}

// NewOTelManagerMetrics constructs instruments against provider, or the
// global meter provider when nil.
func NewOTelManagerMetrics(provider metric.MeterProvider) (*OTelManagerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/rfaas/executor-manager/manager")

	active, err := meter.Int64UpDownCounter("executor_manager.active_executors")
	if err != nil {
		return nil, err
	}
	spawnLatency, err := meter.Float64Histogram("executor_manager.spawn_latency_seconds")
	if err != nil {
		return nil, err
	}
	return &OTelManagerMetrics{active: active, spawnLatency: spawnLatency}, nil
}

func (m *OTelManagerMetrics) ExecutorSpawned(kind SandboxKind, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	m.active.Add(context.Background(), 1, attrs)
	m.spawnLatency.Record(context.Background(), latency.Seconds(), attrs)
}

func (m *OTelManagerMetrics) ExecutorReaped(kind SandboxKind) {
	m.active.Add(context.Background(), -1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
