package rdma

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

// OTelMetrics emits work-request and connection measurements through an
// OpenTelemetry meter.
type OTelMetrics struct {
	meter       metric.Meter
	wrCompleted metric.Int64Counter
	wrFailed    metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewOTelMetrics constructs an OTelMetrics using opts.Meter, or a meter
// obtained from opts.MeterProvider (or the global provider) otherwise.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rfaas/executor-manager/rdma"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	wrCompleted, err := meter.Int64Counter("rdma.work_requests.completed")
	if err != nil {
		return nil, err
	}
	wrFailed, err := meter.Int64Counter("rdma.work_requests.failed")
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("rdma.connections.active")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{meter: meter, wrCompleted: wrCompleted, wrFailed: wrFailed, active: active}, nil
}

// WRCompleted records a successful completion for opcode on the given queue side.
func (o *OTelMetrics) WRCompleted(opcode, side string) {
	o.wrCompleted.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(labelOpcode, opcode), attribute.String(labelSide, side)))
}

// WRFailed records an errored completion for opcode on the given queue side.
func (o *OTelMetrics) WRFailed(opcode, side string) {
	o.wrFailed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(labelOpcode, opcode), attribute.String(labelSide, side)))
}

// ConnectionOpened increments the active-connection counter.
func (o *OTelMetrics) ConnectionOpened() {
	o.active.Add(context.Background(), 1)
}

// ConnectionClosed decrements the active-connection counter.
func (o *OTelMetrics) ConnectionClosed() {
	o.active.Add(context.Background(), -1)
}
