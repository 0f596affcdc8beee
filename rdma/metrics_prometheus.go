package rdma

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics counts work requests and tracks active connections using
// Prometheus collectors.
type PrometheusMetrics struct {
	wrCompleted        *prometheus.CounterVec
	wrFailed           *prometheus.CounterVec
	activeConnections  prometheus.Gauge
}

const (
	labelOpcode = "opcode"
	labelSide   = "side"
)

// NewPrometheusMetrics constructs a PrometheusMetrics backed by the given
// registerer, defaulting to the global registry.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		wrCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rdma_work_requests_completed_total",
			Help:        "Number of successful work completions observed by opcode and queue side",
			ConstLabels: opts.ConstLabels,
		}, []string{labelOpcode, labelSide}),
		wrFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rdma_work_requests_failed_total",
			Help:        "Number of errored work completions observed by opcode and queue side",
			ConstLabels: opts.ConstLabels,
		}, []string{labelOpcode, labelSide}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rdma_active_connections",
			Help:        "Number of established connections currently open",
			ConstLabels: opts.ConstLabels,
		}),
	}

	var err error
	if p.wrCompleted, err = registerCounterVec(reg, p.wrCompleted); err != nil {
		return nil, err
	}
	if p.wrFailed, err = registerCounterVec(reg, p.wrFailed); err != nil {
		return nil, err
	}
	if err := reg.Register(p.activeConnections); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				p.activeConnections = existing
			}
		} else {
			return nil, err
		}
	}

	return p, nil
}

// WRCompleted records a successful completion for opcode on the given queue side.
func (p *PrometheusMetrics) WRCompleted(opcode, side string) {
	p.wrCompleted.WithLabelValues(opcode, side).Inc()
}

// WRFailed records an errored completion for opcode on the given queue side.
func (p *PrometheusMetrics) WRFailed(opcode, side string) {
	p.wrFailed.WithLabelValues(opcode, side).Inc()
}

// ConnectionOpened increments the active-connection gauge.
func (p *PrometheusMetrics) ConnectionOpened() {
	p.activeConnections.Inc()
}

// ConnectionClosed decrements the active-connection gauge.
func (p *PrometheusMetrics) ConnectionClosed() {
	p.activeConnections.Dec()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}
