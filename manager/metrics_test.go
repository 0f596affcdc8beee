package manager

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusManagerMetricsTracksActiveExecutors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusManagerMetrics(reg)
	if err != nil {
		t.Fatalf("NewPrometheusManagerMetrics: %v", err)
	}

	m.ExecutorSpawned(SandboxProcess, 5*time.Millisecond)
	m.ExecutorSpawned(SandboxProcess, 10*time.Millisecond)
	m.ExecutorReaped(SandboxProcess)

	if got := testutil.ToFloat64(m.activeExecutors.WithLabelValues(string(SandboxProcess))); got != 1 {
		t.Fatalf("expected 1 active executor after two spawns and one reap, got %v", got)
	}
}

func TestPrometheusManagerMetricsSecondRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusManagerMetrics(reg)
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	second, err := NewPrometheusManagerMetrics(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors, got error: %v", err)
	}

	first.ExecutorSpawned(SandboxDocker, time.Millisecond)
	if got := testutil.ToFloat64(second.activeExecutors.WithLabelValues(string(SandboxDocker))); got != 1 {
		t.Fatalf("expected the second handle to observe the first's increment, got %v", got)
	}
}
