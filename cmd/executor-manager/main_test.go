package main

import (
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewLoggerProductionByDefault(t *testing.T) {
	log, err := newLogger(false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if log == nil {
		t.Fatalf("expected a non-nil logger")
	}
	_ = log.Sync()
}

func TestNewLoggerDevelopmentWhenVerbose(t *testing.T) {
	log, err := newLogger(true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if log == nil {
		t.Fatalf("expected a non-nil logger")
	}
	_ = log.Sync()
}

func TestServeMetricsExposesHandlerAndStops(t *testing.T) {
	stop := serveMetrics(zap.NewNop())
	defer stop()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://127.0.0.1:9400/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
