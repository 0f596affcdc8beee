package rdma

import (
	"testing"

	"github.com/rfaas/executor-manager/internal/verbs"
)

func TestEndpointConfigDefaults(t *testing.T) {
	cfg := EndpointConfig{}.withDefaults()
	if cfg.SendDepth != 128 || cfg.RecvDepth != 128 {
		t.Fatalf("expected default depths of 128, got send=%d recv=%d", cfg.SendDepth, cfg.RecvDepth)
	}
	if cfg.MaxSendSGE != 4 || cfg.MaxRecvSGE != 4 {
		t.Fatalf("expected default SGE limits of 4, got send=%d recv=%d", cfg.MaxSendSGE, cfg.MaxRecvSGE)
	}
	if cfg.CQDepth != 256 {
		t.Fatalf("expected default CQ depth 256, got %d", cfg.CQDepth)
	}
	if cfg.ResolveTimeoutMs != 2000 {
		t.Fatalf("expected default resolve timeout 2000ms, got %d", cfg.ResolveTimeoutMs)
	}
}

func TestEndpointConfigDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := EndpointConfig{SendDepth: 32, CQDepth: 64}.withDefaults()
	if cfg.SendDepth != 32 {
		t.Fatalf("expected explicit SendDepth to survive, got %d", cfg.SendDepth)
	}
	if cfg.CQDepth != 64 {
		t.Fatalf("expected explicit CQDepth to survive, got %d", cfg.CQDepth)
	}
	if cfg.RecvDepth != 128 {
		t.Fatalf("expected RecvDepth to still take its default, got %d", cfg.RecvDepth)
	}
}

func TestEndpointConfigQPAttrMapping(t *testing.T) {
	cfg := EndpointConfig{SendDepth: 16, RecvDepth: 32, MaxSendSGE: 2, MaxRecvSGE: 3, MaxInlineData: 64}
	attr := cfg.qpAttr()
	want := verbs.QPInitAttr{SendDepth: 16, RecvDepth: 32, MaxSendSGE: 2, MaxRecvSGE: 3, MaxInlineData: 64}
	if attr != want {
		t.Fatalf("qpAttr mapping mismatch: got %+v, want %+v", attr, want)
	}
}

// requireRDMADevice skips the calling test when no RDMA device is present,
// mirroring the hardware-dependent tests the teacher skips in the same way.
func requireRDMADevice(t *testing.T) string {
	t.Helper()
	names, err := verbs.DeviceNames()
	if err != nil || len(names) == 0 {
		t.Skip("no RDMA device available")
	}
	return names[0]
}

func TestActiveEndpointAllocateAgainstRealDevice(t *testing.T) {
	requireRDMADevice(t)
	ep := NewActiveEndpoint(EndpointConfig{}, nil)
	if err := ep.Allocate("0.0.0.0", 0); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer ep.Destroy()
	if ep.ProtectionDomain() == nil {
		t.Fatalf("expected a protection domain after allocate")
	}
}

func TestPassiveEndpointAllocateAgainstRealDevice(t *testing.T) {
	requireRDMADevice(t)
	ep := NewPassiveEndpoint(EndpointConfig{}, nil)
	if err := ep.Allocate("0.0.0.0", 0, 16); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer ep.Destroy()
	if ep.ProtectionDomain() == nil {
		t.Fatalf("expected a protection domain after allocate")
	}
}
