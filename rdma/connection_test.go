package rdma

import "testing"

func TestAllocateIDExplicit(t *testing.T) {
	c := &Connection{}
	got := c.allocateID(42)
	if got != 42 {
		t.Fatalf("expected explicit id 42, got %d", got)
	}
	if c.reqCounter != 0 {
		t.Fatalf("explicit id must not advance the counter, got %d", c.reqCounter)
	}
}

func TestAllocateIDAutoIsMonotonic(t *testing.T) {
	c := &Connection{}
	first := c.allocateID(-1)
	second := c.allocateID(-1)
	if second <= first {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", first, second)
	}
}

func TestShuttingDownReflectsRequestShutdown(t *testing.T) {
	globalClosing.Store(false)
	if ShuttingDown() {
		t.Fatalf("expected not shutting down initially")
	}
	RequestShutdown()
	if !ShuttingDown() {
		t.Fatalf("expected shutting down after RequestShutdown")
	}
	globalClosing.Store(false)
}

func TestInliningTogglesSendFlag(t *testing.T) {
	c := &Connection{}
	if c.sendFlagsInline {
		t.Fatalf("expected inline disabled by default")
	}
	c.Inlining(true)
	if !c.sendFlagsInline {
		t.Fatalf("expected inline enabled after Inlining(true)")
	}
	c.Inlining(false)
	if c.sendFlagsInline {
		t.Fatalf("expected inline disabled after Inlining(false)")
	}
}
