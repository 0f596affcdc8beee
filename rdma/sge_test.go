package rdma

import (
	"testing"
	"unsafe"

	"github.com/rfaas/executor-manager/internal/verbs"
)

// testBuffer builds a Buffer over plain Go memory, pre-registered with a
// fixed test lkey/rkey so the pure-Go SGE/Descriptor logic can be exercised
// without a real cgo registration against hardware.
func testBuffer(size uintptr) *Buffer {
	backing := make([]byte, size)
	var ptr unsafe.Pointer
	if size > 0 {
		ptr = unsafe.Pointer(&backing[0])
	}
	return &Buffer{ptr: ptr, size: size, mr: &verbs.MemoryRegion{}, lkey: 0xbeef, rkey: 0xcafe}
}

func TestBufferSGECoversFullRange(t *testing.T) {
	b := testBuffer(128)
	sge, err := b.SGE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sge.Addr != b.Addr() || sge.Length != 128 || sge.LKey != 0xbeef {
		t.Fatalf("unexpected sge: %+v", sge)
	}
}

func TestBufferLKeyRKeyFailBeforeRegister(t *testing.T) {
	b := &Buffer{ptr: unsafe.Pointer(new(byte)), size: 1}
	if _, err := b.LKey(); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := b.RKey(); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := b.Descriptor(); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestBufferDescriptorAfterRegister(t *testing.T) {
	b := testBuffer(64)
	desc, err := b.Descriptor()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Addr != b.Addr() || desc.RKey != 0xcafe || desc.Size != 64 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
}

func TestBufferSGERangeWithinBounds(t *testing.T) {
	b := testBuffer(128)
	sge, err := b.SGERange(16, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sge.Addr != b.Addr()+16 || sge.Length != 32 {
		t.Fatalf("unexpected sge: %+v", sge)
	}
}

func TestBufferSGERangeExceedsBounds(t *testing.T) {
	b := testBuffer(128)
	if _, err := b.SGERange(100, 64); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestToVerbsSGEsEmpty(t *testing.T) {
	if got := toVerbsSGEs(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestToVerbsSGEsPreservesFields(t *testing.T) {
	in := []ScatterGatherElement{{Addr: 1, Length: 2, LKey: 3}}
	out := toVerbsSGEs(in)
	if len(out) != 1 || out[0].Addr != 1 || out[0].Length != 2 || out[0].LKey != 3 {
		t.Fatalf("unexpected conversion: %+v", out)
	}
}
