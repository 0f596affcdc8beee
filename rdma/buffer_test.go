package rdma

import (
	"testing"
	"unsafe"

	"github.com/rfaas/executor-manager/internal/verbs"
)

func TestAllocateBufferRejectsZeroSize(t *testing.T) {
	if _, err := AllocateBuffer(0); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestWrapBufferRejectsNilOrZero(t *testing.T) {
	if _, err := WrapBuffer(nil, 16); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall for nil ptr, got %v", err)
	}
	if _, err := WrapBuffer(unsafe.Pointer(new(byte)), 0); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall for zero size, got %v", err)
	}
}

func TestAllocateBufferUnregisteredByDefault(t *testing.T) {
	buf, err := AllocateBuffer(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer buf.Close()
	if buf.Registered() {
		t.Fatalf("expected a freshly allocated buffer to be unregistered")
	}
	if _, err := buf.LKey(); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

// TestRegisterIdempotentUnderSameArgs exercises the allocate/register split
// required by the two-phase lifecycle: Register is a no-op when called again
// with the same (pd, access), without needing a real pd to reach that check.
func TestRegisterIdempotentUnderSameArgs(t *testing.T) {
	pd := &verbs.ProtectionDomain{}
	access := verbs.AccessLocalWrite
	buf := &Buffer{
		ptr:          unsafe.Pointer(new(byte)),
		size:         1,
		mr:           &verbs.MemoryRegion{},
		registeredPD: pd,
		access:       access,
		lkey:         1,
		rkey:         2,
	}
	if err := buf.Register(pd, access); err != nil {
		t.Fatalf("expected re-registering with identical (pd, access) to be a no-op, got %v", err)
	}
	if !buf.Registered() {
		t.Fatalf("expected buffer to remain registered")
	}
}

func TestRegisterAgainWithDifferentAccessFails(t *testing.T) {
	pd := &verbs.ProtectionDomain{}
	buf := &Buffer{
		ptr:          unsafe.Pointer(new(byte)),
		size:         1,
		mr:           &verbs.MemoryRegion{},
		registeredPD: pd,
		access:       verbs.AccessLocalWrite,
		lkey:         1,
		rkey:         2,
	}
	if err := buf.Register(pd, verbs.AccessRemoteWrite); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterAgainWithDifferentPDFails(t *testing.T) {
	buf := &Buffer{
		ptr:          unsafe.Pointer(new(byte)),
		size:         1,
		mr:           &verbs.MemoryRegion{},
		registeredPD: &verbs.ProtectionDomain{},
		access:       verbs.AccessLocalWrite,
		lkey:         1,
		rkey:         2,
	}
	if err := buf.Register(&verbs.ProtectionDomain{}, verbs.AccessLocalWrite); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterRejectsNilProtectionDomain(t *testing.T) {
	buf, err := AllocateBuffer(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer buf.Close()
	if err := buf.Register(nil, verbs.AccessLocalWrite); err == nil {
		t.Fatalf("expected an error registering against a nil protection domain")
	}
	if buf.Registered() {
		t.Fatalf("expected the buffer to remain unregistered after a failed Register")
	}
}

func TestCloseUnregisteredBufferIsNoop(t *testing.T) {
	buf, err := AllocateBuffer(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("unexpected error closing an unregistered buffer: %v", err)
	}
}

// requireRDMADevice skips the calling test when no RDMA device is present.
func requireRDMADeviceForBuffer(t *testing.T) string {
	t.Helper()
	names, err := verbs.DeviceNames()
	if err != nil || len(names) == 0 {
		t.Skip("no RDMA device available")
	}
	return names[0]
}

func TestAllocateRegisterAgainstRealDevice(t *testing.T) {
	name := requireRDMADeviceForBuffer(t)
	ctx, err := verbs.OpenDevice(name)
	if err != nil {
		t.Fatalf("open device: %v", err)
	}
	defer ctx.Close()
	pd, err := ctx.AllocPD()
	if err != nil {
		t.Fatalf("alloc pd: %v", err)
	}
	defer pd.Dealloc()

	buf, err := AllocateBuffer(4096)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer buf.Close()

	access := verbs.AccessLocalWrite | verbs.AccessRemoteWrite
	if err := buf.Register(pd, access); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := buf.Register(pd, access); err != nil {
		t.Fatalf("expected idempotent re-register to succeed, got %v", err)
	}
	if _, err := buf.LKey(); err != nil {
		t.Fatalf("unexpected error after registration: %v", err)
	}
	if _, err := buf.Descriptor(); err != nil {
		t.Fatalf("unexpected error building descriptor after registration: %v", err)
	}
}
