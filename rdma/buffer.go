package rdma

import (
	"unsafe"

	"github.com/rfaas/executor-manager/internal/verbs"
)

// Buffer is a page-aligned, pinned byte range. Allocation and registration
// are separate lifecycle steps: AllocateBuffer/WrapBuffer only obtain the
// memory, and Register must be called before the buffer's keys are usable
// in a work request.
type Buffer struct {
	ptr   unsafe.Pointer
	size  uintptr
	owned bool

	mr           *verbs.MemoryRegion
	registeredPD *verbs.ProtectionDomain
	access       verbs.MRAccess
	lkey, rkey   uint32
}

// AllocateBuffer maps size bytes of pinned memory. The returned Buffer owns
// the mapping and must be closed with Close to release it (and, once
// registered, its memory region). Register must be called separately
// before the buffer can be used in a work request.
func AllocateBuffer(size uintptr) (*Buffer, error) {
	if size == 0 {
		return nil, ErrBufferTooSmall
	}
	ptr, err := verbs.AllocPinned(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{ptr: ptr, size: size, owned: true}, nil
}

// WrapBuffer wraps an already-allocated range without taking ownership of
// its underlying allocation; Close deregisters the MR (if any) but does not
// unmap ptr. Used when the caller supplies its own memory (e.g. memory
// owned by another subsystem). Register must be called separately before
// the buffer can be used in a work request.
func WrapBuffer(ptr unsafe.Pointer, size uintptr) (*Buffer, error) {
	if size == 0 || ptr == nil {
		return nil, ErrBufferTooSmall
	}
	return &Buffer{ptr: ptr, size: size, owned: false}, nil
}

// Register registers the buffer's memory with pd under access, obtaining
// the lkey/rkey pair LKey/RKey/Descriptor expose. Calling Register again
// with the same (pd, access) is a no-op; calling it again with a different
// pd or access fails with ErrAlreadyRegistered, since re-registering would
// silently invalidate any rkey a peer already holds.
func (b *Buffer) Register(pd *verbs.ProtectionDomain, access verbs.MRAccess) error {
	if b.mr != nil {
		if b.registeredPD == pd && b.access == access {
			return nil
		}
		return ErrAlreadyRegistered
	}
	mr, err := verbs.RegisterMemory(pd, b.ptr, b.size, access)
	if err != nil {
		return err
	}
	b.mr = mr
	b.registeredPD = pd
	b.access = access
	b.lkey = mr.LKey()
	b.rkey = mr.RKey()
	return nil
}

// Registered reports whether Register has succeeded on this buffer.
func (b *Buffer) Registered() bool {
	return b.mr != nil
}

// Close deregisters the memory region (if registered) and, if this Buffer
// owns its mapping, unmaps the backing memory.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	var err error
	if b.mr != nil {
		err = b.mr.Deregister()
		b.mr = nil
	}
	if b.owned {
		verbs.FreePinned(b.ptr, b.size)
	}
	return err
}

// Pointer returns the base address of the buffer.
func (b *Buffer) Pointer() unsafe.Pointer { return b.ptr }

// Size returns the buffer's length in bytes.
func (b *Buffer) Size() uintptr { return b.size }

// LKey returns the local access key for building SGEs. Fails with
// ErrNotRegistered before Register has succeeded.
func (b *Buffer) LKey() (uint32, error) {
	if b.mr == nil {
		return 0, ErrNotRegistered
	}
	return b.lkey, nil
}

// RKey returns the remote access key for building a RemoteBufferDescriptor.
// Fails with ErrNotRegistered before Register has succeeded.
func (b *Buffer) RKey() (uint32, error) {
	if b.mr == nil {
		return 0, ErrNotRegistered
	}
	return b.rkey, nil
}

// Addr returns the buffer's base address as a wire-format uint64.
func (b *Buffer) Addr() uint64 {
	return uint64(uintptr(b.ptr))
}

// Descriptor returns the RemoteBufferDescriptor a peer needs to target this
// buffer with a one-sided write. Fails with ErrNotRegistered before
// Register has succeeded.
func (b *Buffer) Descriptor() (RemoteBufferDescriptor, error) {
	rkey, err := b.RKey()
	if err != nil {
		return RemoteBufferDescriptor{}, err
	}
	return RemoteBufferDescriptor{
		Addr: b.Addr(),
		RKey: rkey,
		Size: uint32(b.size),
	}, nil
}

// Bytes exposes the buffer's contents as a Go slice, for reading and
// writing payload without leaving Go. The slice is only valid while the
// Buffer remains open.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.ptr == nil || b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), int(b.size))
}
