//go:build cgo

package verbs

import "unsafe"

/*
#cgo LDFLAGS: -libverbs
#include <infiniband/verbs.h>
*/
import "C"

// MRAccess mirrors the subset of ibv_access_flags the data model exposes.
type MRAccess int

const (
	AccessLocalWrite  MRAccess = C.IBV_ACCESS_LOCAL_WRITE
	AccessRemoteWrite MRAccess = C.IBV_ACCESS_REMOTE_WRITE
	AccessRemoteRead  MRAccess = C.IBV_ACCESS_REMOTE_READ
	AccessRemoteAtomic MRAccess = C.IBV_ACCESS_REMOTE_ATOMIC
)

// MemoryRegion wraps a registered ibv_mr.
type MemoryRegion struct {
	ptr *C.struct_ibv_mr
}

// RegisterMemory registers the byte range [ptr, ptr+length) with the
// protection domain under the given access flags.
func RegisterMemory(pd *ProtectionDomain, ptr unsafe.Pointer, length uintptr, access MRAccess) (*MemoryRegion, error) {
	if pd == nil || pd.ptr == nil {
		return nil, ErrInval.WithOp("ibv_reg_mr")
	}
	if ptr == nil || length == 0 {
		return nil, ErrInval.WithOp("ibv_reg_mr")
	}
	mr := C.ibv_reg_mr(pd.ptr, ptr, C.size_t(length), C.int(access))
	if mr == nil {
		return nil, ErrNoMemory.WithOp("ibv_reg_mr")
	}
	return &MemoryRegion{ptr: mr}, nil
}

// Deregister releases the memory registration. Does not unmap the backing
// memory; callers unmap separately via FreePinned.
func (m *MemoryRegion) Deregister() error {
	if m == nil || m.ptr == nil {
		return nil
	}
	ret := C.ibv_dereg_mr(m.ptr)
	m.ptr = nil
	return ErrorFromReturn(int(ret), 0, "ibv_dereg_mr")
}

// LKey returns the local access key.
func (m *MemoryRegion) LKey() uint32 {
	if m == nil || m.ptr == nil {
		return 0
	}
	return uint32(m.ptr.lkey)
}

// RKey returns the remote access key.
func (m *MemoryRegion) RKey() uint32 {
	if m == nil || m.ptr == nil {
		return 0
	}
	return uint32(m.ptr.rkey)
}
