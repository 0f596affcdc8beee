//go:build cgo

package verbs

import "unsafe"

/*
#cgo LDFLAGS: -libverbs -lrdmacm
#include <stdlib.h>
#include <infiniband/verbs.h>
*/
import "C"

// DeviceContext wraps an opened ibv_context for a single RDMA device.
type DeviceContext struct {
	ptr *C.struct_ibv_context
}

// ProtectionDomain wraps an ibv_pd, shared by every MR and QP of one endpoint.
type ProtectionDomain struct {
	ptr *C.struct_ibv_pd
}

// DeviceNames lists the names of every RDMA device visible to the local
// verbs provider. Returns ErrNoDevice if none are found.
func DeviceNames() ([]string, error) {
	var count C.int
	list := C.ibv_get_device_list(&count)
	if list == nil || count == 0 {
		return nil, ErrNoDevice.WithOp("ibv_get_device_list")
	}
	defer C.ibv_free_device_list(list)

	names := make([]string, 0, int(count))
	devices := unsafe.Slice(list, int(count))
	for _, dev := range devices {
		names = append(names, C.GoString(C.ibv_get_device_name(dev)))
	}
	return names, nil
}

// OpenDevice opens the named RDMA device and returns a context usable for
// allocating a protection domain. Matches the way rdma_cm implicitly selects
// a device context via address resolution; this entry point exists for the
// executor manager's explicit --device-database driven selection.
func OpenDevice(name string) (*DeviceContext, error) {
	var count C.int
	list := C.ibv_get_device_list(&count)
	if list == nil || count == 0 {
		return nil, ErrNoDevice.WithOp("ibv_get_device_list")
	}
	defer C.ibv_free_device_list(list)

	devices := unsafe.Slice(list, int(count))
	for _, dev := range devices {
		if C.GoString(C.ibv_get_device_name(dev)) != name {
			continue
		}
		ctx := C.ibv_open_device(dev)
		if ctx == nil {
			return nil, ErrNoDevice.WithOp("ibv_open_device")
		}
		return &DeviceContext{ptr: ctx}, nil
	}
	return nil, ErrNoDevice.WithOp("ibv_get_device_list")
}

// Close releases the device context.
func (d *DeviceContext) Close() error {
	if d == nil || d.ptr == nil {
		return nil
	}
	ret := C.ibv_close_device(d.ptr)
	d.ptr = nil
	return ErrorFromReturn(int(ret), 0, "ibv_close_device")
}

// AllocPD allocates a protection domain on the device context.
func (d *DeviceContext) AllocPD() (*ProtectionDomain, error) {
	if d == nil || d.ptr == nil {
		return nil, ErrInval.WithOp("ibv_alloc_pd")
	}
	pd := C.ibv_alloc_pd(d.ptr)
	if pd == nil {
		return nil, ErrNoMemory.WithOp("ibv_alloc_pd")
	}
	return &ProtectionDomain{ptr: pd}, nil
}

// Dealloc releases the protection domain. Every MR and QP referencing it
// must already be destroyed.
func (p *ProtectionDomain) Dealloc() error {
	if p == nil || p.ptr == nil {
		return nil
	}
	ret := C.ibv_dealloc_pd(p.ptr)
	p.ptr = nil
	return ErrorFromReturn(int(ret), 0, "ibv_dealloc_pd")
}

// Pointer exposes the raw ibv_pd pointer for use by the qp/mr layers within
// this package.
func (p *ProtectionDomain) Pointer() unsafe.Pointer {
	if p == nil {
		return nil
	}
	return unsafe.Pointer(p.ptr)
}
