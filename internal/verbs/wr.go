//go:build cgo

package verbs

import "unsafe"

/*
#cgo LDFLAGS: -libverbs
#include <stdlib.h>
#include <string.h>
#include <infiniband/verbs.h>
*/
import "C"

// SGE mirrors ibv_sge: a single (address, length, lkey) entry.
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

func buildCSGEs(sges []SGE) (*C.struct_ibv_sge, C.int) {
	if len(sges) == 0 {
		return nil, 0
	}
	arr := (*C.struct_ibv_sge)(C.malloc(C.size_t(len(sges)) * C.sizeof_struct_ibv_sge))
	view := unsafe.Slice(arr, len(sges))
	for i, s := range sges {
		view[i].addr = C.uint64_t(s.Addr)
		view[i].length = C.uint32_t(s.Length)
		view[i].lkey = C.uint32_t(s.LKey)
	}
	return arr, C.int(len(sges))
}

// degenerate reproduces the spec's zero-byte SGE rule: a single SGE entry
// of length zero is posted as num_sge = 0, not num_sge = 1.
func degenerate(sges []SGE) bool {
	return len(sges) == 1 && sges[0].Length == 0
}

// PostSend posts a Send work request tagged with wrID.
func PostSend(qp *QueuePair, wrID uint64, sges []SGE, signaled, inline bool) error {
	if qp == nil || qp.ptr == nil {
		return ErrInval.WithOp("ibv_post_send")
	}
	var wr C.struct_ibv_send_wr
	C.memset(unsafe.Pointer(&wr), 0, C.sizeof_struct_ibv_send_wr)
	wr.wr_id = C.uint64_t(wrID)
	wr.opcode = C.IBV_WR_SEND
	if signaled {
		wr.send_flags |= C.IBV_SEND_SIGNALED
	}
	if inline {
		wr.send_flags |= C.IBV_SEND_INLINE
	}

	arr, n := buildCSGEs(sges)
	if arr != nil {
		defer C.free(unsafe.Pointer(arr))
	}
	if !degenerate(sges) {
		wr.sg_list = arr
		wr.num_sge = n
	}

	var bad *C.struct_ibv_send_wr
	ret := C.ibv_post_send(qp.ptr, &wr, &bad)
	return ErrorFromReturn(int(ret), int(ret), "ibv_post_send")
}

// RemoteTarget identifies the (addr, rkey) pair a one-sided write targets.
type RemoteTarget struct {
	Addr uint64
	RKey uint32
}

// PostWrite posts an RDMA write, optionally carrying 32 bits of immediate
// data in network byte order.
func PostWrite(qp *QueuePair, wrID uint64, sges []SGE, target RemoteTarget, imm *uint32, signaled, inline bool) error {
	if qp == nil || qp.ptr == nil {
		return ErrInval.WithOp("ibv_post_send")
	}
	var wr C.struct_ibv_send_wr
	C.memset(unsafe.Pointer(&wr), 0, C.sizeof_struct_ibv_send_wr)
	wr.wr_id = C.uint64_t(wrID)
	if imm != nil {
		wr.opcode = C.IBV_WR_RDMA_WRITE_WITH_IMM
		wr.imm_data = C.uint32_t(htonl(*imm))
	} else {
		wr.opcode = C.IBV_WR_RDMA_WRITE
	}
	wr.wr.rdma.remote_addr = C.uint64_t(target.Addr)
	wr.wr.rdma.rkey = C.uint32_t(target.RKey)
	if signaled {
		wr.send_flags |= C.IBV_SEND_SIGNALED
	}
	if inline {
		wr.send_flags |= C.IBV_SEND_INLINE
	}

	arr, n := buildCSGEs(sges)
	if arr != nil {
		defer C.free(unsafe.Pointer(arr))
	}
	if !degenerate(sges) {
		wr.sg_list = arr
		wr.num_sge = n
	}

	var bad *C.struct_ibv_send_wr
	ret := C.ibv_post_send(qp.ptr, &wr, &bad)
	return ErrorFromReturn(int(ret), int(ret), "ibv_post_send")
}

// PostCAS posts an atomic compare-and-swap against an 8-byte-aligned remote
// word. Always signaled, never inline, per the spec.
func PostCAS(qp *QueuePair, wrID uint64, sges []SGE, target RemoteTarget, compare, swap uint64) error {
	if qp == nil || qp.ptr == nil {
		return ErrInval.WithOp("ibv_post_send")
	}
	var wr C.struct_ibv_send_wr
	C.memset(unsafe.Pointer(&wr), 0, C.sizeof_struct_ibv_send_wr)
	wr.wr_id = C.uint64_t(wrID)
	wr.opcode = C.IBV_WR_ATOMIC_CMP_AND_SWP
	wr.send_flags = C.IBV_SEND_SIGNALED
	wr.wr.atomic.remote_addr = C.uint64_t(target.Addr)
	wr.wr.atomic.rkey = C.uint32_t(target.RKey)
	wr.wr.atomic.compare_add = C.uint64_t(compare)
	wr.wr.atomic.swap = C.uint64_t(swap)

	arr, n := buildCSGEs(sges)
	if arr != nil {
		defer C.free(unsafe.Pointer(arr))
	}
	wr.sg_list = arr
	wr.num_sge = n

	var bad *C.struct_ibv_send_wr
	ret := C.ibv_post_send(qp.ptr, &wr, &bad)
	return ErrorFromReturn(int(ret), int(ret), "ibv_post_send")
}

// PostRecv posts the same receive WR count times, every posting tagged with
// the same wrID. The spec flags this wr_id reuse under count > 1 as a
// preserved, not fixed, behavior.
func PostRecv(qp *QueuePair, wrID uint64, sges []SGE, count int) error {
	if qp == nil || qp.ptr == nil {
		return ErrInval.WithOp("ibv_post_recv")
	}
	var wr C.struct_ibv_recv_wr
	C.memset(unsafe.Pointer(&wr), 0, C.sizeof_struct_ibv_recv_wr)
	wr.wr_id = C.uint64_t(wrID)

	arr, n := buildCSGEs(sges)
	if arr != nil {
		defer C.free(unsafe.Pointer(arr))
	}
	wr.sg_list = arr
	wr.num_sge = n

	var bad *C.struct_ibv_recv_wr
	for i := 0; i < count; i++ {
		ret := C.ibv_post_recv(qp.ptr, &wr, &bad)
		if err := ErrorFromReturn(int(ret), int(ret), "ibv_post_recv"); err != nil {
			return err
		}
	}
	return nil
}

// BatchRecvChain is the cgo-backed counterpart of the spec's pre-built
// linked list of empty receive work requests: a fixed BATCH-sized array of
// ibv_recv_wr, index-linked via next pointers, reconstructed identically
// after every post_batched_empty_recv call.
type BatchRecvChain struct {
	wrs  *C.struct_ibv_recv_wr
	size int
}

// NewBatchRecvChain allocates and initializes the chain: wr_id = index,
// sg_list = nil, num_sge = 0, next chains forward with the last entry's
// next set to nil.
func NewBatchRecvChain(size int) *BatchRecvChain {
	if size <= 0 {
		return &BatchRecvChain{size: 0}
	}
	arr := (*C.struct_ibv_recv_wr)(C.malloc(C.size_t(size) * C.sizeof_struct_ibv_recv_wr))
	view := unsafe.Slice(arr, size)
	for i := range view {
		C.memset(unsafe.Pointer(&view[i]), 0, C.sizeof_struct_ibv_recv_wr)
		view[i].wr_id = C.uint64_t(i)
	}
	for i := 0; i < size-1; i++ {
		view[i].next = &view[i+1]
	}
	view[size-1].next = nil
	return &BatchRecvChain{wrs: arr, size: size}
}

// Free releases the chain's backing array.
func (b *BatchRecvChain) Free() {
	if b == nil || b.wrs == nil {
		return
	}
	C.free(unsafe.Pointer(b.wrs))
	b.wrs = nil
}

// PostBatchedEmptyRecv posts count/BATCH full chains plus a fix-up chain of
// count%BATCH entries, temporarily null-terminating the partial chain and
// restoring the link afterward so the chain is structurally identical to
// its initial state once the call returns.
func (b *BatchRecvChain) PostBatchedEmptyRecv(qp *QueuePair, count int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	if qp == nil || qp.ptr == nil {
		return -1, ErrInval.WithOp("ibv_post_recv")
	}
	if b == nil || b.wrs == nil || b.size == 0 {
		return -1, ErrInval.WithOp("ibv_post_recv")
	}

	view := unsafe.Slice(b.wrs, b.size)
	loops := count / b.size
	remainder := count % b.size

	var bad *C.struct_ibv_recv_wr
	for i := 0; i < loops; i++ {
		ret := C.ibv_post_recv(qp.ptr, b.wrs, &bad)
		if err := ErrorFromReturn(int(ret), int(ret), "ibv_post_recv"); err != nil {
			return -1, err
		}
	}

	if remainder > 0 {
		saved := view[remainder-1].next
		view[remainder-1].next = nil
		ret := C.ibv_post_recv(qp.ptr, b.wrs, &bad)
		view[remainder-1].next = saved
		if err := ErrorFromReturn(int(ret), int(ret), "ibv_post_recv"); err != nil {
			return -1, err
		}
	}

	return count, nil
}

func htonl(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v<<24)&0xff000000
}
