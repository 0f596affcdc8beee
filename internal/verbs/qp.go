//go:build cgo

package verbs

import "unsafe"

/*
#cgo LDFLAGS: -lrdmacm -libverbs
#include <stdlib.h>
#include <string.h>
#include <rdma/rdma_cma.h>
*/
import "C"

// QPInitAttr mirrors the subset of ibv_qp_init_attr the spec's Connection
// configuration touches: queue depths, max SGE, and signaling default.
type QPInitAttr struct {
	SendDepth    uint32
	RecvDepth    uint32
	MaxSendSGE   uint32
	MaxRecvSGE   uint32
	MaxInlineData uint32
	SignalAll    bool
}

// QueuePair wraps an ibv_qp created either via rdma_create_ep (active side,
// combined with the cm_id) or rdma_create_qp (passive side, against an
// already-accepted cm_id).
type QueuePair struct {
	ptr *C.struct_ibv_qp
}

// CreateEndpoint performs the active-side rdma_create_ep call, which
// allocates the cm_id, QP, and default CQs as a single unit. Mirrors
// RDMAActive::allocate's single call into the verbs library; its mirror
// image, rdma_destroy_ep, is why active-side Connection.Close is a single
// verb call rather than two.
func CreateEndpoint(ch *EventChannel, ip string, port uint16, attr QPInitAttr, pep bool) (*CMID, *QueuePair, error) {
	var hints C.struct_rdma_addrinfo
	C.memset(unsafe.Pointer(&hints), 0, C.sizeof_struct_rdma_addrinfo)
	hints.ai_port_space = C.RDMA_PS_TCP
	if pep {
		hints.ai_flags = C.RAI_PASSIVE
	}

	cip := C.CString(ip)
	defer C.free(unsafe.Pointer(cip))
	cport := C.CString(portString(port))
	defer C.free(unsafe.Pointer(cport))

	var res *C.struct_rdma_addrinfo
	ret := C.rdma_getaddrinfo(cip, cport, &hints, &res)
	if err := ErrorFromReturn(int(ret), 0, "rdma_getaddrinfo"); err != nil {
		return nil, nil, err
	}
	defer C.rdma_freeaddrinfo(res)

	var initAttr C.struct_ibv_qp_init_attr
	C.memset(unsafe.Pointer(&initAttr), 0, C.sizeof_struct_ibv_qp_init_attr)
	initAttr.qp_type = C.IBV_QPT_RC
	initAttr.cap.max_send_wr = C.uint32_t(attr.SendDepth)
	initAttr.cap.max_recv_wr = C.uint32_t(attr.RecvDepth)
	initAttr.cap.max_send_sge = C.uint32_t(attr.MaxSendSGE)
	initAttr.cap.max_recv_sge = C.uint32_t(attr.MaxRecvSGE)
	initAttr.cap.max_inline_data = C.uint32_t(attr.MaxInlineData)
	if attr.SignalAll {
		initAttr.sq_sig_all = 1
	}

	var id *C.struct_rdma_cm_id
	ret = C.rdma_create_ep(&id, res, nil, &initAttr)
	if err := ErrorFromReturn(int(ret), 0, "rdma_create_ep"); err != nil {
		return nil, nil, err
	}
	return &CMID{ptr: id}, &QueuePair{ptr: id.qp}, nil
}

// CreateQP creates a QP against an already-bound cm_id, the passive-side
// path used once a ConnectRequest event hands back a cm_id without a QP.
func CreateQP(id *CMID, pd *ProtectionDomain, attr QPInitAttr) (*QueuePair, error) {
	if id == nil || id.ptr == nil {
		return nil, ErrInval.WithOp("rdma_create_qp")
	}
	var initAttr C.struct_ibv_qp_init_attr
	C.memset(unsafe.Pointer(&initAttr), 0, C.sizeof_struct_ibv_qp_init_attr)
	initAttr.qp_type = C.IBV_QPT_RC
	initAttr.cap.max_send_wr = C.uint32_t(attr.SendDepth)
	initAttr.cap.max_recv_wr = C.uint32_t(attr.RecvDepth)
	initAttr.cap.max_send_sge = C.uint32_t(attr.MaxSendSGE)
	initAttr.cap.max_recv_sge = C.uint32_t(attr.MaxRecvSGE)
	initAttr.cap.max_inline_data = C.uint32_t(attr.MaxInlineData)
	if attr.SignalAll {
		initAttr.sq_sig_all = 1
	}

	ret := C.rdma_create_qp(id.ptr, pd.ptr, &initAttr)
	if err := ErrorFromReturn(int(ret), 0, "rdma_create_qp"); err != nil {
		return nil, err
	}
	return &QueuePair{ptr: id.ptr.qp}, nil
}

// GetRequest extracts a fresh, QP-less cm_id for a pending connection
// request from a passive endpoint's listen backlog.
func (id *CMID) GetRequest() (*CMID, error) {
	// In rdma_cm, the request id already arrives attached to the
	// RDMA_CM_EVENT_CONNECT_REQUEST event; this wrapper exists so the
	// passive endpoint's poll loop can name the step explicitly.
	return id, nil
}

// DestroyEndpoint destroys a combined cm_id+QP allocated via CreateEndpoint.
// Active-side destruction path: one verb call tears down both.
func DestroyEndpoint(id *CMID) {
	if id == nil || id.ptr == nil {
		return
	}
	C.rdma_destroy_ep(id.ptr)
	id.ptr = nil
}

// DestroyQP destroys only the QP, leaving the cm_id alive. Passive-side
// destruction path: QP first, id separately via DestroyID.
func DestroyQP(id *CMID) {
	if id == nil || id.ptr == nil {
		return
	}
	C.rdma_destroy_qp(id.ptr)
}

// DestroyID releases the cm_id itself. Must be called after DestroyQP on
// the passive side.
func DestroyID(id *CMID) {
	if id == nil || id.ptr == nil {
		return
	}
	C.rdma_destroy_id(id.ptr)
	id.ptr = nil
}

// Pointer exposes the raw ibv_qp pointer for the wr/cq layers within this package.
func (q *QueuePair) Pointer() unsafe.Pointer {
	if q == nil {
		return nil
	}
	return unsafe.Pointer(q.ptr)
}
