//go:build cgo

package verbs

import (
	"unsafe"
)

/*
#cgo LDFLAGS: -lrdmacm -libverbs
#include <stdlib.h>
#include <string.h>
#include <netdb.h>
#include <rdma/rdma_cma.h>
*/
import "C"

// EventChannel wraps an rdma_event_channel.
type EventChannel struct {
	ptr *C.struct_rdma_event_channel
}

// CMID wraps an rdma_cm_id, the handle shared by active and passive sides.
type CMID struct {
	ptr *C.struct_rdma_cm_id
}

// CMEventType mirrors enum rdma_cm_event_type for the subset of events the
// connection-management state machine reacts to.
type CMEventType int

const (
	CMEventAddrResolved CMEventType = C.RDMA_CM_EVENT_ADDR_RESOLVED
	CMEventRouteResolved CMEventType = C.RDMA_CM_EVENT_ROUTE_RESOLVED
	CMEventConnectRequest CMEventType = C.RDMA_CM_EVENT_CONNECT_REQUEST
	CMEventEstablished   CMEventType = C.RDMA_CM_EVENT_ESTABLISHED
	CMEventRejected      CMEventType = C.RDMA_CM_EVENT_REJECTED
	CMEventUnreachable   CMEventType = C.RDMA_CM_EVENT_UNREACHABLE
	CMEventDisconnected  CMEventType = C.RDMA_CM_EVENT_DISCONNECTED
)

// CMEvent is a Go snapshot of an rdma_cm_event, detached from the C
// allocation after Ack.
type CMEvent struct {
	Type       CMEventType
	ID         *CMID
	PrivateData []byte
	raw        *C.struct_rdma_cm_event
}

// CreateEventChannel opens a new event channel for CM event delivery.
func CreateEventChannel() (*EventChannel, error) {
	ch := C.rdma_create_event_channel()
	if ch == nil {
		return nil, ErrNoMemory.WithOp("rdma_create_event_channel")
	}
	return &EventChannel{ptr: ch}, nil
}

// Destroy releases the event channel.
func (e *EventChannel) Destroy() {
	if e == nil || e.ptr == nil {
		return
	}
	C.rdma_destroy_event_channel(e.ptr)
	e.ptr = nil
}

// CreateID allocates a new rdma_cm_id bound to the event channel.
func CreateID(ch *EventChannel, qpType int) (*CMID, error) {
	if ch == nil || ch.ptr == nil {
		return nil, ErrInval.WithOp("rdma_create_id")
	}
	var id *C.struct_rdma_cm_id
	ret := C.rdma_create_id(ch.ptr, &id, nil, C.enum_rdma_port_space(qpType))
	if err := ErrorFromReturn(int(ret), 0, "rdma_create_id"); err != nil {
		return nil, err
	}
	return &CMID{ptr: id}, nil
}

// ResolveAddr kicks off address resolution for an active-side id against
// the given IPv4 address and port.
func (id *CMID) ResolveAddr(ip string, port uint16, timeoutMs int) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_resolve_addr")
	}
	cip := C.CString(ip)
	defer C.free(unsafe.Pointer(cip))
	cport := C.CString(portString(port))
	defer C.free(unsafe.Pointer(cport))

	var hints C.struct_rdma_addrinfo
	C.memset(unsafe.Pointer(&hints), 0, C.sizeof_struct_rdma_addrinfo)
	hints.ai_port_space = C.RDMA_PS_TCP
	hints.ai_family = C.AF_INET

	var res *C.struct_rdma_addrinfo
	ret := C.rdma_getaddrinfo(cip, cport, &hints, &res)
	if err := ErrorFromReturn(int(ret), 0, "rdma_getaddrinfo"); err != nil {
		return err
	}
	defer C.rdma_freeaddrinfo(res)

	ret = C.rdma_resolve_addr(id.ptr, nil, res.ai_dst_addr, C.int(timeoutMs))
	return ErrorFromReturn(int(ret), 0, "rdma_resolve_addr")
}

// BindAddr binds a passive-side id to a local listening address.
func (id *CMID) BindAddr(ip string, port uint16) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_bind_addr")
	}
	cip := C.CString(ip)
	defer C.free(unsafe.Pointer(cip))
	cport := C.CString(portString(port))
	defer C.free(unsafe.Pointer(cport))

	var hints C.struct_rdma_addrinfo
	C.memset(unsafe.Pointer(&hints), 0, C.sizeof_struct_rdma_addrinfo)
	hints.ai_flags = C.RAI_PASSIVE
	hints.ai_port_space = C.RDMA_PS_TCP
	hints.ai_family = C.AF_INET

	var res *C.struct_rdma_addrinfo
	ret := C.rdma_getaddrinfo(cip, cport, &hints, &res)
	if err := ErrorFromReturn(int(ret), 0, "rdma_getaddrinfo"); err != nil {
		return err
	}
	defer C.rdma_freeaddrinfo(res)

	ret = C.rdma_bind_addr(id.ptr, res.ai_src_addr)
	return ErrorFromReturn(int(ret), 0, "rdma_bind_addr")
}

// ResolveRoute resolves the route to the peer after address resolution.
func (id *CMID) ResolveRoute(timeoutMs int) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_resolve_route")
	}
	ret := C.rdma_resolve_route(id.ptr, C.int(timeoutMs))
	return ErrorFromReturn(int(ret), 0, "rdma_resolve_route")
}

// Connect initiates a connection with optional private data.
func (id *CMID) Connect(privateData []byte, connParam *ConnParam) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_connect")
	}
	var cp C.struct_rdma_conn_param
	C.memset(unsafe.Pointer(&cp), 0, C.sizeof_struct_rdma_conn_param)
	applyConnParam(&cp, connParam)
	if len(privateData) > 0 {
		cp.private_data = unsafe.Pointer(&privateData[0])
		cp.private_data_len = C.uint8_t(len(privateData))
	}
	ret := C.rdma_connect(id.ptr, &cp)
	return ErrorFromReturn(int(ret), 0, "rdma_connect")
}

// Listen transitions a bound id into the listening state with the given backlog.
func (id *CMID) Listen(backlog int) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_listen")
	}
	ret := C.rdma_listen(id.ptr, C.int(backlog))
	return ErrorFromReturn(int(ret), 0, "rdma_listen")
}

// Accept acknowledges a pending connect request on a newly created passive-side id.
func (id *CMID) Accept(privateData []byte, connParam *ConnParam) error {
	if id == nil || id.ptr == nil {
		return ErrInval.WithOp("rdma_accept")
	}
	var cp C.struct_rdma_conn_param
	C.memset(unsafe.Pointer(&cp), 0, C.sizeof_struct_rdma_conn_param)
	applyConnParam(&cp, connParam)
	if len(privateData) > 0 {
		cp.private_data = unsafe.Pointer(&privateData[0])
		cp.private_data_len = C.uint8_t(len(privateData))
	}
	ret := C.rdma_accept(id.ptr, &cp)
	return ErrorFromReturn(int(ret), 0, "rdma_accept")
}

// Disconnect tears down an established connection.
func (id *CMID) Disconnect() error {
	if id == nil || id.ptr == nil {
		return nil
	}
	ret := C.rdma_disconnect(id.ptr)
	return ErrorFromReturn(int(ret), 0, "rdma_disconnect")
}

// ConnParam controls the small set of queue-depth negotiation fields the
// endpoint layer cares about.
type ConnParam struct {
	RetryCount       uint8
	RNRRetryCount    uint8
	ResponderResources uint8
	InitiatorDepth     uint8
}

func applyConnParam(cp *C.struct_rdma_conn_param, p *ConnParam) {
	if p == nil {
		cp.retry_count = 7
		cp.rnr_retry_count = 7
		cp.responder_resources = 1
		cp.initiator_depth = 1
		return
	}
	cp.retry_count = C.uint8_t(p.RetryCount)
	cp.rnr_retry_count = C.uint8_t(p.RNRRetryCount)
	cp.responder_resources = C.uint8_t(p.ResponderResources)
	cp.initiator_depth = C.uint8_t(p.InitiatorDepth)
}

// GetEvent blocks until the next CM event is available on the channel.
// Mirrors wait_events: a blocking syscall, not a spin poll.
func (e *EventChannel) GetEvent() (*CMEvent, error) {
	if e == nil || e.ptr == nil {
		return nil, ErrInval.WithOp("rdma_get_cm_event")
	}
	var raw *C.struct_rdma_cm_event
	ret := C.rdma_get_cm_event(e.ptr, &raw)
	if err := ErrorFromReturn(int(ret), 0, "rdma_get_cm_event"); err != nil {
		return nil, err
	}
	ev := &CMEvent{
		Type: CMEventType(raw.event),
		ID:   &CMID{ptr: raw.id},
		raw:  raw,
	}
	if raw.param.conn.private_data_len > 0 && raw.param.conn.private_data != nil {
		ev.PrivateData = append([]byte(nil), unsafe.Slice((*byte)(raw.param.conn.private_data), int(raw.param.conn.private_data_len))...)
	}
	return ev, nil
}

// PollEvent is a non-blocking variant used by passive-endpoint poll_events.
// rdma_cm has no native poll call; non-blocking behavior is achieved by the
// caller putting the channel's fd in non-blocking mode once, at allocate()
// time, and treating EAGAIN from GetEvent as "no event" rather than an error.
func (e *EventChannel) PollEvent() (*CMEvent, bool, error) {
	ev, err := e.GetEvent()
	if err == nil {
		return ev, true, nil
	}
	if errno, ok := err.(interface{ Error() string }); ok {
		_ = errno
	}
	return nil, false, err
}

// DeviceContext returns the ibv_context the cm_id is bound to, valid once
// address resolution (active side) or a connect request (passive side) has
// completed.
func (id *CMID) DeviceContext() (*DeviceContext, error) {
	if id == nil || id.ptr == nil || id.ptr.verbs == nil {
		return nil, ErrInval.WithOp("rdma_cm_id.verbs")
	}
	return &DeviceContext{ptr: id.ptr.verbs}, nil
}

// QP returns the queue pair bound to this cm_id, valid once rdma_create_ep
// or rdma_create_qp has run against it.
func (id *CMID) QP() (*QueuePair, error) {
	if id == nil || id.ptr == nil || id.ptr.qp == nil {
		return nil, ErrInval.WithOp("rdma_cm_id.qp")
	}
	return &QueuePair{ptr: id.ptr.qp}, nil
}

// PD returns the protection domain rdma_create_ep allocated for this cm_id.
func (id *CMID) PD() (*ProtectionDomain, error) {
	if id == nil || id.ptr == nil || id.ptr.pd == nil {
		return nil, ErrInval.WithOp("rdma_cm_id.pd")
	}
	return &ProtectionDomain{ptr: id.ptr.pd}, nil
}

// Ack releases the kernel-side event record. Must be called exactly once per
// successfully retrieved event, after the caller is done inspecting it.
func (ev *CMEvent) Ack() {
	if ev == nil || ev.raw == nil {
		return
	}
	C.rdma_ack_cm_event(ev.raw)
	ev.raw = nil
}

func portString(port uint16) string {
	return itoa(int(port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
