//go:build cgo

package verbs

import "unsafe"

/*
#cgo LDFLAGS: -libverbs
#include <infiniband/verbs.h>
*/
import "C"

// WC mirrors the fields of ibv_wc the spec's Work Completion type exposes.
type WC struct {
	WRID    uint64
	Status  uint32
	Opcode  uint32
	ByteLen uint32
	ImmData uint32
	HasImm  bool
}

// CompChannel wraps an ibv_comp_channel, used by notify/wait/ack for the
// power-saving event-driven polling alternative.
type CompChannel struct {
	ptr *C.struct_ibv_comp_channel
}

// CompletionQueue wraps an ibv_cq.
type CompletionQueue struct {
	ptr *C.struct_ibv_cq
}

// CreateCompChannel opens a completion event channel on the device context.
func (d *DeviceContext) CreateCompChannel() (*CompChannel, error) {
	if d == nil || d.ptr == nil {
		return nil, ErrInval.WithOp("ibv_create_comp_channel")
	}
	ch := C.ibv_create_comp_channel(d.ptr)
	if ch == nil {
		return nil, ErrNoMemory.WithOp("ibv_create_comp_channel")
	}
	return &CompChannel{ptr: ch}, nil
}

// Destroy releases the completion channel.
func (c *CompChannel) Destroy() {
	if c == nil || c.ptr == nil {
		return
	}
	C.ibv_destroy_comp_channel(c.ptr)
	c.ptr = nil
}

// CreateCQ creates a completion queue of the given depth, optionally bound
// to a completion channel for event-driven notification.
func (d *DeviceContext) CreateCQ(depth int, channel *CompChannel) (*CompletionQueue, error) {
	if d == nil || d.ptr == nil {
		return nil, ErrInval.WithOp("ibv_create_cq")
	}
	var chPtr *C.struct_ibv_comp_channel
	if channel != nil {
		chPtr = channel.ptr
	}
	cq := C.ibv_create_cq(d.ptr, C.int(depth), nil, chPtr, 0)
	if cq == nil {
		return nil, ErrNoMemory.WithOp("ibv_create_cq")
	}
	return &CompletionQueue{ptr: cq}, nil
}

// Destroy releases the completion queue.
func (c *CompletionQueue) Destroy() {
	if c == nil || c.ptr == nil {
		return
	}
	C.ibv_destroy_cq(c.ptr)
	c.ptr = nil
}

// PollWC drains up to len(out) completions. Returns the number of entries
// filled, or -1 on a hardware polling error.
func PollWC(cq *CompletionQueue, out []WC) int {
	if cq == nil || cq.ptr == nil || len(out) == 0 {
		return 0
	}
	raw := make([]C.struct_ibv_wc, len(out))
	ret := C.ibv_poll_cq(cq.ptr, C.int(len(out)), &raw[0])
	if ret < 0 {
		return -1
	}
	for i := 0; i < int(ret); i++ {
		wc := &out[i]
		wc.WRID = uint64(raw[i].wr_id)
		wc.Status = uint32(raw[i].status)
		wc.Opcode = uint32(raw[i].opcode)
		wc.ByteLen = uint32(raw[i].byte_len)
		if raw[i].wc_flags&C.IBV_WC_WITH_IMM != 0 {
			wc.HasImm = true
			wc.ImmData = uint32(raw[i].imm_data)
		}
	}
	return int(ret)
}

// NotifyCQ arms the completion channel for the next event. Treated as fatal
// on unexpected failure per the spec's error-handling design (a verbs-level
// invariant violation, not a runtime condition).
func NotifyCQ(cq *CompletionQueue, solicitedOnly bool) {
	if cq == nil || cq.ptr == nil {
		return
	}
	var solicited C.int
	if solicitedOnly {
		solicited = 1
	}
	ret := C.ibv_req_notify_cq(cq.ptr, solicited)
	MustZero(int(ret), "ibv_req_notify_cq")
}

// WaitEvent blocks on the completion channel until a CQ event arrives.
func WaitEvent(channel *CompChannel) (*CompletionQueue, error) {
	if channel == nil || channel.ptr == nil {
		return nil, ErrInval.WithOp("ibv_get_cq_event")
	}
	var cq *C.struct_ibv_cq
	var ctx unsafe.Pointer
	ret := C.ibv_get_cq_event(channel.ptr, &cq, (*unsafe.Pointer)(unsafe.Pointer(&ctx)))
	if err := ErrorFromReturn(int(ret), 0, "ibv_get_cq_event"); err != nil {
		return nil, err
	}
	return &CompletionQueue{ptr: cq}, nil
}

// AckEvents acknowledges n consumed completion events on the CQ. It does not
// re-arm the CQ; NotifyCQ does that.
func AckEvents(cq *CompletionQueue, n int) {
	if cq == nil || cq.ptr == nil {
		return
	}
	C.ibv_ack_cq_events(cq.ptr, C.uint(n))
}
