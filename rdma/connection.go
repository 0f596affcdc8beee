package rdma

import (
	"sync/atomic"

	"github.com/rfaas/executor-manager/internal/verbs"
	"go.uber.org/zap"
)

// Batch and completion-drain sizes. Matches the pre-built receive chain and
// per-poll scratch space the original connection type sized its arrays to.
const (
	Batch   = 16
	WCBatch = 16
)

// Queue selects which of a Connection's two completion queues an operation
// targets.
type Queue int

const (
	SendQueue Queue = iota
	RecvQueue
)

// WorkCompletion mirrors the spec's WC type: the outcome of one previously
// posted work request.
type WorkCompletion struct {
	WRID    uint64
	Success bool
	Opcode  uint32
	ByteLen uint32
	ImmData uint32
	HasImm  bool
}

// Connection wraps one queue pair and its two completion queues. It is safe
// for use by a single owning goroutine; req_counter and the batch-recv chain
// are not synchronized for concurrent callers, matching the upstream design
// note that req_counter is touched only by the owning thread.
type Connection struct {
	id      *verbs.CMID
	qp      *verbs.QueuePair
	recvCQ  *verbs.CompletionQueue
	sendCQ  *verbs.CompletionQueue
	channel *verbs.CompChannel

	sendFlagsInline bool
	reqCounter      uint64
	passive         bool

	batch *verbs.BatchRecvChain

	// privateData is whatever bytes accompanied the CM event that
	// established this connection (the client's connect-request private
	// data on the passive side), kept verbatim for callers to decode.
	privateData []byte

	log *zap.Logger
}

// PrivateData returns the private data carried on the CM event that
// established this connection, or nil if there was none.
func (c *Connection) PrivateData() []byte {
	return c.privateData
}

// ConnectionParams bundles the pieces a caller assembles before wrapping
// them in a Connection: the cm_id and QP from either the active or passive
// creation path, plus the CQ pair the QP was built against.
type ConnectionParams struct {
	ID          *verbs.CMID
	QP          *verbs.QueuePair
	RecvCQ      *verbs.CompletionQueue
	SendCQ      *verbs.CompletionQueue
	Channel     *verbs.CompChannel
	Passive     bool
	PrivateData []byte
	Log         *zap.Logger
}

// NewConnection wraps a queue pair, pre-initializing the batch receive
// chain used by PostBatchedEmptyRecv.
func NewConnection(p ConnectionParams) *Connection {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		id:          p.ID,
		qp:          p.QP,
		recvCQ:      p.RecvCQ,
		sendCQ:      p.SendCQ,
		channel:     p.Channel,
		passive:     p.Passive,
		privateData: p.PrivateData,
		batch:       verbs.NewBatchRecvChain(Batch),
		log:         log,
	}
}

// Inlining sets the connection's default send flags: Signaled|Inline when
// enabled, Signaled alone otherwise. Default is no inline.
func (c *Connection) Inlining(enable bool) {
	c.sendFlagsInline = enable
}

// PostSend posts a Send work request. id of -1 auto-allocates from the
// connection's monotonic counter.
func (c *Connection) PostSend(sge []ScatterGatherElement, id int64, forceInline bool) (uint64, error) {
	wrID := c.allocateID(id)
	inline := forceInline || c.sendFlagsInline
	if err := verbs.PostSend(c.qp, wrID, toVerbsSGEs(sge), true, inline); err != nil {
		c.log.Debug("post_send failed", zap.Uint64("wr_id", wrID), zap.Error(err))
		return 0, err
	}
	return wrID, nil
}

// PostRecv posts the same receive work request count times, returning the
// shared wr_id. Fails on the first underlying posting error.
func (c *Connection) PostRecv(sge []ScatterGatherElement, id int64, count int) (uint64, error) {
	if count <= 0 {
		count = 1
	}
	wrID := c.allocateID(id)
	if err := verbs.PostRecv(c.qp, wrID, toVerbsSGEs(sge), count); err != nil {
		c.log.Debug("post_recv failed", zap.Uint64("wr_id", wrID), zap.Error(err))
		return 0, err
	}
	return wrID, nil
}

// PostBatchedEmptyRecv posts count/Batch full chains of pre-built empty
// receives plus a fix-up chain for the remainder, leaving the internal
// chain structurally identical to its initial state once it returns.
func (c *Connection) PostBatchedEmptyRecv(count int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	n, err := c.batch.PostBatchedEmptyRecv(c.qp, count)
	if err != nil {
		c.log.Debug("post_batched_empty_recv failed", zap.Int("count", count), zap.Error(err))
		return -1, err
	}
	return n, nil
}

// PostWrite posts an RDMA write with no immediate data.
func (c *Connection) PostWrite(sge []ScatterGatherElement, remote RemoteBufferDescriptor, forceInline bool) error {
	c.reqCounter++
	inline := forceInline || c.sendFlagsInline
	target := verbs.RemoteTarget{Addr: remote.Addr, RKey: remote.RKey}
	err := verbs.PostWrite(c.qp, c.reqCounter, toVerbsSGEs(sge), target, nil, true, inline)
	if err != nil {
		c.log.Debug("post_write failed", zap.Error(err))
	}
	return err
}

// PostWriteWithImm posts an RDMA write carrying 32 bits of immediate data,
// transmitted in network byte order.
func (c *Connection) PostWriteWithImm(sge []ScatterGatherElement, remote RemoteBufferDescriptor, imm uint32, forceInline bool) error {
	c.reqCounter++
	inline := forceInline || c.sendFlagsInline
	target := verbs.RemoteTarget{Addr: remote.Addr, RKey: remote.RKey}
	err := verbs.PostWrite(c.qp, c.reqCounter, toVerbsSGEs(sge), target, &imm, true, inline)
	if err != nil {
		c.log.Debug("post_write_with_imm failed", zap.Error(err))
	}
	return err
}

// PostCAS posts an atomic compare-and-swap. Always signaled, never inline.
func (c *Connection) PostCAS(sge []ScatterGatherElement, remote RemoteBufferDescriptor, compare, swap uint64) error {
	wrID := c.allocateID(-1)
	target := verbs.RemoteTarget{Addr: remote.Addr, RKey: remote.RKey}
	err := verbs.PostCAS(c.qp, wrID, toVerbsSGEs(sge), target, compare, swap)
	if err != nil {
		c.log.Debug("post_cas failed", zap.Error(err))
	}
	return err
}

func (c *Connection) allocateID(id int64) uint64 {
	if id != -1 {
		return uint64(id)
	}
	c.reqCounter++
	return c.reqCounter
}

// PollWC drains up to WCBatch completions from the selected queue. If
// blocking, spin-polls until at least one completion appears or the CQ
// reports a hardware error, in which case it returns (nil, -1).
func (c *Connection) PollWC(queue Queue, blocking bool) ([]WorkCompletion, int) {
	cq := c.sendCQ
	if queue == RecvQueue {
		cq = c.recvCQ
	}
	raw := make([]verbs.WC, WCBatch)
	for {
		n := verbs.PollWC(cq, raw)
		if n < 0 {
			return nil, -1
		}
		if n > 0 {
			out := make([]WorkCompletion, n)
			for i := 0; i < n; i++ {
				out[i] = WorkCompletion{
					WRID:    raw[i].WRID,
					Success: raw[i].Status == 0,
					Opcode:  raw[i].Opcode,
					ByteLen: raw[i].ByteLen,
					ImmData: raw[i].ImmData,
					HasImm:  raw[i].HasImm,
				}
			}
			return out, n
		}
		if !blocking {
			return nil, 0
		}
	}
}

// NotifyEvents arms the completion channel for the next event.
func (c *Connection) NotifyEvents() {
	verbs.NotifyCQ(c.recvCQ, false)
}

// WaitEvents blocks until a completion event arrives on the channel,
// returning the CQ it belongs to.
func (c *Connection) WaitEvents() (*verbs.CompletionQueue, error) {
	return verbs.WaitEvent(c.channel)
}

// AckEvents acknowledges n consumed events. It does not re-arm the CQ;
// NotifyEvents does that.
func (c *Connection) AckEvents(cq *verbs.CompletionQueue, n int) {
	verbs.AckEvents(cq, n)
}

// Close destroys the connection's underlying resources. Active-side
// connections are destroyed with a single combined verb call; passive-side
// connections have their QP and cm_id destroyed separately, mirroring the
// two verb-library creation paths.
func (c *Connection) Close() error {
	if c.batch != nil {
		c.batch.Free()
		c.batch = nil
	}
	if c.recvCQ != nil {
		c.recvCQ.Destroy()
	}
	if c.sendCQ != nil && c.sendCQ != c.recvCQ {
		c.sendCQ.Destroy()
	}
	if c.channel != nil {
		c.channel.Destroy()
	}
	if c.passive {
		verbs.DestroyQP(c.id)
		verbs.DestroyID(c.id)
	} else {
		verbs.DestroyEndpoint(c.id)
	}
	return nil
}

// globalClosing mirrors the process-wide shutdown flag a signal handler
// flips so every blocking loop in the process can observe it without
// threading a context through every call site.
var globalClosing atomic.Bool

// RequestShutdown flips the process-wide closing flag. Safe to call from a
// signal handler.
func RequestShutdown() {
	globalClosing.Store(true)
}

// ShuttingDown reports whether RequestShutdown has been called.
func ShuttingDown() bool {
	return globalClosing.Load()
}
