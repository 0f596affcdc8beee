package rdma

import (
	"context"
	"fmt"
	"time"

	"github.com/rfaas/executor-manager/internal/verbs"
	"go.uber.org/zap"
)

// EndpointConfig controls queue sizing and behavior shared by both endpoint
// sides.
type EndpointConfig struct {
	SendDepth     uint32
	RecvDepth     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	CQDepth       int
	ResolveTimeoutMs int
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.SendDepth == 0 {
		c.SendDepth = 128
	}
	if c.RecvDepth == 0 {
		c.RecvDepth = 128
	}
	if c.MaxSendSGE == 0 {
		c.MaxSendSGE = 4
	}
	if c.MaxRecvSGE == 0 {
		c.MaxRecvSGE = 4
	}
	if c.CQDepth == 0 {
		c.CQDepth = 256
	}
	if c.ResolveTimeoutMs == 0 {
		c.ResolveTimeoutMs = 2000
	}
	return c
}

func (c EndpointConfig) qpAttr() verbs.QPInitAttr {
	return verbs.QPInitAttr{
		SendDepth:     c.SendDepth,
		RecvDepth:     c.RecvDepth,
		MaxSendSGE:    c.MaxSendSGE,
		MaxRecvSGE:    c.MaxRecvSGE,
		MaxInlineData: c.MaxInlineData,
	}
}

// ActiveEndpoint is the client side of a connection: construct, allocate
// (resolve address, create QP and PD), connect, use, destroy.
type ActiveEndpoint struct {
	cfg     EndpointConfig
	channel *verbs.EventChannel
	id      *verbs.CMID
	qp      *verbs.QueuePair
	pd      *verbs.ProtectionDomain
	conn    *Connection
	log     *zap.Logger
}

// NewActiveEndpoint constructs an unallocated active endpoint.
func NewActiveEndpoint(cfg EndpointConfig, log *zap.Logger) *ActiveEndpoint {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActiveEndpoint{cfg: cfg.withDefaults(), log: log}
}

// Allocate resolves the peer address and creates the QP and PD.
func (e *ActiveEndpoint) Allocate(ip string, port uint16) error {
	ch, err := verbs.CreateEventChannel()
	if err != nil {
		return fmt.Errorf("create event channel: %w", err)
	}
	e.channel = ch

	id, qp, err := verbs.CreateEndpoint(ch, ip, port, e.cfg.qpAttr(), false)
	if err != nil {
		ch.Destroy()
		return fmt.Errorf("create endpoint: %w", err)
	}
	e.id = id
	e.qp = qp
	pd, err := id.PD()
	if err != nil {
		ch.Destroy()
		return fmt.Errorf("endpoint pd: %w", err)
	}
	e.pd = pd
	e.log.Debug("active endpoint allocated", zap.String("ip", ip), zap.Uint16("port", port))
	return nil
}

// ProtectionDomain exposes the endpoint's PD for buffer registration.
func (e *ActiveEndpoint) ProtectionDomain() *verbs.ProtectionDomain {
	return e.pd
}

// Connect resolves the route and connects, blocking until Established or the
// context's deadline elapses.
func (e *ActiveEndpoint) Connect(ctx context.Context, privateData []byte) (*Connection, error) {
	if err := e.id.ResolveRoute(e.cfg.ResolveTimeoutMs); err != nil {
		return nil, fmt.Errorf("resolve route: %w", err)
	}
	if err := e.id.Connect(privateData, nil); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
	}
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if time.Now().After(deadline) {
			return nil, ErrNoEvent
		}
		ev, err := e.channel.GetEvent()
		if err != nil {
			return nil, fmt.Errorf("get cm event: %w", err)
		}
		typ := ev.Type
		ev.Ack()
		switch typ {
		case verbs.CMEventEstablished:
			recvCQ, sendCQ, compCh, err := createCQPair(e.id, e.cfg.CQDepth)
			if err != nil {
				return nil, err
			}
			e.conn = NewConnection(ConnectionParams{
				ID: e.id, QP: e.qp, RecvCQ: recvCQ, SendCQ: sendCQ, Channel: compCh,
				Passive: false, Log: e.log,
			})
			e.log.Debug("active endpoint established")
			return e.conn, nil
		case verbs.CMEventRejected, verbs.CMEventUnreachable:
			return nil, ErrUnexpectedEvent
		default:
			continue
		}
	}
}

// Destroy tears down the endpoint's connection (if any) and event channel.
func (e *ActiveEndpoint) Destroy() error {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	if e.channel != nil {
		e.channel.Destroy()
		e.channel = nil
	}
	return nil
}

func createCQPair(id *verbs.CMID, depth int) (*verbs.CompletionQueue, *verbs.CompletionQueue, *verbs.CompChannel, error) {
	dev, err := deviceContextFromID(id)
	if err != nil {
		return nil, nil, nil, err
	}
	compCh, err := dev.CreateCompChannel()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create comp channel: %w", err)
	}
	recvCQ, err := dev.CreateCQ(depth, compCh)
	if err != nil {
		compCh.Destroy()
		return nil, nil, nil, fmt.Errorf("create recv cq: %w", err)
	}
	sendCQ, err := dev.CreateCQ(depth, compCh)
	if err != nil {
		recvCQ.Destroy()
		compCh.Destroy()
		return nil, nil, nil, fmt.Errorf("create send cq: %w", err)
	}
	return recvCQ, sendCQ, compCh, nil
}
