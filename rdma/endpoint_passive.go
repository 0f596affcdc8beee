package rdma

import (
	"errors"
	"fmt"

	"github.com/rfaas/executor-manager/internal/verbs"
	"go.uber.org/zap"
)

// PassiveEndpoint is the listening side: construct, allocate (bind, listen),
// poll_events loop, per-accepted-connection use, destroy.
type PassiveEndpoint struct {
	cfg         EndpointConfig
	channel     *verbs.EventChannel
	listenID    *verbs.CMID
	pd          *verbs.ProtectionDomain
	connections map[*verbs.CMID]*pendingConn
	log         *zap.Logger
}

type pendingConn struct {
	id          *verbs.CMID
	conn        *Connection
	privateData []byte
}

// NewPassiveEndpoint constructs an unallocated passive endpoint.
func NewPassiveEndpoint(cfg EndpointConfig, log *zap.Logger) *PassiveEndpoint {
	if log == nil {
		log = zap.NewNop()
	}
	return &PassiveEndpoint{cfg: cfg.withDefaults(), log: log, connections: make(map[*verbs.CMID]*pendingConn)}
}

// Allocate binds to ip:port and begins listening with the given backlog.
func (e *PassiveEndpoint) Allocate(ip string, port uint16, backlog int) error {
	ch, err := verbs.CreateEventChannel()
	if err != nil {
		return fmt.Errorf("create event channel: %w", err)
	}
	id, err := verbs.CreateID(ch, 0)
	if err != nil {
		ch.Destroy()
		return fmt.Errorf("create id: %w", err)
	}
	if err := id.BindAddr(ip, port); err != nil {
		ch.Destroy()
		return fmt.Errorf("bind addr: %w", err)
	}
	if err := id.Listen(backlog); err != nil {
		ch.Destroy()
		return fmt.Errorf("listen: %w", err)
	}
	dev, err := id.DeviceContext()
	if err != nil {
		ch.Destroy()
		return fmt.Errorf("listen device context: %w", err)
	}
	pd, err := dev.AllocPD()
	if err != nil {
		ch.Destroy()
		return fmt.Errorf("alloc pd: %w", err)
	}

	e.channel = ch
	e.listenID = id
	e.pd = pd
	e.log.Debug("passive endpoint listening", zap.String("ip", ip), zap.Uint16("port", port))
	return nil
}

// ProtectionDomain exposes the endpoint's shared PD.
func (e *PassiveEndpoint) ProtectionDomain() *verbs.ProtectionDomain {
	return e.pd
}

// PollEvents performs a single non-blocking step of the connection
// management state machine. It returns a freshly established Connection
// with closed=false when one completes its handshake during this call, the
// Connection that just went away with closed=true when its peer
// disconnects, or (nil, false, nil) when there is nothing to report.
//
// Handles ConnectRequest (creates a QP against the endpoint's shared PD,
// accepts), Established (promotes the pending connection to ready and
// returns it), Disconnected (removes it from the tracked set and returns
// it with closed=true so the caller can release anything keyed on it).
// Other events are consumed silently.
func (e *PassiveEndpoint) PollEvents() (conn *Connection, closed bool, err error) {
	ev, ready, err := e.channel.PollEvent()
	if err != nil {
		var errno verbs.Errno
		if errors.As(err, &errno) && errno == verbs.ErrAgain {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !ready || ev == nil {
		return nil, false, nil
	}
	defer ev.Ack()

	switch ev.Type {
	case verbs.CMEventConnectRequest:
		if err := e.handleConnectRequest(ev); err != nil {
			e.log.Warn("connect request handling failed", zap.Error(err))
		}
		return nil, false, nil
	case verbs.CMEventEstablished:
		pc, ok := e.connections[ev.ID]
		if !ok {
			return nil, false, nil
		}
		qp, err := pc.id.QP()
		if err != nil {
			return nil, false, err
		}
		recvCQ, sendCQ, compCh, err := createCQPair(pc.id, e.cfg.CQDepth)
		if err != nil {
			return nil, false, err
		}
		pc.conn = NewConnection(ConnectionParams{
			ID: pc.id, QP: qp, RecvCQ: recvCQ, SendCQ: sendCQ, Channel: compCh,
			Passive: true, PrivateData: pc.privateData, Log: e.log,
		})
		e.log.Debug("passive connection established")
		return pc.conn, false, nil
	case verbs.CMEventDisconnected:
		pc, ok := e.connections[ev.ID]
		delete(e.connections, ev.ID)
		if !ok || pc.conn == nil {
			return nil, false, nil
		}
		return pc.conn, true, nil
	default:
		return nil, false, nil
	}
}

func (e *PassiveEndpoint) handleConnectRequest(ev *verbs.CMEvent) error {
	qp, err := verbs.CreateQP(ev.ID, e.pd, e.cfg.qpAttr())
	if err != nil {
		return fmt.Errorf("create qp: %w", err)
	}
	if err := ev.ID.Accept(nil, nil); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	e.connections[ev.ID] = &pendingConn{id: ev.ID, privateData: ev.PrivateData}
	_ = qp
	return nil
}

// Destroy releases every pending and established connection, then the
// listening id, the event channel, and finally the protection domain.
func (e *PassiveEndpoint) Destroy() error {
	for _, pc := range e.connections {
		if pc.conn != nil {
			_ = pc.conn.Close()
		} else {
			verbs.DestroyQP(pc.id)
			verbs.DestroyID(pc.id)
		}
	}
	e.connections = nil
	if e.listenID != nil {
		verbs.DestroyID(e.listenID)
		e.listenID = nil
	}
	if e.channel != nil {
		e.channel.Destroy()
		e.channel = nil
	}
	if e.pd != nil {
		_ = e.pd.Dealloc()
		e.pd = nil
	}
	return nil
}
