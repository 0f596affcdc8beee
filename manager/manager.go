package manager

import (
	"fmt"
	"time"

	"github.com/rfaas/executor-manager/internal/verbs"
	"github.com/rfaas/executor-manager/rdma"
	"go.uber.org/zap"
)

// connState tracks the one allocation-request-sized region of recv_mr a
// connection's receive is posted against, and the client-supplied remote
// buffer describing where a rejection status gets written back, so a
// drained completion's wr_id (the slot index) maps straight back to the
// request bytes that connection owns.
type connState struct {
	slot         int
	rejectRemote *rdma.RemoteBufferDescriptor
}

// Manager is the executor-manager's runtime: a passive RDMA endpoint
// accepting allocation requests, a buffer of N allocation-request-sized
// receive slots each dedicated to one connection, and the set of executors
// it has spawned.
type Manager struct {
	settings *Settings
	devices  DeviceDatabase
	device   DeviceEntry

	endpoint  *rdma.PassiveEndpoint
	recvBuf   *rdma.Buffer
	secretBuf *rdma.Buffer
	slotCount int
	freeSlots []int

	connections map[*rdma.Connection]*connState
	executors   map[int]*ActiveExecutor

	resourceMgr *ResourceManagerClient
	metrics     *PrometheusManagerMetrics

	log *zap.Logger
}

// ManagerOptions bundles the dependencies New assembles into a Manager.
type ManagerOptions struct {
	Settings    *Settings
	Devices     DeviceDatabase
	ResourceMgr *ResourceManagerClient
	Metrics     *PrometheusManagerMetrics
	Log         *zap.Logger
	SlotCount   int
}

// New constructs a Manager around an unallocated passive endpoint. It does
// not bind, listen, or allocate recv_mr/secret_mr; Listen does all of that.
func New(opts ManagerOptions) (*Manager, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	slotCount := opts.SlotCount
	if slotCount == 0 {
		slotCount = 64
	}

	entry, err := opts.Devices.Lookup(opts.Settings.RDMA.RDMADevice)
	if err != nil {
		return nil, err
	}

	ep := rdma.NewPassiveEndpoint(rdma.EndpointConfig{
		MaxInlineData: uint32(entry.MaxInlineData),
		RecvDepth:     uint32(slotCount),
	}, log)

	return &Manager{
		settings:    opts.Settings,
		devices:     opts.Devices,
		device:      entry,
		endpoint:    ep,
		slotCount:   slotCount,
		connections: make(map[*rdma.Connection]*connState),
		executors:   make(map[int]*ActiveExecutor),
		resourceMgr: opts.ResourceMgr,
		metrics:     opts.Metrics,
		log:         log,
	}, nil
}

// Listen binds and listens on the configured device's address and port.
func (m *Manager) Listen(ip string, port uint16, backlog int) error {
	if err := m.endpoint.Allocate(ip, port, backlog); err != nil {
		return newError(KindEndpointCreationFailed, fmt.Sprintf("%s:%d", ip, port), err)
	}
	buf, err := rdma.AllocateBuffer(uintptr(m.slotCount * AllocationRequestWireSize))
	if err != nil {
		return newError(KindMemoryRegistrationFailed, "recv_mr", err)
	}
	if err := buf.Register(m.endpoint.ProtectionDomain(), verbs.AccessLocalWrite|verbs.AccessRemoteWrite); err != nil {
		return newError(KindMemoryRegistrationFailed, "recv_mr", err)
	}
	m.recvBuf = buf

	secretBuf, err := rdma.AllocateBuffer(uintptr(m.slotCount * secretSlotSize))
	if err != nil {
		return newError(KindMemoryRegistrationFailed, "secret_mr", err)
	}
	if err := secretBuf.Register(m.endpoint.ProtectionDomain(), verbs.AccessLocalWrite|verbs.AccessRemoteWrite); err != nil {
		return newError(KindMemoryRegistrationFailed, "secret_mr", err)
	}
	m.secretBuf = secretBuf

	m.freeSlots = make([]int, m.slotCount)
	for i := range m.freeSlots {
		m.freeSlots[i] = m.slotCount - 1 - i
	}
	m.log.Info("manager listening", zap.String("ip", ip), zap.Uint16("port", port))
	return nil
}

// slotSGE returns the scatter-gather element covering the single
// allocation-request-sized region of recv_mr dedicated to slot i.
func (m *Manager) slotSGE(i int) (rdma.ScatterGatherElement, error) {
	return m.recvBuf.SGERange(uint64(i*AllocationRequestWireSize), uint32(AllocationRequestWireSize))
}

// secretSlotSize is the size in bytes of the region of secret_mr dedicated
// to one slot: a single u32 the spawned executor writes its copy of the
// one-time secret into, confirming it is the process that allocation
// request spawned.
const secretSlotSize = 4

// secretSlotDescriptor returns the remote buffer descriptor for slot's
// region of secret_mr, handed to the spawned executor as its manager
// connection credentials' r_addr/r_key so it has somewhere valid to write
// its secret-confirmation message.
func (m *Manager) secretSlotDescriptor(slot int) (rdma.RemoteBufferDescriptor, error) {
	rkey, err := m.secretBuf.RKey()
	if err != nil {
		return rdma.RemoteBufferDescriptor{}, err
	}
	return rdma.RemoteBufferDescriptor{
		Addr: m.secretBuf.Addr() + uint64(slot*secretSlotSize),
		RKey: rkey,
		Size: secretSlotSize,
	}, nil
}

// Step runs one iteration of the main loop: service CM events, drain the
// receive CQ, and sweep active executors for terminal status. Intended to
// be called repeatedly from cmd/executor-manager's run loop.
func (m *Manager) Step() error {
	if err := m.stepConnections(); err != nil {
		return err
	}
	if err := m.stepAllocations(); err != nil {
		return err
	}
	m.stepReap()
	return nil
}

func (m *Manager) stepConnections() error {
	conn, closed, err := m.endpoint.PollEvents()
	if err != nil {
		return newError(KindConnectionRejected, "poll_events", err)
	}
	if conn == nil {
		return nil
	}
	if closed {
		if state, ok := m.connections[conn]; ok {
			m.freeSlots = append(m.freeSlots, state.slot)
			delete(m.connections, conn)
			m.log.Debug("connection disconnected", zap.Int("total", len(m.connections)))
		}
		return nil
	}
	if len(m.freeSlots) == 0 {
		m.log.Warn("no free allocation-request slots, dropping connection")
		_ = conn.Close()
		return nil
	}
	slot := m.freeSlots[len(m.freeSlots)-1]
	m.freeSlots = m.freeSlots[:len(m.freeSlots)-1]

	var reject *rdma.RemoteBufferDescriptor
	if pd := conn.PrivateData(); len(pd) > 0 {
		if descs, err := rdma.DecodeRemoteBufferDescriptors(pd); err == nil && len(descs) > 0 {
			reject = &descs[0]
		} else {
			m.log.Debug("connect-request private data carries no remote buffer descriptor", zap.Error(err))
		}
	}
	m.connections[conn] = &connState{slot: slot, rejectRemote: reject}

	if err := m.postSlotRecv(conn, slot); err != nil {
		m.log.Warn("initial recv post failed", zap.Error(err))
	}
	m.log.Debug("connection installed", zap.Int("total", len(m.connections)), zap.Int("slot", slot))
	return nil
}

// postSlotRecv (re)posts a single receive against the region of recv_mr
// dedicated to slot, tagging it with the slot index as its wr_id so the
// matching completion can be mapped straight back to the right bytes.
func (m *Manager) postSlotRecv(conn *rdma.Connection, slot int) error {
	sge, err := m.slotSGE(slot)
	if err != nil {
		return err
	}
	_, err = conn.PostRecv([]rdma.ScatterGatherElement{sge}, int64(slot), 1)
	return err
}

func (m *Manager) stepAllocations() error {
	for conn, state := range m.connections {
		wcs, n := conn.PollWC(rdma.RecvQueue, false)
		if n < 0 {
			m.log.Warn("recv cq hardware error, dropping connection")
			m.freeSlots = append(m.freeSlots, state.slot)
			delete(m.connections, conn)
			_ = conn.Close()
			continue
		}
		for _, wc := range wcs {
			if !wc.Success {
				continue
			}
			if err := m.handleAllocation(conn, state, int(wc.WRID)); err != nil {
				m.log.Warn("allocation request handling failed", zap.Error(err))
			}
		}
	}
	return nil
}

func (m *Manager) handleAllocation(conn *rdma.Connection, state *connState, slot int) (err error) {
	// The slot's receive is re-posted on every path, including failures, so
	// the connection always has one receive outstanding.
	defer func() {
		if perr := m.postSlotRecv(conn, slot); perr != nil && err == nil {
			err = perr
		}
	}()
	begin := time.Now()
	offset := slot * AllocationRequestWireSize
	req, err := DecodeAllocationRequest(m.recvBuf.Bytes()[offset : offset+AllocationRequestWireSize])
	if err != nil {
		return err
	}

	if !m.admit(req.CoresRequested) {
		m.log.Info("allocation rejected: insufficient cores", zap.Int16("cores", req.CoresRequested))
		if err := m.writeRejection(conn, state); err != nil {
			m.log.Warn("rejection write-back failed", zap.Error(err))
		}
		return nil
	}

	secretRemote, err := m.secretSlotDescriptor(slot)
	if err != nil {
		return err
	}
	creds, err := NewManagerConnectionCredentials(m.device.IPAddress, uint16(m.device.Port), m.nextSecret(), secretRemote.Addr, secretRemote.RKey)
	if err != nil {
		return err
	}

	kind := m.settings.SandboxKind()
	sandboxCfg, ok := m.settings.Sandboxes[kind]
	if !ok {
		return newError(KindSandboxUnavailable, string(kind), nil)
	}
	args := BuildExecutorArgs(req.ClientAddrString(), req.ClientPort, m.settings.Executor.Repetitions,
		int32(m.device.DefaultReceiveBufferSize), req.InputBufferSize, "", req.CoresRequested, m.settings.Executor.WarmupIters,
		int32(m.device.MaxInlineData), req.FuncBufferSize, req.HotTimeoutMs, creds)

	exec, err := m.spawn(kind, sandboxCfg, args)
	if err != nil {
		return err
	}
	exec.AllocationBegin = begin
	exec.Cores = req.CoresRequested
	m.executors[exec.PID] = exec
	if m.metrics != nil {
		m.metrics.ExecutorSpawned(kind, time.Since(begin))
	}

	return nil
}

// spawn dispatches to the Spawn* function matching kind, resolving the
// bundled executor binary's path for the Process kind and the configured
// docker settings for the container kinds.
func (m *Manager) spawn(kind SandboxKind, sandboxCfg SandboxConfiguration, args []string) (*ActiveExecutor, error) {
	switch kind {
	case SandboxDocker:
		return SpawnDocker(sandboxCfg, m.settings.Executor.Docker, args, m.log)
	case SandboxSarus:
		return SpawnSarus(sandboxCfg, m.settings.Executor.Docker, args, m.log)
	default:
		execPath, err := GetExecutorPath()
		if err != nil {
			return nil, err
		}
		return SpawnProcess(execPath, args, m.log)
	}
}

// writeRejection writes a single zero-length immediate-carrying RDMA write
// back to the client's pre-negotiated remote buffer (its connect-request
// private data), signaling admission failure without a send completion the
// client would have to separately poll for. No-op if the client never
// advertised a buffer to write into.
func (m *Manager) writeRejection(conn *rdma.Connection, state *connState) error {
	if state.rejectRemote == nil {
		return nil
	}
	sge, err := m.recvBuf.SGERange(0, 0)
	if err != nil {
		return err
	}
	return conn.PostWriteWithImm([]rdma.ScatterGatherElement{sge}, *state.rejectRemote, rejectionImmediate, false)
}

// rejectionImmediate is the immediate-data value a client recognizes as an
// admission-control rejection rather than a genuine RDMA write payload.
const rejectionImmediate = 0xffffffff

var secretCounter uint32

func (m *Manager) nextSecret() uint32 {
	secretCounter++
	return secretCounter
}

func (m *Manager) admit(cores int16) bool {
	total := int16(0)
	for _, e := range m.executors {
		total += e.Cores
	}
	const maxCores = 64
	return total+cores <= maxCores
}

// stepReap sweeps every tracked executor, removing finished ones from the
// active set and notifying the resource manager of the outcome.
func (m *Manager) stepReap() {
	for pid, exec := range m.executors {
		status, code, err := exec.Check()
		if err != nil {
			m.log.Warn("executor check failed", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		switch status {
		case Running:
			continue
		case Finished:
			m.reap(pid, exec, "finished", code, 0)
		case FinishedFail:
			m.reap(pid, exec, "finished_fail", 0, code)
		}
	}
}

func (m *Manager) reap(pid int, exec *ActiveExecutor, state string, exitCode, signal int) {
	delete(m.executors, pid)
	_ = exec.Close()
	if m.metrics != nil {
		m.metrics.ExecutorReaped(exec.kind)
	}
	if m.resourceMgr != nil {
		_ = m.resourceMgr.Notify(ResourceManagerNotification{PID: pid, Status: state, ExitCode: exitCode, Signal: signal})
	}
	m.log.Info("executor reaped", zap.Int("pid", pid), zap.String("status", state))
}

// Close tears down the passive endpoint, receive buffer, and every tracked
// executor's log file.
func (m *Manager) Close() error {
	for _, exec := range m.executors {
		_ = exec.Close()
	}
	if m.recvBuf != nil {
		_ = m.recvBuf.Close()
	}
	if m.secretBuf != nil {
		_ = m.secretBuf.Close()
	}
	if m.endpoint != nil {
		_ = m.endpoint.Destroy()
	}
	if m.resourceMgr != nil {
		_ = m.resourceMgr.Close()
	}
	return nil
}
