package manager

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AllocationRequest is the fixed wire layout a client posts as a single
// inline send to request an executor: its own listening address, the
// resources it wants, and the buffer sizes it has prepared locally.
type AllocationRequest struct {
	ClientAddr       [16]byte
	ClientPort       uint16
	CoresRequested   int16
	HotTimeoutMs     int32
	InputBufferSize  int32
	FuncBufferSize   int32
}

// AllocationRequestWireSize is the exact byte size of the encoded request,
// small enough to fit within one inline send.
const AllocationRequestWireSize = 16 + 2 + 2 + 4 + 4 + 4

// wireOrder is the byte order assumed across the fabric. The data model
// calls for native byte order on a homogeneous fabric; little-endian
// matches every platform this module targets.
var wireOrder = binary.LittleEndian

// NewAllocationRequest builds a request from a dotted-quad or hostname
// client address, null-padding it into the fixed 16-byte field.
func NewAllocationRequest(clientAddr string, clientPort uint16, cores int16, hotTimeoutMs, inputBufSize, funcBufSize int32) (AllocationRequest, error) {
	var req AllocationRequest
	if len(clientAddr) > len(req.ClientAddr) {
		return AllocationRequest{}, fmt.Errorf("manager: client address %q exceeds %d bytes", clientAddr, len(req.ClientAddr))
	}
	copy(req.ClientAddr[:], clientAddr)
	req.ClientPort = clientPort
	req.CoresRequested = cores
	req.HotTimeoutMs = hotTimeoutMs
	req.InputBufferSize = inputBufSize
	req.FuncBufferSize = funcBufSize
	return req, nil
}

// ClientAddrString returns the client address with its null padding trimmed.
func (r AllocationRequest) ClientAddrString() string {
	n := 0
	for n < len(r.ClientAddr) && r.ClientAddr[n] != 0 {
		n++
	}
	return string(r.ClientAddr[:n])
}

// Encode serializes the request into its fixed-layout wire form.
func (r AllocationRequest) Encode() []byte {
	buf := make([]byte, AllocationRequestWireSize)
	copy(buf[0:16], r.ClientAddr[:])
	wireOrder.PutUint16(buf[16:18], r.ClientPort)
	wireOrder.PutUint16(buf[18:20], uint16(r.CoresRequested))
	wireOrder.PutUint32(buf[20:24], uint32(r.HotTimeoutMs))
	wireOrder.PutUint32(buf[24:28], uint32(r.InputBufferSize))
	wireOrder.PutUint32(buf[28:32], uint32(r.FuncBufferSize))
	return buf
}

// DecodeAllocationRequest parses a request from its wire form.
func DecodeAllocationRequest(b []byte) (AllocationRequest, error) {
	if len(b) < AllocationRequestWireSize {
		return AllocationRequest{}, fmt.Errorf("manager: allocation request too short: %d bytes", len(b))
	}
	var req AllocationRequest
	copy(req.ClientAddr[:], b[0:16])
	req.ClientPort = wireOrder.Uint16(b[16:18])
	req.CoresRequested = int16(wireOrder.Uint16(b[18:20]))
	req.HotTimeoutMs = int32(wireOrder.Uint32(b[20:24]))
	req.InputBufferSize = int32(wireOrder.Uint32(b[24:28]))
	req.FuncBufferSize = int32(wireOrder.Uint32(b[28:32]))
	return req, nil
}

// ManagerConnectionCredentials is handed to a freshly spawned executor so it
// can dial the manager back and prove which allocation request spawned it.
type ManagerConnectionCredentials struct {
	Addr   uint32
	Port   uint16
	Secret uint32
	RAddr  uint64
	RKey   uint32
}

// ManagerConnectionCredentialsWireSize is the encoded byte size.
const ManagerConnectionCredentialsWireSize = 4 + 2 + 4 + 8 + 4

// NewManagerConnectionCredentials packs an IPv4 dotted-quad address, port,
// and a one-time secret nonce alongside the remote buffer the executor
// should write its first response into.
func NewManagerConnectionCredentials(addr string, port uint16, secret uint32, rAddr uint64, rKey uint32) (ManagerConnectionCredentials, error) {
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return ManagerConnectionCredentials{}, fmt.Errorf("manager: invalid IPv4 address %q", addr)
	}
	return ManagerConnectionCredentials{
		Addr:   wireOrder.Uint32(ip),
		Port:   port,
		Secret: secret,
		RAddr:  rAddr,
		RKey:   rKey,
	}, nil
}

// AddrString renders the packed address back to dotted-quad form.
func (c ManagerConnectionCredentials) AddrString() string {
	b := make([]byte, 4)
	wireOrder.PutUint32(b, c.Addr)
	return net.IP(b).String()
}

// Encode serializes the credentials into their fixed wire layout.
func (c ManagerConnectionCredentials) Encode() []byte {
	buf := make([]byte, ManagerConnectionCredentialsWireSize)
	wireOrder.PutUint32(buf[0:4], c.Addr)
	wireOrder.PutUint16(buf[4:6], c.Port)
	wireOrder.PutUint32(buf[6:10], c.Secret)
	wireOrder.PutUint64(buf[10:18], c.RAddr)
	wireOrder.PutUint32(buf[18:22], c.RKey)
	return buf
}

// DecodeManagerConnectionCredentials parses credentials from their wire form.
func DecodeManagerConnectionCredentials(b []byte) (ManagerConnectionCredentials, error) {
	if len(b) < ManagerConnectionCredentialsWireSize {
		return ManagerConnectionCredentials{}, fmt.Errorf("manager: connection credentials too short: %d bytes", len(b))
	}
	return ManagerConnectionCredentials{
		Addr:   wireOrder.Uint32(b[0:4]),
		Port:   wireOrder.Uint16(b[4:6]),
		Secret: wireOrder.Uint32(b[6:10]),
		RAddr:  wireOrder.Uint64(b[10:18]),
		RKey:   wireOrder.Uint32(b[18:22]),
	}, nil
}
