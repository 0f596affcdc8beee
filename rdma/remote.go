package rdma

import "encoding/binary"

// RemoteBufferDescriptor names a peer-owned buffer a one-sided write or
// atomic operation can target: the remote address, its rkey, and the size
// available at that address.
type RemoteBufferDescriptor struct {
	Addr uint64
	RKey uint32
	Size uint32
}

const remoteBufferDescriptorWireSize = 8 + 4 + 4

// Encode serializes the descriptor into the fixed 16-byte little-endian
// layout of one entry of the count-prefixed list that
// EncodeRemoteBufferDescriptors builds for rdma_cm connection private data.
func (d RemoteBufferDescriptor) Encode() []byte {
	buf := make([]byte, remoteBufferDescriptorWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], d.RKey)
	binary.LittleEndian.PutUint32(buf[12:16], d.Size)
	return buf
}

// DecodeRemoteBufferDescriptor parses a single descriptor from its wire form.
func DecodeRemoteBufferDescriptor(b []byte) (RemoteBufferDescriptor, error) {
	if len(b) < remoteBufferDescriptorWireSize {
		return RemoteBufferDescriptor{}, ErrInvalidDescriptor
	}
	return RemoteBufferDescriptor{
		Addr: binary.LittleEndian.Uint64(b[0:8]),
		RKey: binary.LittleEndian.Uint32(b[8:12]),
		Size: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// EncodeRemoteBufferDescriptors serializes a count-prefixed list of
// descriptors, the form exchanged as connection setup private data whether
// one buffer or several are advertised to the peer.
func EncodeRemoteBufferDescriptors(ds []RemoteBufferDescriptor) []byte {
	buf := make([]byte, 2, 2+len(ds)*remoteBufferDescriptorWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(ds)))
	for _, d := range ds {
		buf = append(buf, d.Encode()...)
	}
	return buf
}

// DecodeRemoteBufferDescriptors parses a count-prefixed list produced by
// EncodeRemoteBufferDescriptors.
func DecodeRemoteBufferDescriptors(b []byte) ([]RemoteBufferDescriptor, error) {
	if len(b) < 2 {
		return nil, ErrInvalidDescriptor
	}
	count := int(binary.LittleEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < count*remoteBufferDescriptorWireSize {
		return nil, ErrInvalidDescriptor
	}
	out := make([]RemoteBufferDescriptor, count)
	for i := 0; i < count; i++ {
		d, err := DecodeRemoteBufferDescriptor(b[i*remoteBufferDescriptorWireSize:])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
