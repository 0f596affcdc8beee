package rdma

import (
	"reflect"
	"testing"
)

func TestRemoteBufferDescriptorRoundTrip(t *testing.T) {
	cases := []RemoteBufferDescriptor{
		{Addr: 0, RKey: 0, Size: 0},
		{Addr: 0xdeadbeefcafef00d, RKey: 0x1234, Size: 4096},
	}
	for _, d := range cases {
		got, err := DecodeRemoteBufferDescriptor(d.Encode())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != d {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, d)
		}
	}
}

func TestDecodeRemoteBufferDescriptorTooShort(t *testing.T) {
	if _, err := DecodeRemoteBufferDescriptor([]byte{1, 2, 3}); err != ErrInvalidDescriptor {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestRemoteBufferDescriptorListRoundTrip(t *testing.T) {
	list := []RemoteBufferDescriptor{
		{Addr: 1, RKey: 2, Size: 3},
		{Addr: 4, RKey: 5, Size: 6},
		{Addr: 7, RKey: 8, Size: 9},
	}
	got, err := DecodeRemoteBufferDescriptors(EncodeRemoteBufferDescriptors(list))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, list) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, list)
	}
}

func TestRemoteBufferDescriptorListEmpty(t *testing.T) {
	got, err := DecodeRemoteBufferDescriptors(EncodeRemoteBufferDescriptors(nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestDecodeRemoteBufferDescriptorsTruncated(t *testing.T) {
	full := EncodeRemoteBufferDescriptors([]RemoteBufferDescriptor{{Addr: 1, RKey: 2, Size: 3}})
	if _, err := DecodeRemoteBufferDescriptors(full[:len(full)-1]); err != ErrInvalidDescriptor {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}
