package manager

import "testing"

func TestAllocationRequestRoundTrip(t *testing.T) {
	req, err := NewAllocationRequest("10.0.0.5", 4791, 4, 5000, 65536, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeAllocationRequest(req.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, req)
	}
	if got.ClientAddrString() != "10.0.0.5" {
		t.Fatalf("unexpected client addr: %q", got.ClientAddrString())
	}
}

func TestNewAllocationRequestAddressTooLong(t *testing.T) {
	_, err := NewAllocationRequest("this-hostname-is-far-too-long-for-the-field", 1, 1, 1, 1, 1)
	if err == nil {
		t.Fatalf("expected error for oversized address")
	}
}

func TestDecodeAllocationRequestTooShort(t *testing.T) {
	if _, err := DecodeAllocationRequest(make([]byte, AllocationRequestWireSize-1)); err == nil {
		t.Fatalf("expected error for undersized buffer")
	}
}

func TestManagerConnectionCredentialsRoundTrip(t *testing.T) {
	creds, err := NewManagerConnectionCredentials("192.168.1.1", 5000, 0xabcdef, 0x1122334455667788, 0x99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeManagerConnectionCredentials(creds.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != creds {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, creds)
	}
	if got.AddrString() != "192.168.1.1" {
		t.Fatalf("unexpected addr string: %q", got.AddrString())
	}
}

func TestNewManagerConnectionCredentialsInvalidAddr(t *testing.T) {
	if _, err := NewManagerConnectionCredentials("not-an-ip", 1, 1, 1, 1); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}
