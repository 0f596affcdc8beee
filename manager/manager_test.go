package manager

import (
	"testing"

	"github.com/rfaas/executor-manager/rdma"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	devices := DeviceDatabase{"mlx5_0": DeviceEntry{IPAddress: "10.0.0.1", Port: 5000, MaxInlineData: 64}}
	settings := &Settings{
		RDMA:     RDMASettings{RDMADevice: "mlx5_0", RDMADevicePort: 5000},
		Executor: ExecutorSettings{Repetitions: 1},
		Sandboxes: map[SandboxKind]SandboxConfiguration{
			SandboxProcess: {},
		},
	}
	mgr, err := New(ManagerOptions{Settings: settings, Devices: devices, SlotCount: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr
}

func TestAdmitWithinCoreBudget(t *testing.T) {
	mgr := testManager(t)
	mgr.executors[1] = &ActiveExecutor{Cores: 60}
	if !mgr.admit(4) {
		t.Fatalf("expected admission at exactly the core budget")
	}
	if mgr.admit(5) {
		t.Fatalf("expected rejection past the core budget")
	}
}

func TestAdmitWithNoActiveExecutors(t *testing.T) {
	mgr := testManager(t)
	if !mgr.admit(64) {
		t.Fatalf("expected a lone request for the full budget to be admitted")
	}
	if mgr.admit(65) {
		t.Fatalf("expected a request over the full budget to be rejected")
	}
}

func TestNextSecretIsMonotonicAndNonZero(t *testing.T) {
	mgr := testManager(t)
	first := mgr.nextSecret()
	second := mgr.nextSecret()
	if first == 0 || second == 0 {
		t.Fatalf("expected nonzero secrets, got %d and %d", first, second)
	}
	if second <= first {
		t.Fatalf("expected secrets to increase, got %d then %d", first, second)
	}
}

func TestWriteRejectionNoopWithoutRemoteDescriptor(t *testing.T) {
	mgr := testManager(t)
	state := &connState{slot: 0, rejectRemote: nil}
	if err := mgr.writeRejection(nil, state); err != nil {
		t.Fatalf("expected no-op when the client advertised no remote buffer, got %v", err)
	}
}

func TestSecretSlotDescriptorFailsBeforeRegistration(t *testing.T) {
	mgr := testManager(t)
	mgr.secretBuf, _ = rdma.AllocateBuffer(256)
	if _, err := mgr.secretSlotDescriptor(0); err != rdma.ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered before secret_mr is registered, got %v", err)
	}
}

func TestDeviceAddressFeedsManagerCredentialsNotClientAddress(t *testing.T) {
	entry := DeviceEntry{IPAddress: "10.0.0.1", Port: 5000}
	creds, err := NewManagerConnectionCredentials(entry.IPAddress, uint16(entry.Port), 1, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.AddrString() != entry.IPAddress {
		t.Fatalf("expected manager credentials to carry the device address %q, got %q", entry.IPAddress, creds.AddrString())
	}
	if creds.Port != uint16(entry.Port) {
		t.Fatalf("expected manager credentials to carry the device port %d, got %d", entry.Port, creds.Port)
	}
}

func TestConnStateCarriesRejectDescriptor(t *testing.T) {
	desc := rdma.RemoteBufferDescriptor{Addr: 0x1000, RKey: 7, Size: 4096}
	state := &connState{slot: 2, rejectRemote: &desc}
	if state.rejectRemote.Addr != 0x1000 || state.rejectRemote.RKey != 7 {
		t.Fatalf("unexpected descriptor: %+v", state.rejectRemote)
	}
}
