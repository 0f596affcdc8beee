package manager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDeviceDatabaseAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.json")
	contents := `{
		"mlx5_0": {"ip_address": "10.0.0.1", "port": 4791, "default_receive_buffer_size": 65536, "max_inline_data": 256}
	}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write device db: %v", err)
	}

	db, err := LoadDeviceDatabase(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := db.Lookup("mlx5_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.IPAddress != "10.0.0.1" || entry.Port != 4791 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestDeviceDatabaseLookupUnknown(t *testing.T) {
	db := DeviceDatabase{}
	_, err := db.Lookup("mlx5_1")
	if err == nil {
		t.Fatalf("expected error for unknown device")
	}
	var managerErr *Error
	if e, ok := err.(*Error); !ok || e.Kind != KindUnknownDevice {
		t.Fatalf("expected KindUnknownDevice, got %v (%T)", err, managerErr)
	}
}
