package manager

import (
	"encoding/json"
	"fmt"
	"os"
)

// DeviceEntry describes one RDMA device's default operating parameters, as
// looked up by name from the device database file.
type DeviceEntry struct {
	IPAddress               string `json:"ip_address"`
	Port                    int    `json:"port"`
	DefaultReceiveBufferSize int   `json:"default_receive_buffer_size"`
	MaxInlineData           int    `json:"max_inline_data"`
}

// DeviceDatabase maps a device name to its default parameters.
type DeviceDatabase map[string]DeviceEntry

// LoadDeviceDatabase reads and parses the device database JSON file at path.
func LoadDeviceDatabase(path string) (DeviceDatabase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindConfigInvalid, path, err)
	}
	var db DeviceDatabase
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, newError(KindConfigInvalid, path, err)
	}
	return db, nil
}

// Lookup returns the entry for name, or KindUnknownDevice if absent.
func (db DeviceDatabase) Lookup(name string) (DeviceEntry, error) {
	entry, ok := db[name]
	if !ok {
		return DeviceEntry{}, newError(KindUnknownDevice, name, nil)
	}
	return entry, nil
}

func (db DeviceDatabase) String() string {
	return fmt.Sprintf("DeviceDatabase(%d entries)", len(db))
}
