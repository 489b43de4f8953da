package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// machineIDFile is the generated id's file name inside the data directory.
const machineIDFile = "machine-id"

// systemMachineIDPaths are checked in order before generating an id.
var systemMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineID returns a stable identifier for this machine: the OS machine id
// when one is readable, otherwise a UUID generated once and kept in dataDir.
func MachineID(dataDir string) (string, error) {
	for _, p := range systemMachineIDPaths {
		if id := readID(p); id != "" {
			return id, nil
		}
	}

	path := filepath.Join(dataDir, machineIDFile)
	if id := readID(path); id != "" {
		return id, nil
	}

	id := uuid.NewString()

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("auth: creating data directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("auth: writing machine id: %w", err)
	}

	return id, nil
}

func readID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// DeviceType is the device kind reported at registration.
func DeviceType(goos string) string {
	switch goos {
	case "darwin":
		return "mac"
	case "windows", "linux":
		return goos
	default:
		return "other"
	}
}
