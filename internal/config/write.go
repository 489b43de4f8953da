package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the file is present.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the starter file written by "config init". Every setting
// is present as a commented-out default.
const configTemplate = `# saveknight configuration

# Backup service
# api_url = "` + DefaultAPIURL + `"
# device_name = ""

# Detection
# scan_workers = 8
# path_timeout = "30s"
# case_insensitive = "auto"
# double_star_zero = true
# store_user_ids = []

# Game catalog
# manifest_url = "` + DefaultManifestURL + `"
# manifest_path = ""
# manifest_max_age = "168h"

# Uploads
# upload_workers = 2
# refresh_threshold = "5m"

# Watch mode
# scan_interval = "60m"
# watch_debounce = "5s"
# auto_backup = []

# Logging: debug, info, warn, error / auto, text, json
# log_level = "info"
# log_format = "auto"

# Network
# connect_timeout = "10s"
# data_timeout = "60s"
# user_agent = ""

# Extra save locations, one table per pattern:
# [[custom_paths]]
# game = "My Game"
# path = "<home>/.mygame/saves"
`

// WriteDefault writes the starter config to path. An existing file is
// never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
