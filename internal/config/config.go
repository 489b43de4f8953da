// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for saveknight. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags). All
// keys are flat and live at the top level of the file.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded sections only group fields in Go; in the file every key is
// top-level.
type Config struct {
	APIConfig
	ScanConfig
	ManifestConfig
	TransferConfig
	WatchConfig
	LoggingConfig
	NetworkConfig
}

// APIConfig selects the backup service and how this device is named there.
type APIConfig struct {
	APIURL     string `toml:"api_url"`
	DeviceName string `toml:"device_name"`
}

// ScanConfig controls save detection.
type ScanConfig struct {
	ScanWorkers     int          `toml:"scan_workers"`
	PathTimeout     string       `toml:"path_timeout"`
	CaseInsensitive string       `toml:"case_insensitive"`
	DoubleStarZero  bool         `toml:"double_star_zero"`
	StoreUserIDs    []string     `toml:"store_user_ids"`
	CustomPaths     []CustomPath `toml:"custom_paths"`
}

// CustomPath adds a save path pattern to a game.
type CustomPath struct {
	Game string `toml:"game"`
	Path string `toml:"path"`
}

// ManifestConfig controls where the game catalog comes from.
type ManifestConfig struct {
	ManifestURL    string `toml:"manifest_url"`
	ManifestPath   string `toml:"manifest_path"`
	ManifestMaxAge string `toml:"manifest_max_age"`
}

// TransferConfig controls upload concurrency and token refresh.
type TransferConfig struct {
	UploadWorkers    int    `toml:"upload_workers"`
	RefreshThreshold string `toml:"refresh_threshold"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	ScanInterval  string   `toml:"scan_interval"`
	WatchDebounce string   `toml:"watch_debounce"`
	AutoBackup    []string `toml:"auto_backup"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	APIURL     *string // --api-url flag
	LogLevel   *string // --log-level flag
}

// Resolved is the fully merged, validated configuration with durations
// parsed. Commands read settings from here, never from Config.
type Resolved struct {
	ConfigPath string

	APIURL     string
	DeviceName string

	ScanWorkers     int
	PathTimeout     time.Duration
	CaseInsensitive string
	DoubleStarZero  bool
	StoreUserIDs    []string
	CustomPaths     []CustomPath

	ManifestURL    string
	ManifestPath   string
	ManifestMaxAge time.Duration

	UploadWorkers    int
	RefreshThreshold time.Duration

	ScanInterval  time.Duration
	WatchDebounce time.Duration
	AutoBackup    []string

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	UserAgent      string
}

// CaseInsensitiveFor reports whether path matching folds case on goos.
// "auto" follows the platform's usual filesystem.
func (r *Resolved) CaseInsensitiveFor(goos string) bool {
	switch r.CaseInsensitive {
	case caseTrue:
		return true
	case caseFalse:
		return false
	default:
		return goos == platformWindows || goos == platformDarwin
	}
}
