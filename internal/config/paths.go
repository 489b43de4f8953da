package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux   = "linux"
	platformDarwin  = "darwin"
	platformWindows = "windows"
)

// Application directory name used across all platforms.
const appName = "saveknight"

// File names inside the platform directories.
const (
	configFileName   = "config.toml"
	tokenFileName    = "device_token.json"
	historyFileName  = "history.db"
	manifestFileName = "manifest.yaml"
	pidFileName      = "watch.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/saveknight).
// On macOS, uses ~/Library/Application Support/saveknight.
// On Windows, uses %AppData%\saveknight.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	case platformWindows:
		return windowsDir("APPDATA", home, filepath.Join("AppData", "Roaming"))
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application data
// (token, history database, machine id).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/saveknight).
// On macOS, config and data share one directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	case platformWindows:
		return windowsDir("LOCALAPPDATA", home, filepath.Join("AppData", "Local"))
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultCacheDir returns the platform-specific directory for cache files.
// On Linux, respects XDG_CACHE_HOME (defaults to ~/.cache/saveknight).
// On macOS, uses ~/Library/Caches/saveknight.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CACHE_HOME", home, ".cache")
	case platformDarwin:
		return filepath.Join(home, "Library", "Caches", appName)
	case platformWindows:
		return filepath.Join(windowsDir("LOCALAPPDATA", home, filepath.Join("AppData", "Local")), "cache")
	default:
		return filepath.Join(home, ".cache", appName)
	}
}

func xdgDir(env, home, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

func windowsDir(env, home, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither SAVEKNIGHT_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// TokenPath is where the device token is persisted.
func TokenPath() string {
	return joinIfDir(DefaultDataDir(), tokenFileName)
}

// HistoryPath is the upload history database.
func HistoryPath() string {
	return joinIfDir(DefaultDataDir(), historyFileName)
}

// ManifestCachePath is the cached copy of the downloaded game catalog.
func ManifestCachePath() string {
	return joinIfDir(DefaultCacheDir(), manifestFileName)
}

// PIDPath is the lock file held by a running watch command.
func PIDPath() string {
	return joinIfDir(DefaultDataDir(), pidFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
