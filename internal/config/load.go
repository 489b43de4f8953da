package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := ConfigPathFor(env, cli)

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.APIURL != "" {
		cfg.APIURL = env.APIURL
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.APIURL != nil {
		cfg.APIURL = *cli.APIURL
	}

	if cli.LogLevel != nil {
		cfg.LogLevel = *cli.LogLevel
	}

	// 5. Validate again: overrides bypass the file-level checks.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	r := resolve(cfg)
	r.ConfigPath = cfgPath

	return r, nil
}

// ConfigPathFor returns the config file location: --config, then
// SAVEKNIGHT_CONFIG, then the platform default.
func ConfigPathFor(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath
	case env.ConfigPath != "":
		return env.ConfigPath
	default:
		return DefaultConfigPath()
	}
}

// resolve converts a validated Config. Durations were checked by Validate,
// so parse errors cannot occur here.
func resolve(cfg *Config) *Resolved {
	return &Resolved{
		APIURL:     strings.TrimRight(cfg.APIURL, "/"),
		DeviceName: cfg.DeviceName,

		ScanWorkers:     cfg.ScanWorkers,
		PathTimeout:     mustDuration(cfg.PathTimeout),
		CaseInsensitive: cfg.CaseInsensitive,
		DoubleStarZero:  cfg.DoubleStarZero,
		StoreUserIDs:    cfg.StoreUserIDs,
		CustomPaths:     cfg.CustomPaths,

		ManifestURL:    cfg.ManifestURL,
		ManifestPath:   expandTilde(cfg.ManifestPath),
		ManifestMaxAge: mustDuration(cfg.ManifestMaxAge),

		UploadWorkers:    cfg.UploadWorkers,
		RefreshThreshold: mustDuration(cfg.RefreshThreshold),

		ScanInterval:  mustDuration(cfg.ScanInterval),
		WatchDebounce: mustDuration(cfg.WatchDebounce),
		AutoBackup:    cfg.AutoBackup,

		LogLevel:  cfg.LogLevel,
		LogFormat: cfg.LogFormat,

		ConnectTimeout: mustDuration(cfg.ConnectTimeout),
		DataTimeout:    mustDuration(cfg.DataTimeout),
		UserAgent:      cfg.UserAgent,
	}
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, p[2:])
}
