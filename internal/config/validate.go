package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minScanWorkers     = 1
	maxScanWorkers     = 64
	minUploadWorkers   = 1
	maxUploadWorkers   = 16
	minPathTimeout     = 1 * time.Second
	minManifestMaxAge  = 1 * time.Minute
	minScanInterval    = 1 * time.Minute
	minWatchDebounce   = 100 * time.Millisecond
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	maxRefreshLeadTime = 24 * time.Hour
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.APIConfig)...)
	errs = append(errs, validateScan(&cfg.ScanConfig)...)
	errs = append(errs, validateManifest(&cfg.ManifestConfig)...)
	errs = append(errs, validateTransfer(&cfg.TransferConfig)...)
	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	return validateURL("api_url", a.APIURL)
}

func validateURL(field, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)}
	}

	return nil
}

func validateScan(s *ScanConfig) []error {
	var errs []error

	if s.ScanWorkers < minScanWorkers || s.ScanWorkers > maxScanWorkers {
		errs = append(errs, fmt.Errorf("scan_workers: must be between %d and %d, got %d",
			minScanWorkers, maxScanWorkers, s.ScanWorkers))
	}

	errs = append(errs, validateDurationMin("path_timeout", s.PathTimeout, minPathTimeout)...)

	switch s.CaseInsensitive {
	case caseAuto, caseTrue, caseFalse:
	default:
		errs = append(errs, fmt.Errorf("case_insensitive: must be one of auto, true, false; got %q",
			s.CaseInsensitive))
	}

	for i, id := range s.StoreUserIDs {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) {
			errs = append(errs, fmt.Errorf("store_user_ids[%d]: must be a single path segment, got %q", i, id))
		}
	}

	for i, cp := range s.CustomPaths {
		if strings.TrimSpace(cp.Game) == "" {
			errs = append(errs, fmt.Errorf("custom_paths[%d]: game must not be empty", i))
		}

		if strings.TrimSpace(cp.Path) == "" {
			errs = append(errs, fmt.Errorf("custom_paths[%d]: path must not be empty", i))
		}
	}

	return errs
}

func validateManifest(m *ManifestConfig) []error {
	var errs []error

	if m.ManifestPath == "" {
		errs = append(errs, validateURL("manifest_url", m.ManifestURL)...)
	}

	errs = append(errs, validateDurationMin("manifest_max_age", m.ManifestMaxAge, minManifestMaxAge)...)

	return errs
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.UploadWorkers < minUploadWorkers || t.UploadWorkers > maxUploadWorkers {
		errs = append(errs, fmt.Errorf("upload_workers: must be between %d and %d, got %d",
			minUploadWorkers, maxUploadWorkers, t.UploadWorkers))
	}

	d, err := time.ParseDuration(t.RefreshThreshold)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("refresh_threshold: invalid duration %q: %w", t.RefreshThreshold, err))
	case d < 0 || d > maxRefreshLeadTime:
		errs = append(errs, fmt.Errorf("refresh_threshold: must be between 0 and %s, got %s", maxRefreshLeadTime, d))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("scan_interval", w.ScanInterval, minScanInterval)...)
	errs = append(errs, validateDurationMin("watch_debounce", w.WatchDebounce, minWatchDebounce)...)

	for i, g := range w.AutoBackup {
		if strings.TrimSpace(g) == "" {
			errs = append(errs, fmt.Errorf("auto_backup[%d]: game name must not be empty", i))
		}
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
