package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration in TOML-like form so
// users can see what defaults and overrides produced.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# config file: %s\n\n", r.ConfigPath)

	ew.printf("api_url = %q\n", r.APIURL)
	if r.DeviceName != "" {
		ew.printf("device_name = %q\n", r.DeviceName)
	}

	ew.printf("\nscan_workers = %d\n", r.ScanWorkers)
	ew.printf("path_timeout = %q\n", r.PathTimeout)
	ew.printf("case_insensitive = %q\n", r.CaseInsensitive)
	ew.printf("double_star_zero = %t\n", r.DoubleStarZero)
	ew.printf("store_user_ids = %s\n", joinQuoted(r.StoreUserIDs))

	ew.printf("\nmanifest_url = %q\n", r.ManifestURL)
	if r.ManifestPath != "" {
		ew.printf("manifest_path = %q\n", r.ManifestPath)
	}

	ew.printf("manifest_max_age = %q\n", r.ManifestMaxAge)

	ew.printf("\nupload_workers = %d\n", r.UploadWorkers)
	ew.printf("refresh_threshold = %q\n", r.RefreshThreshold)

	ew.printf("\nscan_interval = %q\n", r.ScanInterval)
	ew.printf("watch_debounce = %q\n", r.WatchDebounce)
	ew.printf("auto_backup = %s\n", joinQuoted(r.AutoBackup))

	ew.printf("\nlog_level = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n", r.LogFormat)

	ew.printf("\nconnect_timeout = %q\n", r.ConnectTimeout)
	ew.printf("data_timeout = %q\n", r.DataTimeout)
	if r.UserAgent != "" {
		ew.printf("user_agent = %q\n", r.UserAgent)
	}

	for _, cp := range r.CustomPaths {
		ew.printf("\n[[custom_paths]]\ngame = %q\npath = %q\n", cp.Game, cp.Path)
	}

	return ew.err
}

// errWriter remembers the first write error so rendering can ignore
// per-line errors.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}
