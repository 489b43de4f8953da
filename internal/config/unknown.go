package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid top-level keys in the config file.
var knownGlobalKeys = map[string]bool{
	// API settings
	"api_url": true, "device_name": true,
	// Scan settings
	"scan_workers": true, "path_timeout": true, "case_insensitive": true,
	"double_star_zero": true, "store_user_ids": true, "custom_paths": true,
	// Manifest settings
	"manifest_url": true, "manifest_path": true, "manifest_max_age": true,
	// Transfer settings
	"upload_workers": true, "refresh_threshold": true,
	// Watch settings
	"scan_interval": true, "watch_debounce": true, "auto_backup": true,
	// Logging settings
	"log_level": true, "log_format": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
}

// knownCustomPathKeys are the valid keys inside a [[custom_paths]] table.
var knownCustomPathKeys = []string{"game", "path"}

// knownGlobalKeysList is the sorted slice form of knownGlobalKeys for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownGlobalKeysList = func() []string {
	keys := make([]string, 0, len(knownGlobalKeys))
	for k := range knownGlobalKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := buildKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known key.
func buildKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)
	fieldName := parts[0]

	if len(parts) > 1 && fieldName == "custom_paths" {
		leaf := parts[1]

		if suggestion := closestMatch(leaf, knownCustomPathKeys); suggestion != "" {
			return fmt.Errorf("unknown key %q in custom_paths; did you mean %q?", leaf, suggestion)
		}

		return fmt.Errorf("unknown key %q in custom_paths", leaf)
	}

	if knownGlobalKeys[fieldName] {
		// A known scalar key written as a table: its type error is
		// reported by the decoder, not here.
		return nil
	}

	if suggestion := closestMatch(fieldName, knownGlobalKeysList); suggestion != "" {
		return fmt.Errorf("unknown config key %q; did you mean %q?", fieldName, suggestion)
	}

	return fmt.Errorf("unknown config key %q", fieldName)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization: two rows instead of a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
