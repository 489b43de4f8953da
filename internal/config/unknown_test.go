package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_section = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_UnknownKey_Typo(t *testing.T) {
	path := writeTestConfig(t, "scan_worker = 4\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "scan_workers"`)
}

func TestLoad_UnknownKey_InCustomPaths(t *testing.T) {
	path := writeTestConfig(t, `
[[custom_paths]]
game = "Celeste"
pth = "<home>/celeste"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom_paths")
	assert.Contains(t, err.Error(), `"path"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "completely_unrelated_key = true\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_ReportsAll(t *testing.T) {
	path := writeTestConfig(t, "log_levl = \"debug\"\nuplod_workers = 3\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "upload_workers")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"scan_worker", "scan_workers", 1},
		{"uplod_workers", "upload_workers", 1},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	known := []string{"scan_interval", "scan_workers", "data_timeout"}
	assert.Equal(t, "scan_workers", closestMatch("scan_worker", known))
	assert.Equal(t, "data_timeout", closestMatch("data_timout", known))
	assert.Equal(t, "", closestMatch("completely_unrelated", known))
}
