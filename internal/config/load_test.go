package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
api_url = "https://saves.example.com/"
device_name = "Steam Deck"

scan_workers = 4
path_timeout = "10s"
case_insensitive = "true"
double_star_zero = false
store_user_ids = ["76561198000000000"]

manifest_url = "https://example.com/manifest.yaml"
manifest_max_age = "24h"

upload_workers = 3
refresh_threshold = "2m"

scan_interval = "15m"
watch_debounce = "2s"
auto_backup = ["Celeste", "Hades"]

log_level = "debug"
log_format = "json"

connect_timeout = "5s"
data_timeout = "30s"
user_agent = "saveknight-test"

[[custom_paths]]
game = "Celeste"
path = "<home>/celeste-extra"

[[custom_paths]]
game = "Homebrew"
path = "<home>/homebrew/*.sav"
`
	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://saves.example.com/", cfg.APIURL)
	assert.Equal(t, "Steam Deck", cfg.DeviceName)
	assert.Equal(t, 4, cfg.ScanWorkers)
	assert.Equal(t, "10s", cfg.PathTimeout)
	assert.Equal(t, "true", cfg.CaseInsensitive)
	assert.False(t, cfg.DoubleStarZero)
	assert.Equal(t, []string{"76561198000000000"}, cfg.StoreUserIDs)
	assert.Equal(t, 3, cfg.UploadWorkers)
	assert.Equal(t, []string{"Celeste", "Hades"}, cfg.AutoBackup)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "saveknight-test", cfg.UserAgent)

	require.Len(t, cfg.CustomPaths, 2)
	assert.Equal(t, CustomPath{Game: "Homebrew", Path: "<home>/homebrew/*.sav"}, cfg.CustomPaths[1])
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "scan_workers = [")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationFails(t *testing.T) {
	path := writeTestConfig(t, "scan_workers = 0\nlog_level = \"loud\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan_workers")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Defaults(t *testing.T) {
	r, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, r.APIURL)
	assert.Equal(t, 8, r.ScanWorkers)
	assert.Equal(t, 30*time.Second, r.PathTimeout)
	assert.Equal(t, 168*time.Hour, r.ManifestMaxAge)
	assert.Equal(t, 2, r.UploadWorkers)
	assert.Equal(t, 5*time.Minute, r.RefreshThreshold)
	assert.Equal(t, 60*time.Minute, r.ScanInterval)
	assert.Equal(t, 5*time.Second, r.WatchDebounce)
	assert.Equal(t, 10*time.Second, r.ConnectTimeout)
	assert.Equal(t, 60*time.Second, r.DataTimeout)
	assert.True(t, r.DoubleStarZero)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, "api_url = \"https://file.example.com\"\nlog_level = \"warn\"\n")

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", r.APIURL)
	assert.Equal(t, path, r.ConfigPath)

	r, err = Resolve(EnvOverrides{ConfigPath: path, APIURL: "https://env.example.com/"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", r.APIURL, "trailing slash trimmed")

	cliURL := "http://localhost:9000"
	level := "debug"
	r, err = Resolve(
		EnvOverrides{ConfigPath: "/does/not/matter.toml", APIURL: "https://env.example.com"},
		CLIOverrides{ConfigPath: path, APIURL: &cliURL, LogLevel: &level},
	)
	require.NoError(t, err)
	assert.Equal(t, cliURL, r.APIURL)
	assert.Equal(t, "debug", r.LogLevel)
	assert.Equal(t, path, r.ConfigPath)
}

func TestResolve_BadOverrideRejected(t *testing.T) {
	bad := "ftp://nope"
	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "x.toml")}, CLIOverrides{APIURL: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}

func TestResolve_ExpandsManifestPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeTestConfig(t, "manifest_path = \"~/games/manifest.yaml\"\n")
	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "games", "manifest.yaml"), r.ManifestPath)
}

func TestCaseInsensitiveFor(t *testing.T) {
	tests := []struct {
		setting string
		goos    string
		want    bool
	}{
		{"auto", "linux", false},
		{"auto", "windows", true},
		{"auto", "darwin", true},
		{"true", "linux", true},
		{"false", "windows", false},
	}

	for _, tt := range tests {
		t.Run(tt.setting+"_"+tt.goos, func(t *testing.T) {
			r := &Resolved{CaseInsensitive: tt.setting}
			assert.Equal(t, tt.want, r.CaseInsensitiveFor(tt.goos))
		})
	}
}

func TestConfigPathFor(t *testing.T) {
	assert.Equal(t, "/cli.toml", ConfigPathFor(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
	assert.Equal(t, "/env.toml", ConfigPathFor(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, DefaultConfigPath(), ConfigPathFor(EnvOverrides{}, CLIOverrides{}))
}
