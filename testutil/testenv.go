// Package testutil provides shared helpers for unit, CLI and E2E tests. It
// depends only on stdlib so that E2E tests, which exercise the built binary,
// can use it without importing internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Env vars the binary reads that must never leak from a developer's shell
// into a test run.
var appEnvVars = []string{"SAVEKNIGHT_CONFIG", "SAVEKNIGHT_API_URL", "SAVEKNIGHT_SESSION"}

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// Dirs are the isolated directories created by Isolate.
type Dirs struct {
	Root   string
	Home   string
	Config string
	Data   string
	Cache  string
}

// Isolate points HOME and the XDG base directories below root and unsets
// the app's own env vars, then verifies nothing still resolves outside
// root.
func Isolate(root string) (Dirs, error) {
	d := Dirs{
		Root:   root,
		Home:   filepath.Join(root, "home"),
		Config: filepath.Join(root, "config"),
		Data:   filepath.Join(root, "data"),
		Cache:  filepath.Join(root, "cache"),
	}

	for _, dir := range []string{d.Home, d.Config, d.Data, d.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	for _, v := range appEnvVars {
		os.Unsetenv(v)
	}

	os.Setenv("HOME", d.Home)
	os.Setenv("XDG_CONFIG_HOME", d.Config)
	os.Setenv("XDG_DATA_HOME", d.Data)
	os.Setenv("XDG_CACHE_HOME", d.Cache)

	home, err := os.UserHomeDir()
	if err != nil || !strings.HasPrefix(home, root) {
		return Dirs{}, fmt.Errorf("isolation failed: UserHomeDir() = %q", home)
	}

	return d, nil
}

// WriteFile creates path with content, making parent directories.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(content), 0o600)
}
