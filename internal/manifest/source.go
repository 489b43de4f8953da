package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultURL is the upstream ludusavi manifest.
const DefaultURL = "https://raw.githubusercontent.com/mtkennerly/ludusavi-manifest/master/data/manifest.yaml"

// DefaultMaxAge is how long a cached manifest is used before refetching.
const DefaultMaxAge = 7 * 24 * time.Hour

// maxManifestBytes caps the download. The upstream file is tens of MB.
const maxManifestBytes = 256 << 20

// Source locates the manifest: an explicit local file, a fresh cached copy,
// or a download from URL.
type Source struct {
	URL        string
	CachePath  string
	MaxAge     time.Duration
	LocalPath  string // when set, URL and cache are ignored
	GOOS       string // defaults to runtime.GOOS
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger

	nowFunc func() time.Time
}

func (s *Source) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}

	return s.Logger
}

func (s *Source) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}

	return time.Now()
}

func (s *Source) goos() string {
	if s.GOOS == "" {
		return runtime.GOOS
	}

	return s.GOOS
}

// Load returns the registry. A failed download falls back to the cached copy
// even when it is stale; with neither available the registry is empty and
// the failure is logged. Only a local file that cannot be read or parsed is
// an error.
func (s *Source) Load(ctx context.Context) (*Registry, error) {
	logger := s.logger()

	if s.LocalPath != "" {
		data, err := os.ReadFile(s.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("manifest: reading %s: %w", s.LocalPath, err)
		}

		return Parse(data, s.goos())
	}

	if reg, ok := s.loadCache(true); ok {
		return reg, nil
	}

	data, err := s.Fetch(ctx)
	if err == nil {
		reg, parseErr := Parse(data, s.goos())
		if parseErr == nil {
			if writeErr := s.writeCache(data); writeErr != nil {
				logger.Warn("cannot cache manifest", slog.String("error", writeErr.Error()))
			}

			logger.Info("manifest downloaded", slog.Int("games", reg.Len()))

			return reg, nil
		}

		err = parseErr
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logger.Warn("manifest update failed", slog.String("url", s.URL), slog.String("error", err.Error()))

	if reg, ok := s.loadCache(false); ok {
		logger.Info("using stale cached manifest", slog.String("path", s.CachePath))
		return reg, nil
	}

	logger.Warn("no manifest available, game detection is limited to custom paths")

	return NewRegistry(nil), nil
}

// loadCache parses the cached manifest. When fresh is set, a copy older than
// MaxAge is ignored.
func (s *Source) loadCache(fresh bool) (*Registry, bool) {
	if s.CachePath == "" {
		return nil, false
	}

	info, err := os.Stat(s.CachePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger().Debug("cannot stat manifest cache", slog.String("error", err.Error()))
		}

		return nil, false
	}

	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if fresh && s.now().Sub(info.ModTime()) > maxAge {
		return nil, false
	}

	data, err := os.ReadFile(s.CachePath)
	if err != nil {
		s.logger().Debug("cannot read manifest cache", slog.String("error", err.Error()))
		return nil, false
	}

	reg, err := Parse(data, s.goos())
	if err != nil {
		s.logger().Warn("cached manifest is corrupt", slog.String("path", s.CachePath), slog.String("error", err.Error()))
		return nil, false
	}

	return reg, true
}

// Fetch downloads the raw manifest from URL.
func (s *Source) Fetch(ctx context.Context) ([]byte, error) {
	url := s.URL
	if url == "" {
		url = DefaultURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("manifest: creating request: %w", err)
	}

	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest: fetching %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("manifest: reading body: %w", err)
	}

	return data, nil
}

func (s *Source) writeCache(data []byte) error {
	if s.CachePath == "" {
		return nil
	}

	dir := filepath.Dir(s.CachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("manifest: writing cache: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: closing cache: %w", err)
	}

	if err := os.Rename(tmpPath, s.CachePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: renaming cache: %w", err)
	}

	return nil
}
