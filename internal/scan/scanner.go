// Package scan detects which games have saves on this machine. It resolves
// each manifest entry's patterns, walks the resulting paths and aggregates
// per-game file counts, byte totals and latest modification times.
package scan

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saveknight/saveknight-go/internal/manifest"
	"github.com/saveknight/saveknight-go/internal/pathexpand"
)

// Default tuning for NewScanner.
const (
	DefaultWorkers     = 8
	DefaultPathTimeout = 30 * time.Second
)

// DetectedSavePath is the scan result for one resolved path.
type DetectedSavePath struct {
	Pattern        string `json:"pattern"`
	ResolvedPath   string `json:"resolved_path"`
	Exists         bool   `json:"exists"`
	FileCount      int    `json:"file_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

// DetectedGame aggregates every path of one game. TotalSizeBytes is always
// the sum of Paths[i].TotalSizeBytes. LastModified is nil when no file was
// found.
type DetectedGame struct {
	Name           string             `json:"name"`
	Paths          []DetectedSavePath `json:"paths"`
	TotalSizeBytes int64              `json:"total_size_bytes"`
	LastModified   *time.Time         `json:"last_modified,omitempty"`
}

// FileCount is the number of files across all paths.
func (g *DetectedGame) FileCount() int {
	n := 0
	for _, p := range g.Paths {
		n += p.FileCount
	}

	return n
}

// ExistingPaths returns the resolved paths that exist, in order.
func (g *DetectedGame) ExistingPaths() []string {
	var out []string

	for _, p := range g.Paths {
		if p.Exists {
			out = append(out, p.ResolvedPath)
		}
	}

	return out
}

// PathStats is the outcome of scanning a single resolved path.
type PathStats struct {
	Path         DetectedSavePath
	LastModified time.Time // zero when the path holds no files
	Truncated    bool
}

// EntryError records a manifest entry that could not be scanned.
type EntryError struct {
	GameName string `json:"game_name"`
	Err      error  `json:"-"`
}

func (e EntryError) Error() string {
	return e.GameName + ": " + e.Err.Error()
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a full scan.
type Result struct {
	Games   []DetectedGame
	Skipped []EntryError
}

// PatternResolver is the part of pathexpand.Resolver the scanner uses.
type PatternResolver interface {
	ResolveAll(patterns []string) ([]pathexpand.ResolvedPath, error)
}

// Options tunes a Scanner.
type Options struct {
	Workers     int
	PathTimeout time.Duration
}

// Scanner walks resolved paths. It is safe for concurrent use.
type Scanner struct {
	resolver PatternResolver
	walker   *Walker
	workers  int
	logger   *slog.Logger
}

// NewScanner creates a Scanner. Zero options take the package defaults.
func NewScanner(resolver PatternResolver, opts Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	if opts.PathTimeout <= 0 {
		opts.PathTimeout = DefaultPathTimeout
	}

	return &Scanner{
		resolver: resolver,
		walker:   NewWalker(opts.PathTimeout, logger),
		workers:  opts.Workers,
		logger:   logger,
	}
}

// Scan scans every entry with a bounded worker pool. Entries with pattern
// errors are reported in Skipped; games with no existing path are left out.
// The only error is ctx's, when the scan was canceled.
func (s *Scanner) Scan(ctx context.Context, entries []manifest.Entry) (*Result, error) {
	start := time.Now()

	games := make([]*DetectedGame, len(entries))
	errs := make([]error, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			games[i], errs[i] = s.ScanGame(gctx, entries[i])

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}

	for i, game := range games {
		if errs[i] != nil {
			s.logger.Warn("scan: skipping manifest entry",
				slog.String("game", entries[i].GameName),
				slog.String("error", errs[i].Error()),
			)
			res.Skipped = append(res.Skipped, EntryError{GameName: entries[i].GameName, Err: errs[i]})

			continue
		}

		if game != nil {
			res.Games = append(res.Games, *game)
		}
	}

	slices.SortFunc(res.Games, func(a, b DetectedGame) int {
		if c := cmp.Compare(b.TotalSizeBytes, a.TotalSizeBytes); c != 0 {
			return c
		}

		return cmp.Compare(a.Name, b.Name)
	})

	s.logger.Info("scan complete",
		slog.Int("entries", len(entries)),
		slog.Int("games", len(res.Games)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return res, nil
}

// ScanGame scans one entry. It returns nil, nil when none of the game's
// paths exist, and a pattern error when the entry is unusable.
func (s *Scanner) ScanGame(ctx context.Context, entry manifest.Entry) (*DetectedGame, error) {
	resolved, err := s.resolver.ResolveAll(entry.PathPatterns)
	if err != nil {
		return nil, err
	}

	game := &DetectedGame{Name: entry.GameName, Paths: make([]DetectedSavePath, 0, len(resolved))}

	var (
		latest  time.Time
		anyPath bool
	)

	for _, rp := range resolved {
		ps := s.ScanPath(ctx, rp)

		game.Paths = append(game.Paths, ps.Path)
		game.TotalSizeBytes += ps.Path.TotalSizeBytes

		if ps.Path.Exists {
			anyPath = true
		}

		if ps.LastModified.After(latest) {
			latest = ps.LastModified
		}
	}

	if !anyPath {
		return nil, nil //nolint:nilnil // nil game means "not installed"
	}

	if !latest.IsZero() {
		game.LastModified = &latest
	}

	s.logger.Debug("scan: detected game",
		slog.String("game", game.Name),
		slog.Int("paths", len(game.Paths)),
		slog.Int64("bytes", game.TotalSizeBytes),
	)

	return game, nil
}

// ScanPath walks one resolved path. A path that cannot be stat'ed is
// reported with Exists=false and zero totals.
func (s *Scanner) ScanPath(ctx context.Context, rp pathexpand.ResolvedPath) PathStats {
	ps := PathStats{Path: DetectedSavePath{
		Pattern:      rp.Pattern,
		ResolvedPath: rp.AbsolutePath,
	}}

	if !rp.Exists {
		return ps
	}

	stats, err := s.walker.Walk(ctx, rp.AbsolutePath, nil)
	if err != nil {
		s.logger.Debug("scan: path not readable",
			slog.String("path", rp.AbsolutePath),
			slog.String("error", err.Error()),
		)

		return ps
	}

	ps.Path.Exists = true
	ps.Path.FileCount = stats.Files
	ps.Path.TotalSizeBytes = stats.Bytes
	ps.LastModified = stats.Latest
	ps.Truncated = stats.Truncated

	return ps
}
