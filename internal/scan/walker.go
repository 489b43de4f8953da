package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// errDeadline stops a walk whose path timeout has passed.
var errDeadline = errors.New("scan: path timeout reached")

// FileVisitor is called for each regular file found by a walk. path is the
// filesystem path to open; rel is the slash-separated name relative to the
// walk root (the base name when the root is itself a file). Returning an
// error aborts the walk with that error.
type FileVisitor func(path, rel string, info fs.FileInfo) error

// WalkStats summarizes one walk. Totals are accumulated as files are seen.
type WalkStats struct {
	Files     int
	Bytes     int64
	Latest    time.Time // zero when no file was seen
	Skipped   int       // entries that could not be read
	Truncated bool      // the timeout stopped the walk early
}

// Walker enumerates regular files under a root. Symlinked directories are
// followed only when their target stays under the root, and every real
// directory is entered at most once. Symlinked files are not followed; their
// in-root targets are found by the walk itself.
//
// With a timeout, the root stat and every directory listing run against the
// walk deadline: a call that blocks past it (an unresponsive network share)
// ends the walk, and the blocked goroutine is abandoned until the OS returns.
type Walker struct {
	timeout time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time

	// readDir lists a directory. Tests override it to inject failures.
	readDir func(name string) ([]os.DirEntry, error)
}

// NewWalker creates a Walker. A zero timeout disables the per-walk deadline.
func NewWalker(timeout time.Duration, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Walker{timeout: timeout, logger: logger, nowFunc: time.Now, readDir: os.ReadDir}
}

// walkState is the per-call mutable state, so a Walker can be shared.
type walkState struct {
	realRoot string
	visited  map[string]bool
	deadline time.Time
	visit    FileVisitor
	stats    WalkStats
}

// Walk enumerates root. An error is returned when root cannot be stat'ed or,
// for a directory, listed; callers treat that as a missing path. Errors below
// the root are counted in Skipped and logged at debug. visit may be nil.
func (w *Walker) Walk(ctx context.Context, root string, visit FileVisitor) (WalkStats, error) {
	st := &walkState{visit: visit}
	if w.timeout > 0 {
		st.deadline = w.nowFunc().Add(w.timeout)
	}

	info, err := bounded(w, st.deadline, func() (fs.FileInfo, error) {
		return os.Stat(root)
	})
	if err != nil {
		return WalkStats{}, fmt.Errorf("scan: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return st.stats, nil
		}

		if err := w.addFile(st, root, filepath.Base(root), info); err != nil {
			return st.stats, err
		}

		return st.stats, nil
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return WalkStats{}, fmt.Errorf("scan: resolving %s: %w", root, err)
	}

	st.realRoot = filepath.Clean(realRoot)
	st.visited = map[string]bool{st.realRoot: true}

	entries, err := w.list(st, root)
	if err != nil {
		return WalkStats{}, fmt.Errorf("scan: reading %s: %w", root, err)
	}

	err = w.walkEntries(ctx, st, root, st.realRoot, "", entries)
	if errors.Is(err, errDeadline) {
		st.stats.Truncated = true
		w.logger.Warn("scan: path timeout reached, keeping partial totals",
			slog.String("path", root),
			slog.Duration("timeout", w.timeout),
			slog.Int("files", st.stats.Files),
		)

		return st.stats, nil
	}

	return st.stats, err
}

func (w *Walker) walkDir(ctx context.Context, st *walkState, dir, realDir, rel string) error {
	entries, err := w.list(st, dir)
	if errors.Is(err, errDeadline) {
		return err
	}

	if err != nil {
		st.stats.Skipped++
		w.logger.Debug("scan: cannot read directory, skipping",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return w.walkEntries(ctx, st, dir, realDir, rel, entries)
}

func (w *Walker) walkEntries(ctx context.Context, st *walkState, dir, realDir, rel string, entries []os.DirEntry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !st.deadline.IsZero() && w.nowFunc().After(st.deadline) {
			return errDeadline
		}

		if err := w.processEntry(ctx, st, dir, realDir, rel, entry); err != nil {
			return err
		}
	}

	return nil
}

func (w *Walker) processEntry(ctx context.Context, st *walkState, dir, realDir, rel string, entry os.DirEntry) error {
	name := entry.Name()
	full := filepath.Join(dir, name)
	entryRel := joinRel(rel, name)

	if entry.Type()&os.ModeSymlink != 0 {
		return w.processSymlink(ctx, st, full, entryRel)
	}

	if entry.IsDir() {
		realPath := filepath.Join(realDir, name)
		if st.visited[realPath] {
			return nil
		}

		st.visited[realPath] = true

		return w.walkDir(ctx, st, full, realPath, entryRel)
	}

	info, err := entry.Info()
	if err != nil {
		st.stats.Skipped++
		w.logger.Debug("scan: cannot stat file, skipping",
			slog.String("path", full),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	return w.addFile(st, full, entryRel, info)
}

// processSymlink follows a symlinked directory whose target is under the
// walk root and has not been entered yet. Everything else is skipped.
func (w *Walker) processSymlink(ctx context.Context, st *walkState, full, rel string) error {
	target, err := filepath.EvalSymlinks(full)
	if err != nil {
		st.stats.Skipped++
		w.logger.Debug("scan: broken symlink, skipping", slog.String("path", full))

		return nil
	}

	target = filepath.Clean(target)
	if !within(st.realRoot, target) {
		w.logger.Debug("scan: symlink leaves save root, skipping",
			slog.String("path", full),
			slog.String("target", target),
		)

		return nil
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() || st.visited[target] {
		return nil
	}

	st.visited[target] = true

	return w.walkDir(ctx, st, full, target, rel)
}

func (w *Walker) addFile(st *walkState, path, rel string, info fs.FileInfo) error {
	if st.visit != nil {
		if err := st.visit(path, rel, info); err != nil {
			return err
		}
	}

	st.stats.Files++
	st.stats.Bytes += info.Size()

	if mt := info.ModTime(); mt.After(st.stats.Latest) {
		st.stats.Latest = mt
	}

	return nil
}

// list reads dir within the walk deadline.
func (w *Walker) list(st *walkState, dir string) ([]os.DirEntry, error) {
	return bounded(w, st.deadline, func() ([]os.DirEntry, error) {
		return w.readDir(dir)
	})
}

type boundedResult[T any] struct {
	val T
	err error
}

// bounded runs fn, giving up with errDeadline once deadline passes. fn keeps
// running in the background after a give-up and its result is discarded.
func bounded[T any](w *Walker, deadline time.Time, fn func() (T, error)) (T, error) {
	if deadline.IsZero() {
		return fn()
	}

	var zero T

	remaining := deadline.Sub(w.nowFunc())
	if remaining <= 0 {
		return zero, errDeadline
	}

	done := make(chan boundedResult[T], 1)

	go func() {
		v, err := fn()
		done <- boundedResult[T]{val: v, err: err}
	}()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.val, res.err
	case <-timer.C:
		return zero, errDeadline
	}
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

// within reports whether p is root or below it.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
