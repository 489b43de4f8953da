// Package watch reruns detection when save directories change. Changes are
// debounced so a game writing several files triggers one rescan; a ticker
// forces a rescan even when nothing was observed.
package watch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for Options.
const (
	DefaultDebounce = 5 * time.Second
	DefaultInterval = 60 * time.Minute
	DefaultMaxDirs  = 4096
)

const (
	errInitBackoff = 1 * time.Second
	errMaxBackoff  = 30 * time.Second
)

// FsWatcher is the subset of fsnotify.Watcher the loop needs.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

// NewFsnotifyWatcher returns an FsWatcher backed by the OS notifier.
func NewFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// RescanFunc runs one detection pass and returns the save paths to watch
// until the next pass.
type RescanFunc func(ctx context.Context) ([]string, error)

// Options tunes a Loop.
type Options struct {
	Debounce time.Duration
	Interval time.Duration
	MaxDirs  int
}

// Loop drives rescans from filesystem events and a ticker.
type Loop struct {
	watcher FsWatcher
	rescan  RescanFunc
	opts    Options
	logger  *slog.Logger

	watched   map[string]struct{}
	trigger   chan struct{}
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewLoop creates a Loop. The loop owns watcher and closes it when Run
// returns.
func NewLoop(watcher FsWatcher, rescan RescanFunc, opts Options, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	if opts.MaxDirs <= 0 {
		opts.MaxDirs = DefaultMaxDirs
	}

	return &Loop{
		watcher:   watcher,
		rescan:    rescan,
		opts:      opts,
		logger:    logger,
		watched:   make(map[string]struct{}),
		trigger:   make(chan struct{}, 1),
		sleepFunc: timeSleep,
	}
}

// Run performs an initial rescan, then loops until ctx is canceled or the
// watcher closes. A failing rescan is logged and retried on the next
// trigger.
func (l *Loop) Run(ctx context.Context) error {
	defer l.watcher.Close()

	l.runRescan(ctx, "startup")

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	// Nil until an event arms it; receiving from a nil channel blocks.
	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)

	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-l.watcher.Events():
			if !ok {
				return nil
			}

			if !relevant(ev) {
				continue
			}

			l.logger.Debug("save path changed",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			if debounce == nil {
				debounce = time.NewTimer(l.opts.Debounce)
			} else {
				debounce.Reset(l.opts.Debounce)
			}

			debounceC = debounce.C
			errBackoff = errInitBackoff

		case err, ok := <-l.watcher.Errors():
			if !ok {
				return nil
			}

			l.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if l.sleepFunc(ctx, errBackoff) != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, errMaxBackoff)

		case <-debounceC:
			debounceC = nil
			l.runRescan(ctx, "change")

		case <-ticker.C:
			l.runRescan(ctx, "interval")

		case <-l.trigger:
			l.runRescan(ctx, "requested")
		}
	}
}

// Trigger asks Run for an immediate rescan. Requests made while one is
// already pending are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Watched returns the number of watched directories.
func (l *Loop) Watched() int {
	return len(l.watched)
}

func (l *Loop) runRescan(ctx context.Context, reason string) {
	l.logger.Info("rescanning saves", slog.String("reason", reason))

	paths, err := l.rescan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("rescan failed", slog.String("error", err.Error()))
		}

		return
	}

	l.sync(paths)
}

// sync replaces the watch set with the directories under paths.
func (l *Loop) sync(paths []string) {
	want := make(map[string]struct{})

	for _, p := range paths {
		if len(want) >= l.opts.MaxDirs {
			l.logger.Warn("watch limit reached", slog.Int("max_dirs", l.opts.MaxDirs))
			break
		}

		l.collect(p, want)
	}

	for dir := range l.watched {
		if _, ok := want[dir]; ok {
			continue
		}

		if err := l.watcher.Remove(dir); err != nil {
			l.logger.Debug("cannot remove watch", slog.String("path", dir), slog.String("error", err.Error()))
		}

		delete(l.watched, dir)
	}

	for dir := range want {
		if _, ok := l.watched[dir]; ok {
			continue
		}

		if err := l.watcher.Add(dir); err != nil {
			l.logger.Warn("cannot watch path", slog.String("path", dir), slog.String("error", err.Error()))
			continue
		}

		l.watched[dir] = struct{}{}
	}
}

// collect adds root and, for a directory, every directory beneath it.
func (l *Loop) collect(root string, into map[string]struct{}) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are not watched
		}

		if path != root && !d.IsDir() {
			return nil
		}

		if len(into) >= l.opts.MaxDirs {
			return filepath.SkipAll
		}

		into[path] = struct{}{}

		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		l.logger.Debug("cannot walk save path", slog.String("path", root), slog.String("error", err.Error()))
	}
}

// relevant drops chmod-only events, which editors and indexers emit
// without changing content.
func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
