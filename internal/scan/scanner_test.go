package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveknight/saveknight-go/internal/manifest"
	"github.com/saveknight/saveknight-go/internal/pathexpand"
)

func writeFile(t *testing.T, root, rel string, size int, mtime time.Time) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))

	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}
}

func newTestScanner(t *testing.T, home string) *Scanner {
	t.Helper()

	r := pathexpand.NewResolver(
		pathexpand.Platform{Home: home, Documents: filepath.Join(home, "Documents")},
		pathexpand.Policy{DoubleStarMatchesZero: true},
		nil,
	)

	return NewScanner(r, Options{Workers: 4}, nil)
}

func TestScan_ExampleGameScenario(t *testing.T) {
	home := t.TempDir()
	newest := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, home, "ExampleGame/saves/slot1.sav", 1024, newest.Add(-time.Hour))
	writeFile(t, home, "ExampleGame/saves/sub/slot2.sav", 3072, newest)

	s := newTestScanner(t, home)

	res, err := s.Scan(t.Context(), []manifest.Entry{{
		GameName:     "Example Game",
		PathPatterns: []string{"<home>/ExampleGame/saves", "<documents>/ExampleGame"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Games, 1)

	g := res.Games[0]
	assert.Equal(t, "Example Game", g.Name)
	assert.Equal(t, int64(4096), g.TotalSizeBytes)
	assert.Equal(t, 2, g.FileCount())
	require.NotNil(t, g.LastModified)
	assert.True(t, newest.Equal(*g.LastModified))

	require.Len(t, g.Paths, 2)
	assert.True(t, g.Paths[0].Exists)
	assert.Equal(t, 2, g.Paths[0].FileCount)
	assert.False(t, g.Paths[1].Exists, "missing paths are kept")
	assert.Zero(t, g.Paths[1].TotalSizeBytes)

	assert.Equal(t, []string{filepath.Join(home, "ExampleGame", "saves")}, g.ExistingPaths())
}

func TestScan_AggregateInvariant(t *testing.T) {
	home := t.TempDir()
	writeFile(t, home, "A/one/x.sav", 10, time.Time{})
	writeFile(t, home, "A/two/y.sav", 20, time.Time{})
	writeFile(t, home, "A/two/z.sav", 30, time.Time{})
	writeFile(t, home, "A/single.dat", 5, time.Time{})

	s := newTestScanner(t, home)

	res, err := s.Scan(t.Context(), []manifest.Entry{{
		GameName:     "A",
		PathPatterns: []string{"<home>/A/*", "<home>/A/single.dat"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Games, 1)

	g := res.Games[0]

	var sum int64
	for _, p := range g.Paths {
		sum += p.TotalSizeBytes
	}

	assert.Equal(t, sum, g.TotalSizeBytes)
	assert.Equal(t, int64(65), g.TotalSizeBytes, "single.dat matched by * is not counted twice")
	assert.Len(t, g.Paths, 3)
}

func TestScan_ExcludesGamesWithoutPaths(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "Empty", "saves"), 0o755))

	s := newTestScanner(t, home)

	res, err := s.Scan(t.Context(), []manifest.Entry{
		{GameName: "Not Installed", PathPatterns: []string{"<home>/Nope/saves", "<home>/Nope/*/x"}},
		{GameName: "Unavailable", PathPatterns: []string{"<savedGames>/Game"}},
		{GameName: "Empty Dir", PathPatterns: []string{"<home>/Empty/saves"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Games, 1)

	g := res.Games[0]
	assert.Equal(t, "Empty Dir", g.Name)
	assert.Zero(t, g.TotalSizeBytes)
	assert.Nil(t, g.LastModified)
}

func TestScan_WindowsPatternsDoNotHideHomeSave(t *testing.T) {
	home := t.TempDir()
	writeFile(t, home, "ExampleGame/saves/slot.sav", 512, time.Time{})

	const doc = `
Example Game:
  files:
    <winAppData>/ExampleGame:
      when:
        - os: windows
    <winDocuments>/My Games/Example:
      when:
        - store: steam
    <home>/ExampleGame/saves:
      tags: [save]
`

	for _, goos := range []string{"windows", "linux"} {
		t.Run(goos, func(t *testing.T) {
			reg, err := manifest.Parse([]byte(doc), goos)
			require.NoError(t, err)

			res, err := newTestScanner(t, home).Scan(t.Context(), reg.Entries())
			require.NoError(t, err)
			assert.Empty(t, res.Skipped)
			require.Len(t, res.Games, 1)
			assert.Equal(t, int64(512), res.Games[0].TotalSizeBytes)
		})
	}
}

func TestScan_PatternErrorSkipsEntryOnly(t *testing.T) {
	home := t.TempDir()
	writeFile(t, home, "Good/save.dat", 7, time.Time{})

	s := newTestScanner(t, home)

	res, err := s.Scan(t.Context(), []manifest.Entry{
		{GameName: "Broken", PathPatterns: []string{"<home>/a**b"}},
		{GameName: "Unknown Var", PathPatterns: []string{"<nope>/x"}},
		{GameName: "Good", PathPatterns: []string{"<home>/Good"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Games, 1)
	assert.Equal(t, "Good", res.Games[0].Name)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "Broken", res.Skipped[0].GameName)
	assert.ErrorIs(t, res.Skipped[0], pathexpand.ErrMalformedPattern)
	assert.ErrorIs(t, res.Skipped[1], pathexpand.ErrUnknownVariable)
}

func TestScan_OrderedBySizeThenName(t *testing.T) {
	home := t.TempDir()
	writeFile(t, home, "S/f", 10, time.Time{})
	writeFile(t, home, "B1/f", 100, time.Time{})
	writeFile(t, home, "B2/f", 100, time.Time{})

	s := newTestScanner(t, home)

	res, err := s.Scan(t.Context(), []manifest.Entry{
		{GameName: "Small", PathPatterns: []string{"<home>/S"}},
		{GameName: "Zeta", PathPatterns: []string{"<home>/B2"}},
		{GameName: "Alpha", PathPatterns: []string{"<home>/B1"}},
	})
	require.NoError(t, err)

	names := make([]string, len(res.Games))
	for i, g := range res.Games {
		names[i] = g.Name
	}

	assert.Equal(t, []string{"Alpha", "Zeta", "Small"}, names)
}

func TestScan_Canceled(t *testing.T) {
	s := newTestScanner(t, t.TempDir())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := s.Scan(ctx, []manifest.Entry{{GameName: "A", PathPatterns: []string{"<home>/A"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanPath_SingleFile(t *testing.T) {
	home := t.TempDir()
	mt := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	writeFile(t, home, "profile.sav", 321, mt)

	s := newTestScanner(t, home)
	p := filepath.Join(home, "profile.sav")

	ps := s.ScanPath(t.Context(), pathexpand.ResolvedPath{Pattern: "<home>/profile.sav", AbsolutePath: p, Exists: true})
	assert.True(t, ps.Path.Exists)
	assert.Equal(t, 1, ps.Path.FileCount)
	assert.Equal(t, int64(321), ps.Path.TotalSizeBytes)
	assert.True(t, mt.Equal(ps.LastModified))
}

func TestScanPath_VanishedRootIsMissing(t *testing.T) {
	s := newTestScanner(t, t.TempDir())

	ps := s.ScanPath(t.Context(), pathexpand.ResolvedPath{AbsolutePath: "/definitely/not/here", Exists: true})
	assert.False(t, ps.Path.Exists)
	assert.Zero(t, ps.Path.FileCount)
}

func TestWalker_SymlinkPolicy(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "secret.bin", 1000, time.Time{})

	root := t.TempDir()
	writeFile(t, root, "real/a.sav", 10, time.Time{})

	// Escapes the root: not followed.
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	// Points back inside: real/ is entered once.
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	// Loop to the root itself.
	require.NoError(t, os.Symlink(root, filepath.Join(root, "real", "loop")))

	// Symlinked file: not followed.
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "a.sav"), filepath.Join(root, "link.sav")))

	w := NewWalker(0, nil)

	var rels []string

	stats, err := w.Walk(t.Context(), root, func(_, rel string, _ fs.FileInfo) error {
		rels = append(rels, rel)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, int64(10), stats.Bytes)
	assert.Len(t, rels, 1)
}

func TestWalker_TimeoutKeepsPartialTotals(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"a", "b", "c", "d"} {
		writeFile(t, root, n, 1, time.Time{})
	}

	w := NewWalker(time.Second, nil)

	base := time.Now()
	calls := 0
	w.nowFunc = func() time.Time {
		calls++
		// Call 1 sets the deadline, calls 2 and 3 bound the root stat and
		// listing; the third entry check is late.
		if calls > 5 {
			return base.Add(2 * time.Second)
		}

		return base
	}

	stats, err := w.Walk(t.Context(), root, nil)
	require.NoError(t, err)
	assert.True(t, stats.Truncated)
	assert.Equal(t, 2, stats.Files)
}

func TestWalker_UnreadableEntriesAreSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.sav", 5, time.Time{})
	writeFile(t, root, "broken/inner.sav", 100, time.Time{})
	writeFile(t, root, "z.sav", 7, time.Time{})

	w := NewWalker(0, nil)
	w.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "broken" {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}

		return os.ReadDir(name)
	}

	stats, err := w.Walk(t.Context(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(12), stats.Bytes)
	assert.Equal(t, 1, stats.Skipped)
	assert.False(t, stats.Truncated)
}

func TestWalker_PermissionDeniedDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs a non-root user on a POSIX filesystem")
	}

	root := t.TempDir()
	writeFile(t, root, "ok.sav", 3, time.Time{})
	writeFile(t, root, "locked/hidden.sav", 50, time.Time{})

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	stats, err := NewWalker(0, nil).Walk(t.Context(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, int64(3), stats.Bytes)
	assert.Positive(t, stats.Skipped)
}

func TestWalker_BlockedListingHitsTimeout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.sav", 1, time.Time{})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "share"), 0o755))

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	w := NewWalker(50*time.Millisecond, nil)
	w.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "share" {
			<-release
		}

		return os.ReadDir(name)
	}

	start := time.Now()
	stats, err := w.Walk(t.Context(), root, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, stats.Truncated)
	assert.Equal(t, 1, stats.Files)
}

func TestWalker_MissingRoot(t *testing.T) {
	w := NewWalker(0, nil)

	_, err := w.Walk(t.Context(), filepath.Join(t.TempDir(), "gone"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWalker_VisitorErrorAborts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", 1, time.Time{})

	w := NewWalker(0, nil)

	_, err := w.Walk(t.Context(), root, func(string, string, fs.FileInfo) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}
