package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveknight/saveknight-go/internal/scan"
)

func put(t *testing.T, root, rel, content string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)

	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		assert.Equal(t, os.FileMode(0o644), f.Mode().Perm(), f.Name)

		rc, err := f.Open()
		require.NoError(t, err)

		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		out[f.Name] = string(b)
	}

	return out
}

func TestWrite_LayoutAndChecksum(t *testing.T) {
	home := t.TempDir()
	put(t, home, "A/saves/slot1.sav", "one")
	put(t, home, "A/saves/sub/slot2.sav", "two")
	put(t, home, "B/saves/cloud.dat", "three")
	put(t, home, "C/profile.ini", "four")

	roots := []string{
		filepath.Join(home, "A", "saves"),
		filepath.Join(home, "B", "saves"),
		filepath.Join(home, "C", "profile.ini"),
		filepath.Join(home, "Missing"),
	}

	var buf bytes.Buffer

	sum, err := Write(t.Context(), &buf, roots, scan.NewWalker(0, nil))
	require.NoError(t, err)

	digest := sha256.Sum256(buf.Bytes())
	assert.Equal(t, hex.EncodeToString(digest[:]), sum.Checksum)
	assert.Equal(t, int64(buf.Len()), sum.Size)
	assert.Equal(t, 4, sum.Files)

	entries := readZip(t, buf.Bytes())

	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}

	sort.Strings(names)

	assert.Equal(t, []string{
		"profile.ini",
		"saves-2/cloud.dat",
		"saves/slot1.sav",
		"saves/sub/slot2.sav",
	}, names)
	assert.Equal(t, "two", entries["saves/sub/slot2.sav"])
	assert.Equal(t, "four", entries["profile.ini"])
}

func TestWrite_EmptyIsValidZip(t *testing.T) {
	var buf bytes.Buffer

	sum, err := Write(t.Context(), &buf, nil, scan.NewWalker(0, nil))
	require.NoError(t, err)
	assert.Zero(t, sum.Files)
	assert.Empty(t, readZip(t, buf.Bytes()))
}

func TestWrite_Canceled(t *testing.T) {
	home := t.TempDir()
	put(t, home, "saves/a", "x")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Write(ctx, io.Discard, []string{filepath.Join(home, "saves")}, scan.NewWalker(0, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUniqueName(t *testing.T) {
	used := map[string]int{}

	assert.Equal(t, "saves", uniqueName(used, "saves"))
	assert.Equal(t, "saves-2", uniqueName(used, "saves"))
	assert.Equal(t, "save", uniqueName(used, "."))
}
