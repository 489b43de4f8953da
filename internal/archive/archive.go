// Package archive packs a game's save paths into a zip and computes the
// SHA-256 of the archive bytes while they are written.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/saveknight/saveknight-go/internal/scan"
)

// entryMode is the permission recorded for every archived file.
const entryMode = 0o644

// Summary describes a written archive.
type Summary struct {
	Checksum string // lowercase hex SHA-256 of the archive bytes
	Size     int64  // archive size in bytes
	Files    int
}

// countingWriter counts bytes passed through to the hash.
type countingWriter struct {
	h hash.Hash
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return c.h.Write(p)
}

// Write archives every file under roots into w. Each root becomes a top-level
// folder named after its base name (a numeric suffix keeps names unique); a
// root that is a single file is stored under its own name. Missing roots are
// skipped.
func Write(ctx context.Context, w io.Writer, roots []string, walker *scan.Walker) (Summary, error) {
	sum := &countingWriter{h: sha256.New()}
	zw := zip.NewWriter(io.MultiWriter(w, sum))

	used := make(map[string]int)
	files := 0

	for _, root := range roots {
		prefix := uniqueName(used, filepath.Base(root))

		info, err := os.Stat(root)
		if err != nil {
			continue
		}

		single := !info.IsDir()

		_, err = walker.Walk(ctx, root, func(p, rel string, fi fs.FileInfo) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			name := path.Join(prefix, rel)
			if single {
				name = prefix
			}

			if err := addFile(zw, p, name, fi); err != nil {
				return err
			}

			files++

			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return Summary{}, ctx.Err()
			}

			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return Summary{}, err
		}
	}

	if err := zw.Close(); err != nil {
		return Summary{}, fmt.Errorf("archive: finishing zip: %w", err)
	}

	return Summary{
		Checksum: hex.EncodeToString(sum.h.Sum(nil)),
		Size:     sum.n,
		Files:    files,
	}, nil
}

func addFile(zw *zip.Writer, src, name string, fi fs.FileInfo) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: fi.ModTime(),
	}
	hdr.SetMode(entryMode)

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("archive: adding %s: %w", name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("archive: copying %s: %w", src, err)
	}

	return nil
}

// uniqueName returns base, or base-N when base was already used.
func uniqueName(used map[string]int, base string) string {
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "save"
	}

	used[base]++
	if n := used[base]; n > 1 {
		return base + "-" + strconv.Itoa(n)
	}

	return base
}
