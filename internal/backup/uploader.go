package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/saveknight/saveknight-go/internal/api"
	"github.com/saveknight/saveknight-go/internal/archive"
	"github.com/saveknight/saveknight-go/internal/scan"
)

// SlotSuffix is appended to the game name to form the upload slot.
const SlotSuffix = " Auto-Backup"

// ErrNothingToUpload is returned for a game with no existing save path.
var ErrNothingToUpload = errors.New("backup: no existing save path")

// TransferClient sends one archive. *api.Client satisfies it.
type TransferClient interface {
	UploadSave(ctx context.Context, profileID string, up api.UploadRequest) (*api.UploadResult, error)
}

// ArchiveUploader zips a game's existing save paths into a temporary file,
// then uploads the file with its SHA-256.
type ArchiveUploader struct {
	client  TransferClient
	walker  *scan.Walker
	tempDir string
	logger  *slog.Logger
}

// NewArchiveUploader creates an uploader. An empty tempDir uses the system
// default.
func NewArchiveUploader(client TransferClient, tempDir string, logger *slog.Logger) *ArchiveUploader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &ArchiveUploader{
		client:  client,
		walker:  scan.NewWalker(0, logger),
		tempDir: tempDir,
		logger:  logger,
	}
}

// Upload implements Uploader.
func (u *ArchiveUploader) Upload(ctx context.Context, game scan.DetectedGame, profileID string) (*UploadSummary, error) {
	roots := game.ExistingPaths()
	if len(roots) == 0 {
		return nil, &StageError{Stage: StageArchive, Err: fmt.Errorf("%w: %s", ErrNothingToUpload, game.Name)}
	}

	f, err := os.CreateTemp(u.tempDir, "saveknight-*.zip")
	if err != nil {
		return nil, &StageError{Stage: StageArchive, Err: fmt.Errorf("creating temp archive: %w", err)}
	}

	defer func() {
		f.Close()

		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			u.logger.Warn("cannot remove temp archive",
				slog.String("path", f.Name()),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	sum, err := archive.Write(ctx, f, roots, u.walker)
	if err != nil {
		return nil, &StageError{Stage: StageArchive, Err: err}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &StageError{Stage: StageArchive, Err: fmt.Errorf("rewinding archive: %w", err)}
	}

	u.logger.Debug("archive ready",
		slog.String("game", game.Name),
		slog.Int("files", sum.Files),
		slog.Int64("size", sum.Size),
		slog.String("sha256", sum.Checksum),
	)

	res, err := u.client.UploadSave(ctx, profileID, api.UploadRequest{
		SlotName:  game.Name + SlotSuffix,
		LocalPath: roots[0],
		Checksum:  sum.Checksum,
		FileName:  api.SanitizeFileName(game.Name) + ".zip",
		Body:      f,
	})
	if err != nil {
		return nil, &StageError{Stage: StageUpload, Err: err}
	}

	u.logger.Info("uploaded save",
		slog.String("game", game.Name),
		slog.String("upload_id", res.UploadID),
		slog.Int("version", res.VersionNumber),
	)

	return &UploadSummary{
		UploadResult: *res,
		Checksum:     sum.Checksum,
		Size:         sum.Size,
		Files:        sum.Files,
	}, nil
}
