// Package history records every backup attempt in a local SQLite database
// so past uploads can be listed without asking the service.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Stage names the step a failed attempt stopped at.
const (
	StageProfile = "profile"
	StageArchive = "archive"
	StageUpload  = "upload"
	StageDone    = "done"
)

// DefaultLimit bounds List when the caller passes zero.
const DefaultLimit = 50

const (
	sqlInsert = `INSERT INTO uploads
		(id, game, profile_id, success, stage, upload_id, version_number,
		 checksum, size_bytes, file_count, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelect = `SELECT id, game, profile_id, success, stage, upload_id,
		version_number, checksum, size_bytes, file_count, message, created_at
		FROM uploads`
)

// Record is one backup attempt.
type Record struct {
	ID            string    `json:"id"`
	Game          string    `json:"game"`
	ProfileID     string    `json:"profile_id,omitempty"`
	Success       bool      `json:"success"`
	Stage         string    `json:"stage"`
	UploadID      string    `json:"upload_id,omitempty"`
	VersionNumber int       `json:"version_number,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	FileCount     int       `json:"file_count"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the history database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database ready", slog.String("db_path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Add stores r, assigning an ID and timestamp when they are unset, and
// returns the stored record.
func (s *Store) Add(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.nowFunc()
	}

	if r.Stage == "" {
		r.Stage = StageDone
	}

	_, err := s.db.ExecContext(ctx, sqlInsert,
		r.ID, r.Game, nullString(r.ProfileID), r.Success, r.Stage,
		nullString(r.UploadID), nullInt(r.VersionNumber), nullString(r.Checksum),
		r.SizeBytes, r.FileCount, r.Message, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("history: inserting record for %q: %w", r.Game, err)
	}

	return r, nil
}

// List returns the most recent records, newest first. limit <= 0 uses
// DefaultLimit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, sqlSelect+` ORDER BY created_at DESC, id LIMIT ?`, clampLimit(limit))
}

// ListGame returns the most recent records for one game, newest first.
func (s *Store) ListGame(ctx context.Context, game string, limit int) ([]Record, error) {
	return s.query(ctx, sqlSelect+` WHERE game = ? ORDER BY created_at DESC, id LIMIT ?`, game, clampLimit(limit))
}

// LastSuccess returns the newest successful record for game, or nil.
func (s *Store) LastSuccess(ctx context.Context, game string) (*Record, error) {
	recs, err := s.query(ctx, sqlSelect+` WHERE game = ? AND success = 1 ORDER BY created_at DESC LIMIT 1`, game)
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, nil //nolint:nilnil // nil means "never backed up"
	}

	return &recs[0], nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: querying: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}

	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r         Record
		profileID sql.NullString
		uploadID  sql.NullString
		version   sql.NullInt64
		checksum  sql.NullString
		created   int64
	)

	if err := rows.Scan(&r.ID, &r.Game, &profileID, &r.Success, &r.Stage, &uploadID,
		&version, &checksum, &r.SizeBytes, &r.FileCount, &r.Message, &created); err != nil {
		return Record{}, fmt.Errorf("history: scanning row: %w", err)
	}

	r.ProfileID = profileID.String
	r.UploadID = uploadID.String
	r.VersionNumber = int(version.Int64)
	r.Checksum = checksum.String
	r.CreatedAt = time.Unix(0, created)

	return r, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}

	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
