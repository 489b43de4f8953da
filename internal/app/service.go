// Package app is the boundary between the engine and its front ends. A
// Service owns one device session, one profile cache and the last scan
// result for the life of the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saveknight/saveknight-go/internal/api"
	"github.com/saveknight/saveknight-go/internal/auth"
	"github.com/saveknight/saveknight-go/internal/backup"
	"github.com/saveknight/saveknight-go/internal/config"
	"github.com/saveknight/saveknight-go/internal/history"
	"github.com/saveknight/saveknight-go/internal/manifest"
	"github.com/saveknight/saveknight-go/internal/pathexpand"
	"github.com/saveknight/saveknight-go/internal/scan"
	"github.com/saveknight/saveknight-go/internal/tokenfile"
)

// ErrScanInProgress is returned when ScanGames is called while another scan
// is running.
var ErrScanInProgress = errors.New("app: scan already in progress")

// ErrUnknownGame is returned when a named game is not in the last scan.
var ErrUnknownGame = errors.New("app: game not detected")

// Options configures New. Zero values fall back to the platform defaults.
type Options struct {
	Config *config.Resolved

	DataDir      string
	TokenPath    string
	HistoryPath  string
	ManifestPath string // cache location; config.ManifestPath overrides the source
	TempDir      string

	// Platform replaces the detected user directories.
	Platform *pathexpand.Platform
	GOOS     string

	// HTTPClient is used for metadata calls; TransferClient for uploads and
	// the manifest download. Both are built from the network config when nil.
	HTTPClient     *http.Client
	TransferClient *http.Client

	Logger *slog.Logger
}

// Service implements the operations the CLI exposes.
type Service struct {
	cfg    *config.Resolved
	logger *slog.Logger

	session  *auth.Session
	meta     *api.Client
	orch     *backup.Orchestrator
	scanner  *scan.Scanner
	source   *manifest.Source
	history  *history.Store
	selected *backup.Selection

	scanning atomic.Bool

	mu       sync.Mutex
	registry *manifest.Registry
	detected []scan.DetectedGame
}

// New wires a Service. The history database is opened here; call Close when
// done.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("app: missing config")
	}

	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	dataDir := orDefault(opts.DataDir, config.DefaultDataDir)

	metaHTTP := opts.HTTPClient
	if metaHTTP == nil {
		metaHTTP = newHTTPClient(cfg, true)
	}

	transferHTTP := opts.TransferClient
	if transferHTTP == nil {
		transferHTTP = newHTTPClient(cfg, false)
	}

	machineID, err := auth.MachineID(dataDir)
	if err != nil {
		return nil, err
	}

	store := tokenfile.NewStore(orDefault(opts.TokenPath, config.TokenPath))
	authClient := api.NewClient(cfg.APIURL, metaHTTP, nil, cfg.UserAgent, logger)

	session := auth.NewSession(authClient, store, auth.Config{
		RefreshThreshold: cfg.RefreshThreshold,
		MachineID:        machineID,
		DeviceType:       auth.DeviceType(goos),
	}, logger)

	meta := api.NewClient(cfg.APIURL, metaHTTP, session, cfg.UserAgent, logger)
	transfer := api.NewClient(cfg.APIURL, transferHTTP, session, cfg.UserAgent, logger)

	hist, err := history.Open(ctx, orDefault(opts.HistoryPath, config.HistoryPath), logger)
	if err != nil {
		return nil, err
	}

	platform := pathexpand.DetectPlatform()
	if opts.Platform != nil {
		platform = *opts.Platform
	}

	if len(cfg.StoreUserIDs) > 0 {
		platform.StoreUserIDs = cfg.StoreUserIDs
	}

	resolver := pathexpand.NewResolver(platform, pathexpand.Policy{
		CaseInsensitive:       cfg.CaseInsensitiveFor(goos),
		DoubleStarMatchesZero: cfg.DoubleStarZero,
	}, logger)

	uploader := backup.NewArchiveUploader(transfer, opts.TempDir, logger)
	orch := backup.NewOrchestrator(meta, uploader, backup.NewProfileCache(), hist, backup.Options{
		Workers:  cfg.UploadWorkers,
		Platform: backup.PlatformPC,
	}, logger)

	return &Service{
		cfg:     cfg,
		logger:  logger,
		session: session,
		meta:    meta,
		orch:    orch,
		scanner: scan.NewScanner(resolver, scan.Options{
			Workers:     cfg.ScanWorkers,
			PathTimeout: cfg.PathTimeout,
		}, logger),
		source: &manifest.Source{
			URL:        cfg.ManifestURL,
			CachePath:  orDefault(opts.ManifestPath, config.ManifestCachePath),
			MaxAge:     cfg.ManifestMaxAge,
			LocalPath:  cfg.ManifestPath,
			GOOS:       goos,
			UserAgent:  cfg.UserAgent,
			HTTPClient: transferHTTP,
			Logger:     logger,
		},
		history:  hist,
		selected: backup.NewSelection(),
	}, nil
}

// newHTTPClient builds a client from the network settings. Metadata calls
// get an overall timeout; transfers only bound connection setup and the
// wait for response headers, and rely on ctx for the rest.
func newHTTPClient(cfg *config.Resolved, overall bool) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.DataTimeout

	c := &http.Client{Transport: transport}
	if overall {
		c.Timeout = cfg.DataTimeout
	}

	return c
}

func orDefault(v string, def func() string) string {
	if v != "" {
		return v
	}

	return def()
}

// Close releases the history database.
func (s *Service) Close() error {
	return s.history.Close()
}

// AuthStatus returns the current session snapshot.
func (s *Service) AuthStatus() auth.Status {
	return s.session.Status()
}

// Restore loads a persisted device token, if any.
func (s *Service) Restore(ctx context.Context) auth.Status {
	return s.session.Restore(ctx)
}

// Login registers this device. An empty deviceName falls back to the
// configured name, then the hostname.
func (s *Service) Login(ctx context.Context, sessionCookie, deviceName string) (auth.Status, error) {
	if deviceName == "" {
		deviceName = s.cfg.DeviceName
	}

	if deviceName == "" {
		if host, err := os.Hostname(); err == nil {
			deviceName = host
		}
	}

	return s.session.Login(ctx, sessionCookie, deviceName)
}

// Logout forgets the device token.
func (s *Service) Logout() error {
	return s.session.Logout()
}

// Registry loads the game catalog once per process, with configured custom
// paths merged in.
func (s *Service) Registry(ctx context.Context) (*manifest.Registry, error) {
	s.mu.Lock()
	reg := s.registry
	s.mu.Unlock()

	if reg != nil {
		return reg, nil
	}

	loaded, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	custom := make([]manifest.CustomPath, 0, len(s.cfg.CustomPaths))
	for _, cp := range s.cfg.CustomPaths {
		custom = append(custom, manifest.CustomPath{Game: cp.Game, Path: cp.Path})
	}

	loaded = loaded.WithCustomPaths(custom)

	s.mu.Lock()
	if s.registry == nil {
		s.registry = loaded
	}
	reg = s.registry
	s.mu.Unlock()

	return reg, nil
}

// ScanGames detects saves for every catalog game, or only those whose name
// contains query. Only one scan runs at a time.
func (s *Service) ScanGames(ctx context.Context, query string) (*scan.Result, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}

	entries := reg.Entries()
	if query != "" {
		entries = reg.Search(query)
	}

	res, err := s.scanner.Scan(ctx, entries)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.detected = res.Games
	s.mu.Unlock()

	return res, nil
}

// Detected returns the games found by the last scan.
func (s *Service) Detected() []scan.DetectedGame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.detected)
}

// GameProfiles lists the remote profiles and merges them into the cache.
func (s *Service) GameProfiles(ctx context.Context) ([]api.GameProfile, error) {
	profiles, err := s.meta.ListGameProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: listing game profiles: %w", err)
	}

	cache := s.orch.Cache()
	cache.Merge(profiles)

	return cache.Profiles(), nil
}

// CreateGameProfile returns the profile for name, creating it remotely when
// neither the cache nor the service has one.
func (s *Service) CreateGameProfile(ctx context.Context, name string) (api.GameProfile, error) {
	if err := s.warmProfiles(ctx); err != nil {
		return api.GameProfile{}, err
	}

	if _, err := s.orch.EnsureProfile(ctx, name); err != nil {
		return api.GameProfile{}, err
	}

	p, _ := s.orch.Cache().Lookup(name)

	return p, nil
}

// Select marks a detected game for the next BackupSelected.
func (s *Service) Select(name string) error {
	if _, ok := s.find(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGame, name)
	}

	s.selected.Add(name)

	return nil
}

// SelectAll marks every name for the next BackupSelected. When any name is
// not detected nothing is selected and the unknown names are returned.
func (s *Service) SelectAll(names []string) error {
	var errs []error

	for _, n := range names {
		if _, ok := s.find(n); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownGame, n))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, n := range names {
		s.selected.Add(n)
	}

	return nil
}

// Deselect removes name from the selection.
func (s *Service) Deselect(name string) {
	s.selected.Remove(name)
}

// Selected returns the selected game names.
func (s *Service) Selected() []string {
	return s.selected.Names()
}

// BackupSelected backs up the selection and clears it.
func (s *Service) BackupSelected(ctx context.Context) (backup.Report, error) {
	if err := s.warmProfiles(ctx); err != nil {
		return backup.Report{}, err
	}

	return s.orch.BackupSelection(ctx, s.selected, s.Detected()), nil
}

// Backup reconciles and uploads the named detected games. An empty list
// backs up every detected game.
func (s *Service) Backup(ctx context.Context, names []string) (backup.Report, error) {
	games, err := s.pick(names)
	if err != nil {
		return backup.Report{}, err
	}

	if err := s.warmProfiles(ctx); err != nil {
		return backup.Report{}, err
	}

	return s.orch.Backup(ctx, games), nil
}

// UploadSaves uploads the named games under one existing profile.
func (s *Service) UploadSaves(ctx context.Context, names []string, profileID string) (backup.Report, error) {
	if profileID == "" {
		return backup.Report{}, errors.New("app: profile id is required")
	}

	games, err := s.pick(names)
	if err != nil {
		return backup.Report{}, err
	}

	if _, err := s.session.Token(ctx); err != nil {
		return backup.Report{}, err
	}

	return s.orch.UploadTo(ctx, games, profileID), nil
}

// History lists past backup attempts, optionally for one game.
func (s *Service) History(ctx context.Context, game string, limit int) ([]history.Record, error) {
	if game != "" {
		return s.history.ListGame(ctx, game, limit)
	}

	return s.history.List(ctx, limit)
}

// warmProfiles loads the remote listing once so existing profiles are
// reused instead of recreated. It also fails fast when not logged in.
func (s *Service) warmProfiles(ctx context.Context) error {
	if s.orch.Cache().Loaded() {
		return nil
	}

	_, err := s.GameProfiles(ctx)

	return err
}

func (s *Service) find(name string) (scan.DetectedGame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.detected {
		if g.Name == name {
			return g, true
		}
	}

	return scan.DetectedGame{}, false
}

func (s *Service) pick(names []string) ([]scan.DetectedGame, error) {
	if len(names) == 0 {
		return s.Detected(), nil
	}

	games := make([]scan.DetectedGame, 0, len(names))

	var errs []error

	for _, n := range names {
		g, ok := s.find(n)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownGame, n))
			continue
		}

		games = append(games, g)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return games, nil
}

// sinceLastBackup reports whether g changed after its last successful
// backup, or was never backed up.
func (s *Service) sinceLastBackup(ctx context.Context, g scan.DetectedGame) (bool, error) {
	last, err := s.history.LastSuccess(ctx, g.Name)
	if err != nil {
		return false, err
	}

	if last == nil {
		return true, nil
	}

	return g.LastModified != nil && g.LastModified.After(last.CreatedAt), nil
}

// AutoBackup backs up the configured auto_backup games that changed since
// their last successful backup. It returns nil when nothing was due.
func (s *Service) AutoBackup(ctx context.Context) (*backup.Report, error) {
	var due []string

	for _, name := range s.cfg.AutoBackup {
		g, ok := s.find(name)
		if !ok {
			continue
		}

		changed, err := s.sinceLastBackup(ctx, g)
		if err != nil {
			return nil, err
		}

		if changed {
			due = append(due, name)
		}
	}

	if len(due) == 0 {
		return nil, nil //nolint:nilnil // nil report means nothing was due
	}

	rep, err := s.Backup(ctx, due)
	if err != nil {
		return nil, err
	}

	return &rep, nil
}

// WatchPaths returns the existing save paths of the last scan.
func (s *Service) WatchPaths() []string {
	var out []string

	for _, g := range s.Detected() {
		out = append(out, g.ExistingPaths()...)
	}

	return out
}

// Rescan is the watch loop callback: scan, back up what is due, and return
// the paths to watch next.
func (s *Service) Rescan(ctx context.Context) ([]string, error) {
	start := time.Now()

	res, err := s.ScanGames(ctx, "")
	if err != nil {
		return nil, err
	}

	s.logger.Info("watch rescan complete",
		slog.Int("games", len(res.Games)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if len(s.cfg.AutoBackup) > 0 {
		rep, err := s.AutoBackup(ctx)

		switch {
		case err != nil:
			s.logger.Warn("auto backup skipped", slog.String("error", err.Error()))
		case rep != nil:
			s.logger.Info("auto backup finished",
				slog.Int("succeeded", len(rep.Succeeded)),
				slog.Int("failed", len(rep.Failed)),
			)
		}
	}

	return s.WatchPaths(), nil
}
