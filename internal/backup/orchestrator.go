package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saveknight/saveknight-go/internal/api"
	"github.com/saveknight/saveknight-go/internal/history"
	"github.com/saveknight/saveknight-go/internal/scan"
)

// PlatformPC is the platform recorded for profiles created here.
const PlatformPC = "PC"

// DefaultWorkers bounds concurrent game uploads.
const DefaultWorkers = 2

// Stages reported in an Outcome.
const (
	StageProfile = history.StageProfile
	StageArchive = history.StageArchive
	StageUpload  = history.StageUpload
	StageDone    = history.StageDone
)

// ErrNotDetected marks a selected game that the last scan did not find.
var ErrNotDetected = errors.New("backup: game not detected")

// ProfileService creates remote profiles.
type ProfileService interface {
	CreateGameProfile(ctx context.Context, name, platform string) (*api.GameProfile, error)
}

// Uploader uploads one game's saves under a profile.
type Uploader interface {
	Upload(ctx context.Context, game scan.DetectedGame, profileID string) (*UploadSummary, error)
}

// Recorder persists outcomes. history.Store satisfies it.
type Recorder interface {
	Add(ctx context.Context, r history.Record) (history.Record, error)
}

// UploadSummary is what an accepted upload produced.
type UploadSummary struct {
	api.UploadResult
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	Files    int    `json:"files"`
}

// StageError tags an uploader failure with the step it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome is the result for one game.
type Outcome struct {
	Game      string         `json:"game"`
	ProfileID string         `json:"profile_id,omitempty"`
	Stage     string         `json:"stage"`
	Err       error          `json:"-"`
	Upload    *UploadSummary `json:"upload,omitempty"`
}

// OK reports whether the game was backed up.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report is the result of a batch. Succeeded and Failed hold game names in
// input order.
type Report struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Options tunes an Orchestrator.
type Options struct {
	Workers  int
	Platform string
}

// Orchestrator drives profile reconciliation and uploads.
type Orchestrator struct {
	profiles ProfileService
	uploader Uploader
	cache    *ProfileCache
	recorder Recorder
	workers  int
	platform string
	logger   *slog.Logger

	creates singleflight.Group
}

// NewOrchestrator creates an Orchestrator. recorder may be nil.
func NewOrchestrator(profiles ProfileService, uploader Uploader, cache *ProfileCache, recorder Recorder,
	opts Options, logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	if opts.Platform == "" {
		opts.Platform = PlatformPC
	}

	return &Orchestrator{
		profiles: profiles,
		uploader: uploader,
		cache:    cache,
		recorder: recorder,
		workers:  opts.Workers,
		platform: opts.Platform,
		logger:   logger,
	}
}

// Cache returns the profile cache the orchestrator grows.
func (o *Orchestrator) Cache() *ProfileCache {
	return o.cache
}

// Backup reconciles and uploads each game independently.
func (o *Orchestrator) Backup(ctx context.Context, games []scan.DetectedGame) Report {
	return o.run(ctx, games, func(ctx context.Context, g scan.DetectedGame) Outcome {
		id, err := o.EnsureProfile(ctx, g.Name)
		if err != nil {
			return Outcome{Game: g.Name, Stage: StageProfile, Err: err}
		}

		return o.upload(ctx, g, id)
	})
}

// UploadTo uploads every game under one existing profile id.
func (o *Orchestrator) UploadTo(ctx context.Context, games []scan.DetectedGame, profileID string) Report {
	return o.run(ctx, games, func(ctx context.Context, g scan.DetectedGame) Outcome {
		return o.upload(ctx, g, profileID)
	})
}

// BackupSelection backs up the selected games found in detected and clears
// the selection afterwards, whatever the outcome. Selected names missing
// from detected fail with ErrNotDetected.
func (o *Orchestrator) BackupSelection(ctx context.Context, sel *Selection, detected []scan.DetectedGame) Report {
	defer sel.Clear()

	byName := make(map[string]scan.DetectedGame, len(detected))
	for _, g := range detected {
		byName[g.Name] = g
	}

	var (
		games   []scan.DetectedGame
		missing []Outcome
	)

	for _, name := range sel.Names() {
		if g, ok := byName[name]; ok {
			games = append(games, g)
			continue
		}

		missing = append(missing, Outcome{Game: name, Stage: StageProfile, Err: fmt.Errorf("%w: %s", ErrNotDetected, name)})
	}

	rep := o.Backup(ctx, games)

	for _, m := range missing {
		o.logFailure(m)
		rep.Outcomes = append(rep.Outcomes, m)
		rep.Failed = append(rep.Failed, m.Game)
	}

	return rep
}

// EnsureProfile returns the profile id for name, creating the profile when
// the cache has none. Concurrent calls for the same folded name share one
// remote create.
func (o *Orchestrator) EnsureProfile(ctx context.Context, name string) (string, error) {
	if p, ok := o.cache.Lookup(name); ok {
		return p.ID, nil
	}

	v, err, _ := o.creates.Do(ProfileKey(name), func() (any, error) {
		if p, ok := o.cache.Lookup(name); ok {
			return p.ID, nil
		}

		created, err := o.profiles.CreateGameProfile(ctx, name, o.platform)
		if err != nil {
			return "", fmt.Errorf("backup: creating profile %q: %w", name, err)
		}

		kept := o.cache.Add(*created)

		o.logger.Info("created game profile",
			slog.String("game", name),
			slog.String("profile_id", kept.ID),
		)

		return kept.ID, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (o *Orchestrator) upload(ctx context.Context, g scan.DetectedGame, profileID string) Outcome {
	out := Outcome{Game: g.Name, ProfileID: profileID, Stage: StageUpload}

	sum, err := o.uploader.Upload(ctx, g, profileID)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			out.Stage = se.Stage
		}

		out.Err = err

		return out
	}

	out.Stage = StageDone
	out.Upload = sum

	return out
}

func (o *Orchestrator) run(ctx context.Context, games []scan.DetectedGame,
	one func(context.Context, scan.DetectedGame) Outcome,
) Report {
	outcomes := make([]Outcome, len(games))

	var g errgroup.Group
	g.SetLimit(o.workers)

	for i := range games {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Game: games[i].Name, Stage: StageProfile, Err: err}
				return nil
			}

			outcomes[i] = one(ctx, games[i])

			return nil
		})
	}

	_ = g.Wait() // workers never return errors

	rep := Report{Outcomes: outcomes}

	for _, oc := range outcomes {
		o.record(ctx, oc)

		if oc.OK() {
			rep.Succeeded = append(rep.Succeeded, oc.Game)
			continue
		}

		o.logFailure(oc)
		rep.Failed = append(rep.Failed, oc.Game)
	}

	o.logger.Info("backup batch finished",
		slog.Int("games", len(games)),
		slog.Int("succeeded", len(rep.Succeeded)),
		slog.Int("failed", len(rep.Failed)),
	)

	return rep
}

func (o *Orchestrator) logFailure(oc Outcome) {
	o.logger.Warn("game backup failed",
		slog.String("game", oc.Game),
		slog.String("stage", oc.Stage),
		slog.String("error", oc.Err.Error()),
	)
}

func (o *Orchestrator) record(ctx context.Context, oc Outcome) {
	if o.recorder == nil {
		return
	}

	r := history.Record{
		Game:      oc.Game,
		ProfileID: oc.ProfileID,
		Success:   oc.OK(),
		Stage:     oc.Stage,
	}

	if oc.Upload != nil {
		r.UploadID = oc.Upload.UploadID
		r.VersionNumber = oc.Upload.VersionNumber
		r.Checksum = oc.Upload.Checksum
		r.SizeBytes = oc.Upload.Size
		r.FileCount = oc.Upload.Files
	}

	if oc.Err != nil {
		r.Message = oc.Err.Error()
	}

	// A canceled batch still records what happened.
	if _, err := o.recorder.Add(context.WithoutCancel(ctx), r); err != nil {
		o.logger.Warn("cannot record backup outcome",
			slog.String("game", oc.Game),
			slog.String("error", err.Error()),
		)
	}
}
