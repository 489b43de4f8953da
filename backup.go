package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/app"
	"github.com/saveknight/saveknight-go/internal/backup"
)

// errBackupIncomplete is returned after the report is printed when at least
// one game failed, so main exits non-zero without repeating it.
var errBackupIncomplete = errors.New("backup incomplete")

type backupFlags struct {
	all       bool
	profileID string
}

func newBackupCmd() *cobra.Command {
	var f backupFlags

	cmd := &cobra.Command{
		Use:   "backup [game...]",
		Short: "Scan and back up game saves",
		Long: `Scan for saves, then back up the named games. Each game is archived and
uploaded to its game profile, which is created on first use.

With no names, --all backs up every detected game; on a terminal an
interactive picker is shown instead.

Examples:
  saveknight backup Celeste "Hollow Knight"
  saveknight backup --all
  saveknight backup --profile gp_123 Celeste`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.all, "all", false, "back up every detected game")
	cmd.Flags().StringVar(&f.profileID, "profile", "", "upload into this existing profile id instead of one per game")

	return cmd
}

func runBackup(cmd *cobra.Command, args []string, f backupFlags) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if f.all && len(args) > 0 {
		return errors.New("--all cannot be combined with game names")
	}

	svc, err := cc.Service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.ScanGames(ctx, "")
	if err != nil {
		return err
	}

	if len(res.Games) == 0 {
		cc.Statusf("No games with save files found.\n")
		return nil
	}

	names, err := chooseGames(cc, svc, args, f.all)
	if err != nil {
		return err
	}

	if len(names) == 0 && !f.all {
		cc.Statusf("Nothing selected.\n")
		return nil
	}

	var rep backup.Report

	switch {
	case f.profileID != "":
		rep, err = svc.UploadSaves(ctx, names, f.profileID)
	case f.all:
		rep, err = svc.Backup(ctx, nil)
	default:
		// Named and picked games go through the selection, which the
		// batch clears whatever the outcome.
		if err = svc.SelectAll(names); err == nil {
			rep, err = svc.BackupSelected(ctx)
		}
	}

	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), newBackupOutput(rep)); err != nil {
			return err
		}
	} else {
		printBackupText(cmd.OutOrStdout(), rep)
	}

	if len(rep.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d failed", errBackupIncomplete, len(rep.Failed), len(rep.Outcomes))
	}

	return nil
}

// chooseGames returns the games to back up; nil with all set means every
// detected game.
func chooseGames(cc *CLIContext, svc *app.Service, args []string, all bool) ([]string, error) {
	switch {
	case len(args) > 0:
		return args, nil
	case all:
		return nil, nil
	case cc.Flags.JSON || !stdinIsTerminal():
		return nil, errors.New("name the games to back up or pass --all")
	}

	detected := svc.Detected()
	options := make([]gameOption, 0, len(detected))

	for _, g := range detected {
		options = append(options, gameOption{Name: g.Name, Size: g.TotalSizeBytes})
	}

	return pickGames(options)
}

// backupOutput is the JSON schema for `backup --json`.
type backupOutput struct {
	Succeeded []string    `json:"succeeded"`
	Failed    []string    `json:"failed"`
	Games     []backupRow `json:"games"`
}

type backupRow struct {
	backup.Outcome
	Error string `json:"error,omitempty"`
}

func newBackupOutput(rep backup.Report) backupOutput {
	out := backupOutput{
		Succeeded: nonNil(rep.Succeeded),
		Failed:    nonNil(rep.Failed),
		Games:     make([]backupRow, 0, len(rep.Outcomes)),
	}

	for _, o := range rep.Outcomes {
		row := backupRow{Outcome: o}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}

		out.Games = append(out.Games, row)
	}

	return out
}

func printBackupText(w io.Writer, rep backup.Report) {
	rows := make([][]string, 0, len(rep.Outcomes))

	for _, o := range rep.Outcomes {
		if o.OK() {
			version, size := "-", "-"
			if o.Upload != nil {
				version = "v" + strconv.Itoa(o.Upload.VersionNumber)
				size = formatSize(o.Upload.Size)
			}

			rows = append(rows, []string{o.Game, "ok", version, size})

			continue
		}

		rows = append(rows, []string{o.Game, "failed (" + o.Stage + ")", "-", o.Err.Error()})
	}

	printTable(w, []string{"GAME", "RESULT", "VERSION", "DETAIL"}, rows)
	fmt.Fprintf(w, "\n%d backed up, %d failed\n", len(rep.Succeeded), len(rep.Failed))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
