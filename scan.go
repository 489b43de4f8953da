package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/scan"
)

func newScanCmd() *cobra.Command {
	var game string
	var showPaths bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Detect installed games with save files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, game, showPaths)
		},
	}

	cmd.Flags().StringVar(&game, "game", "", "only scan games whose name contains this text")
	cmd.Flags().BoolVar(&showPaths, "paths", false, "list the resolved save paths of each game")

	return cmd
}

// scanOutput is the JSON schema for `scan --json`.
type scanOutput struct {
	Games   []scan.DetectedGame `json:"games"`
	Skipped []string            `json:"skipped,omitempty"`
}

func runScan(cmd *cobra.Command, game string, showPaths bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	svc, err := cc.Service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.ScanGames(ctx, game)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := scanOutput{Games: res.Games}
		if out.Games == nil {
			out.Games = []scan.DetectedGame{}
		}

		for _, s := range res.Skipped {
			out.Skipped = append(out.Skipped, s.GameName)
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(res.Games) == 0 {
		cc.Statusf("No games with save files found.\n")
		return nil
	}

	printScanText(cmd.OutOrStdout(), res.Games, showPaths)

	if len(res.Skipped) > 0 {
		cc.Statusf("%d game(s) skipped because their paths could not be resolved.\n", len(res.Skipped))
	}

	return nil
}

func printScanText(w io.Writer, games []scan.DetectedGame, showPaths bool) {
	rows := make([][]string, 0, len(games))

	var total int64

	for i := range games {
		g := &games[i]
		total += g.TotalSizeBytes
		rows = append(rows, []string{
			g.Name,
			formatSize(g.TotalSizeBytes),
			strconv.Itoa(g.FileCount()),
			formatTime(g.LastModified),
		})
	}

	printTable(w, []string{"GAME", "SIZE", "FILES", "MODIFIED"}, rows)
	fmt.Fprintf(w, "\n%d game(s), %s total\n", len(games), formatSize(total))

	if !showPaths {
		return
	}

	for i := range games {
		fmt.Fprintf(w, "\n%s\n", games[i].Name)

		for _, p := range games[i].ExistingPaths() {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}
