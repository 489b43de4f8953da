package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [game]",
		Short: "Show recent backup attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game := ""
			if len(args) == 1 {
				game = args[0]
			}

			return runHistory(cmd, game, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "maximum number of entries")

	return cmd
}

func runHistory(cmd *cobra.Command, game string, limit int) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	recs, err := svc.History(cmd.Context(), game, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if recs == nil {
			recs = []history.Record{}
		}

		return printJSON(cmd.OutOrStdout(), recs)
	}

	if len(recs) == 0 {
		cc.Statusf("No backups recorded yet.\n")
		return nil
	}

	rows := make([][]string, 0, len(recs))

	for _, r := range recs {
		result, version, detail := "ok", "-", formatSize(r.SizeBytes)
		if r.VersionNumber > 0 {
			version = "v" + strconv.Itoa(r.VersionNumber)
		}

		if !r.Success {
			result = "failed (" + r.Stage + ")"
			detail = r.Message
		}

		rows = append(rows, []string{formatTime(&r.CreatedAt), r.Game, result, version, detail})
	}

	printTable(cmd.OutOrStdout(), []string{"WHEN", "GAME", "RESULT", "VERSION", "DETAIL"}, rows)

	return nil
}
