package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/api"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage remote game profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the game profiles of this account",
		Args:  cobra.NoArgs,
		RunE:  runProfilesList,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <game name>",
		Short: "Create a game profile, or return the existing one",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runProfilesCreate,
	})

	return cmd
}

func runProfilesList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	profiles, err := svc.GameProfiles(cmd.Context())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if profiles == nil {
			profiles = []api.GameProfile{}
		}

		return printJSON(cmd.OutOrStdout(), profiles)
	}

	if len(profiles) == 0 {
		cc.Statusf("No game profiles yet.\n")
		return nil
	}

	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{p.ID, p.Platform, p.Name})
	}

	printTable(cmd.OutOrStdout(), []string{"ID", "PLATFORM", "NAME"}, rows)

	return nil
}

func runProfilesCreate(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.CreateGameProfile(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), p)
	}

	printTable(cmd.OutOrStdout(), []string{"ID", "PLATFORM", "NAME"}, [][]string{{p.ID, p.Platform, p.Name}})

	return nil
}
