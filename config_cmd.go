package main

import (
	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a starter config file with every setting commented out",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := config.ConfigPathFor(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath})
	if err := config.WriteDefault(path); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}
