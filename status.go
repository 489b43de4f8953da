package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/auth"
	"github.com/saveknight/saveknight-go/internal/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state, service and watcher status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	auth.Status

	APIURL     string `json:"api_url"`
	ConfigPath string `json:"config_path"`
	WatcherPID int    `json:"watcher_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	out := statusOutput{
		Status:     svc.AuthStatus(),
		APIURL:     cc.Cfg.APIURL,
		ConfigPath: cc.Cfg.ConfigPath,
	}

	if proc, err := findWatcher(config.PIDPath()); err == nil {
		out.WatcherPID = proc.Pid
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), out)

	return nil
}

func printStatusText(w io.Writer, out statusOutput) {
	if out.IsAuthenticated {
		fmt.Fprintf(w, "Account:  %s\n", out.UserEmail)
		fmt.Fprintf(w, "Device:   %s (%s)\n", out.DeviceName, out.DeviceID)

		if out.PlanName != "" {
			fmt.Fprintf(w, "Plan:     %s\n", out.PlanName)
		}
	} else {
		fmt.Fprintln(w, "Not logged in. Run 'saveknight login' to register this device.")
	}

	fmt.Fprintf(w, "Service:  %s\n", out.APIURL)
	fmt.Fprintf(w, "Config:   %s\n", out.ConfigPath)

	if out.WatcherPID != 0 {
		fmt.Fprintf(w, "Watcher:  running (PID %d)\n", out.WatcherPID)
	} else {
		fmt.Fprintln(w, "Watcher:  not running")
	}
}
