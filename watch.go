package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/config"
	"github.com/saveknight/saveknight-go/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rescan when saves change and back up auto_backup games",
		Long: `Run in the foreground, rescanning when a detected save directory changes
and every scan_interval. Games listed in auto_backup are backed up after a
rescan when their saves are newer than the last successful backup.

Only one watcher runs at a time. SIGHUP, or 'saveknight watch rescan',
triggers an immediate rescan.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rescan",
		Short: "Ask the running watcher to rescan now",
		Args:  cobra.NoArgs,
		RunE:  runWatchRescan,
	})

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	cleanup, err := writePIDFile(config.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	svc, err := cc.Service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(cc.Cfg.AutoBackup) > 0 && !svc.AuthStatus().IsAuthenticated {
		logger.Warn("not logged in, auto backup will fail until 'saveknight login' is run")
	}

	fsw, err := watch.NewFsnotifyWatcher()
	if err != nil {
		return err
	}

	loop := watch.NewLoop(fsw, svc.Rescan, watch.Options{
		Debounce: cc.Cfg.WatchDebounce,
		Interval: cc.Cfg.ScanInterval,
	}, logger)

	onHangup(ctx, logger, loop.Trigger)

	logger.Info("watching saves",
		slog.Duration("interval", cc.Cfg.ScanInterval),
		slog.Int("auto_backup", len(cc.Cfg.AutoBackup)),
	)
	cc.Statusf("Watching for save changes. Press Ctrl-C to stop.\n")

	return loop.Run(ctx)
}

func runWatchRescan(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	pid, err := signalWatcher(config.PIDPath())
	if err != nil {
		return err
	}

	cc.Statusf("Rescan requested (watcher PID %d).\n", pid)

	return nil
}
