package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/app"
	"github.com/saveknight/saveknight-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a valid config
// file, such as "config init".
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the persistent flag values.
type CLIFlags struct {
	ConfigPath string
	APIURL     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once in PersistentPreRunE and carried on the command
// context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	// newService is replaced in tests.
	newService func(ctx context.Context, opts app.Options) (*app.Service, error)
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext is for RunE functions, which only run after the pre-run
// hook has installed the context.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("CLIContext missing from command context")
	}

	return cc
}

// Service opens the backup service facade and restores any saved device
// token. The caller closes it.
func (cc *CLIContext) Service(ctx context.Context) (*app.Service, error) {
	newService := cc.newService
	if newService == nil {
		newService = app.New
	}

	svc, err := newService(ctx, app.Options{Config: cc.Cfg, Logger: cc.Logger})
	if err != nil {
		return nil, err
	}

	svc.Restore(ctx)

	return svc, nil
}

func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:     "saveknight",
		Short:   "Game save detection and cloud backup",
		Long:    "Finds installed games' save files and backs them up to the SaveKnight service.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.APIURL, "api-url", "", "backup service base URL")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the four-layer config unless the command opts out.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{Flags: flags}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
		if cmd.Flags().Changed("api-url") {
			cli.APIURL = &flags.APIURL
		}

		resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = resolved
	}

	cc.Logger = buildLogger(cc.Cfg, flags, os.Stderr)

	return cc, nil
}

// buildLogger creates the process logger. The config level is the
// baseline; --verbose and --quiet override it.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
