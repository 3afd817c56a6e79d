package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/config"
	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/cli/internal/watch"
	"github.com/preflightdb/preflight/migrate/dryrun"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run safety analysis whenever migration files change",
		Long: `Watch the migrations directory and re-run the dry-run analysis after
every change to a SQL file. Useful while writing a migration: the
classification and estimates update as you save.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return withCode(ExitConfig, err)
			}

			ui.PrintHeader("preflight watch", "safety analysis re-runs on every change")

			ctx := cmd.Context()
			analyze := func() error {
				spinner, _ := ui.PrintSpinner("Analyzing migrations")

				// Rebuild from scratch on every change so new and renamed
				// files are picked up.
				rt, err := loadRuntime(ctx)
				if err != nil {
					spinner.Fail(err.Error())
					return nil
				}
				defer rt.Close()

				s, err := rt.orch.Run(ctx, dryrun.Config{DryRun: true})
				if err != nil {
					spinner.Fail(err.Error())
					return nil
				}
				if len(s.Plan) == 0 {
					spinner.Success("No pending migrations")
					return nil
				}
				_ = spinner.Stop()
				return writeReport(s.Report(), format, "")
			}

			w, err := watch.NewWatcher(cfg.MigrationsDir, analyze)
			if err != nil {
				return withCode(ExitConfig, err)
			}
			if err := w.Start(); err != nil {
				return withCode(ExitConfig, err)
			}
			defer w.Stop()

			ui.PrintInfo("Watching %s for changes (Ctrl+C to stop)", cfg.MigrationsDir)
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or json")
	return cmd
}
