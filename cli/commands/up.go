package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/internal/debug"
	"github.com/preflightdb/preflight/migrate/dryrun"
	"github.com/preflightdb/preflight/migrate/version"
)

// NewUpCommand creates the up command.
func NewUpCommand() *cobra.Command {
	var (
		dryRun        bool
		dryRunExecute bool
		skipChecks    bool
		target        string
		format        string
		output        string
		force         bool
		failOn        string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations, with optional dry-run analysis or testing",
		Long: `Apply pending migrations in ascending version order.

With --dry-run, statements are classified and their cost estimated without
touching the database. With --dry-run-execute, each migration additionally
runs inside a transaction and is rolled back to a savepoint, so measured
timings come from real execution while nothing is persisted. A clean test
pass asks for confirmation before committing for real.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if failOn != "" {
				if _, _, err := failOnThreshold(failOn); err != nil {
					return err
				}
			}

			cfg := dryrun.Config{
				DryRun:        dryRun,
				DryRunExecute: dryRunExecute,
				SkipChecks:    skipChecks,
			}
			if target != "" {
				v, err := version.Parse(target)
				if err != nil {
					return withCode(ExitConfig, err)
				}
				cfg.Target = v
			}
			if err := cfg.Validate(); err != nil {
				return withCode(ExitConfig, err)
			}

			ctx := cmd.Context()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if failOn == "" {
				failOn = rt.cfg.FailOn
			}

			if skipChecks {
				return runDirectApply(cmd, rt, cfg.Target)
			}

			s, err := rt.orch.Run(ctx, cfg)
			if err != nil {
				return withCode(ExitConfig, err)
			}
			if len(s.Plan) == 0 {
				ui.PrintSuccess("No pending migrations")
				return nil
			}

			if err := writeReport(s.Report(), format, output); err != nil {
				return err
			}

			switch {
			case dryRun:
				return applyPolicy(s, failOn)
			case dryRunExecute:
				return finishTestSession(cmd, s, format, output, force, failOn)
			default:
				// Plain up: analysis gates the real apply.
				if err := applyPolicy(s, failOn); err != nil {
					return err
				}
				return runDirectApply(cmd, rt, cfg.Target)
			}
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Analyze pending migrations without executing anything")
	cmd.Flags().BoolVar(&dryRunExecute, "dry-run-execute", false, "Execute pending migrations in a rolled-back transaction")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Apply without safety analysis")
	cmd.Flags().StringVar(&target, "target", "", "Stop at (and include) this migration version")
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt and accept")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Fail when the plan reaches this severity: none, warning, or unsafe")

	return cmd
}

// finishTestSession drives a tested session through confirmation and
// commit. Declining is a successful outcome.
func finishTestSession(cmd *cobra.Command, s *dryrun.Session, format, output string, force bool, failOn string) error {
	if !s.CleanTestPass() {
		return withCode(ExitConfig, fmt.Errorf("dry-run execution failed; not safe to apply"))
	}
	if err := applyPolicy(s, failOn); err != nil {
		return err
	}

	accepted := force
	if !force {
		var err error
		accepted, err = confirm(fmt.Sprintf("Dry run passed. Apply %d migration(s) for real?", len(s.Plan)))
		if err != nil {
			return withCode(ExitConfig, err)
		}
	}
	if !accepted {
		s.Decline()
		ui.PrintInfo("Declined; no changes were made")
		return nil
	}

	token, err := s.PlanCommit()
	if err != nil {
		return withCode(ExitConfig, err)
	}
	debug.Debug("committing session", "session", s.ID)

	if err := s.Commit(cmd.Context(), token); err != nil {
		// The post-commit report shows which versions were applied, which
		// failed, and which were never attempted.
		if werr := writeReport(s.Report(), format, output); werr != nil {
			ui.PrintError("failed to write report: %v", werr)
		}
		return err
	}

	if err := writeReport(s.Report(), format, output); err != nil {
		return err
	}
	ui.PrintSuccess("Applied %d migration(s)", len(s.Plan))
	return nil
}

func runDirectApply(cmd *cobra.Command, rt *runtime, target version.Version) error {
	applied, err := rt.orch.Apply(cmd.Context(), target)
	for _, a := range applied {
		ui.PrintSuccess("Applied %s_%s (%dms)", a.Definition.Version, a.Definition.Name, a.Duration.Milliseconds())
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		ui.PrintSuccess("No pending migrations")
	}
	return nil
}
