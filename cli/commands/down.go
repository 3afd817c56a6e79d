package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/migrate/dryrun"
	"github.com/preflightdb/preflight/migrate/registry"
)

// NewDownCommand creates the down command.
func NewDownCommand() *cobra.Command {
	var (
		steps  int
		format string
		output string
		force  bool
		apply  bool
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Analyze or roll back the most recently applied migrations",
		Long: `Analyze the reverse scripts of the most recently applied migrations,
most recent first. Rollbacks are never executed transactionally-tested;
destructive reverse scripts (DROP TABLE and friends) are exactly what the
analysis is there to surface. Pass --apply to execute the rollback after
reviewing the report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			s, err := rt.orch.Run(ctx, dryrun.Config{
				Direction: registry.Down,
				Steps:     steps,
			})
			if err != nil {
				return withCode(ExitConfig, err)
			}

			if err := writeReport(s.Report(), format, output); err != nil {
				return err
			}
			if !apply {
				return nil
			}

			accepted := force
			if !force {
				accepted, err = confirm(fmt.Sprintf("Roll back %d migration(s)?", len(s.Plan)))
				if err != nil {
					return withCode(ExitConfig, err)
				}
			}
			if !accepted {
				ui.PrintInfo("Declined; no changes were made")
				return nil
			}

			reverted, err := rt.orch.Rollback(ctx, len(s.Plan))
			for _, r := range reverted {
				ui.PrintSuccess("Rolled back %s_%s (%dms)", r.Definition.Version, r.Definition.Name, r.Duration.Milliseconds())
			}
			return err
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "Number of applied migrations to roll back")
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&apply, "apply", false, "Execute the rollback after analysis")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt and accept")

	return cmd
}
