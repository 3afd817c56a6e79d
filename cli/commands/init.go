package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/config"
	"github.com/preflightdb/preflight/cli/internal/ui"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var (
		migrationsDir string
		provider      string
		failOn        string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration and create the migrations directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := failOnThreshold(failOn); err != nil {
				return err
			}
			switch provider {
			case "", "postgres", "postgresql", "mysql", "sqlite":
			default:
				return withCode(ExitConfig, fmt.Errorf("unknown provider %q (expected postgres, mysql, or sqlite)", provider))
			}

			cfg := &config.Config{
				MigrationsDir: migrationsDir,
				Provider:      provider,
				FailOn:        failOn,
				OutputFormat:  "text",
			}
			if err := config.SaveConfig(cfg); err != nil {
				return withCode(ExitConfig, err)
			}
			if err := config.AppFs.MkdirAll(migrationsDir, 0755); err != nil {
				return withCode(ExitConfig, err)
			}

			ui.PrintSuccess("Configuration saved; migrations go in %s", migrationsDir)
			ui.PrintInfo("Set DATABASE_URL (environment or .env) before running preflight up")
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationsDir, "migrations-dir", "migrations", "Directory for migration files")
	cmd.Flags().StringVar(&provider, "provider", "", "Database provider: postgres, mysql, or sqlite")
	cmd.Flags().StringVar(&failOn, "fail-on", "unsafe", "Default severity threshold: none, warning, or unsafe")
	return cmd
}
