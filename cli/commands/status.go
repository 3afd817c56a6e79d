package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/migrate/classify"
	"github.com/preflightdb/preflight/migrate/registry"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			applied := rt.reg.Applied()
			entries := make(map[string]registry.LedgerEntry, len(applied))
			for _, e := range applied {
				entries[e.Version.Key()] = e
			}

			var rows [][]string
			pending := 0
			for _, def := range rt.reg.Definitions() {
				state := "pending"
				when := "-"
				took := "-"
				if e, ok := entries[def.Version.Key()]; ok {
					state = "applied"
					when = e.AppliedAt.Format("2006-01-02 15:04:05")
					took = fmt.Sprintf("%dms", e.DurationMs)
				} else {
					pending++
				}
				severity := classify.Analyze(def.ForwardScript).Aggregate
				rows = append(rows, []string{
					def.Version.String(),
					def.Name,
					state,
					when,
					took,
					ui.Severity(severity.String()),
				})
			}

			if len(rows) == 0 {
				ui.PrintInfo("No migrations found in %s", rt.cfg.MigrationsDir)
				return nil
			}

			ui.PrintTable(
				[]string{"Version", "Name", "State", "Applied At", "Took", "Classification"},
				rows,
			)
			fmt.Println()
			ui.PrintInfo("%d applied, %d pending", len(applied), pending)
			return nil
		},
	}
}
