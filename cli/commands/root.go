// Package commands implements the preflight CLI commands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/cli/internal/version"
	"github.com/preflightdb/preflight/internal/debug"
)

// NewRootCommand creates the root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	var debugLogs bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Preview and safety-check database migrations before applying them",
		Long: `Preflight analyzes pending SQL migrations for destructive statements,
estimates their resource impact, and can execute them inside a transaction
with a guaranteed rollback so real behavior is observed without mutating
persisted state.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug.Init(debugLogs)
		},
	}
	cmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")

	cmd.AddCommand(NewInitCommand())
	cmd.AddCommand(NewUpCommand())
	cmd.AddCommand(NewDownCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewWatchCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		code := exitCode(err)
		if code == ExitExecution {
			ui.PrintError("execution failed: %v", err)
		} else {
			ui.PrintError("%v", err)
			fmt.Println()
		}
		return code
	}
	return ExitOK
}
