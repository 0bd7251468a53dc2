// Package cmd implements the invisibrow CLI: a manual-testing surface over
// the exposed operations spec.md §6 names (Scheduler.submit/stop/tasks,
// SessionStore.create/rename/delete/toggleHeadless/list, MemoryStore's bot
// keyword operations), independent of the real product UI spec.md §1
// pushes out of scope as an external collaborator.
//
// Grounded on the teacher's internal/cmd package: package-level flag
// variables bound in init(), Cobra subcommands with RunE functions, and
// signal.NotifyContext for graceful shutdown (internal/cmd/agentloop.go,
// internal/cmd/mcp.go).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "invisibrow",
	Short: "Invisibrow — the orchestration core of an agentic browser-automation platform",
}

// Execute runs the CLI and exits the process with status 1 on error;
// main.go's only job is to call this.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireSubcommand(cmd *cobra.Command, _ []string) error {
	return cmd.Help()
}
