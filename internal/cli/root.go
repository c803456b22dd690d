// Package cli assembles the Cobra command tree: run, runs (list/get/stop/
// delete), resume, intervene, graph, logs, validate, and version. It is the thin operator surface
// over the engine packages (dag, lane, runs, git, config) — everything
// here is argument parsing, repo discovery, and output formatting; none of
// the scheduling or execution logic lives here.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/logging"
)

// Version is set at build time via ldflags, mirroring the teacher's own
// `var Version = "dev"` habit in its root command.
var Version = "dev"

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "cursorflow",
	Short: "Orchestrate parallel AI coding agents across Git worktrees",
	Long: `CursorFlow drives a directed graph of lanes — each lane a Git worktree
running a sequence of AI-agent tasks — to completion. Tasks run only after
their declared predecessors succeed; crashes and reboots resume without
losing progress; each lane's commits land on their own branch for review.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colorized log output")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cursorflow %s\n", Version)
	},
}

// exitCode lets a command report one of spec §6's process exit codes
// (0 completed, 1 failed, 2 paused, 130 cancelled) without Cobra printing
// usage text for an expected non-zero outcome (paused/failed are normal
// engine results, not usage errors).
var exitCode int

// Execute runs the root command and returns the process exit code to use,
// per spec §6's exit code table.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func newLogger() *slog.Logger {
	return logging.FromFlags(logLevel, noColor)
}
