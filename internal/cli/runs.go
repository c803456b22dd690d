package cli

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/runs"
)

var (
	deleteBranches  bool
	deleteWorktrees bool
	deleteLogs      bool
)

func init() {
	deleteRunCmd.Flags().BoolVar(&deleteBranches, "branches", false, "Also delete each lane's local branch")
	deleteRunCmd.Flags().BoolVar(&deleteWorktrees, "worktrees", false, "Also remove each lane's worktree")
	deleteRunCmd.Flags().BoolVar(&deleteLogs, "logs", false, "Also remove the run's log directory")

	runsCmd.AddCommand(listRunsCmd, getRunCmd, stopRunCmd, deleteRunCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage runs",
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List every run in the current repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		summaries, err := runs.List(repoDir)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		fmt.Println("Run                    Status      Lanes  Flow")
		fmt.Println("──────────────────────────────────────────────────")
		for _, s := range summaries {
			symbol, color := runStatusDisplay(s.Status)
			fmt.Printf("%s%s%-23s %-11s %-6d %s%s\n", color, symbol+" ", s.ID, s.Status, len(s.Lanes), s.FlowName, ansiReset)
		}
		return nil
	},
}

var getRunCmd = &cobra.Command{
	Use:   "get <runId>",
	Short: "Show per-lane detail for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		s, err := runs.Get(repoDir, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Run %s — %s\n", s.ID, s.Status)
		if s.FlowName != "" {
			fmt.Printf("flow: %s  started: %s\n", s.FlowName, s.StartTime)
		}
		fmt.Println("─────────────────────────────────────────")
		for _, ls := range s.Lanes {
			symbol, color := statusDisplay(ls.Status)
			fmt.Printf("%s%s %-20s %d/%d tasks%s\n", color, symbol, ls.LaneName, ls.CurrentTaskIndex, ls.TotalTasks, ansiReset)
			if ls.Status.IsTerminal() && ls.Error != "" {
				fmt.Printf("    error: %s\n", ls.Error)
			}
			if ls.DependencyRequest != nil {
				fmt.Printf("    dependency request: %s\n", ls.DependencyRequest.Reason)
			}
		}
		if len(s.Zombies) > 0 {
			fmt.Printf("\nzombie lanes (process died without updating state): %v\n", s.Zombies)
		}
		return nil
	},
}

var stopRunCmd = &cobra.Command{
	Use:   "stop <runId> [lane]",
	Short: "Send SIGTERM to a run's live lane processes",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		laneName := ""
		if len(args) == 2 {
			laneName = args[1]
		}
		return runs.Stop(repoDir, args[0], laneName, syscall.SIGTERM)
	},
}

var deleteRunCmd = &cobra.Command{
	Use:   "delete <runId>",
	Short: "Delete a run's resources",
	Long: `Delete removes the run's resources according to its flags. With no
flags set, it prints a "nothing to do" message and removes nothing; pass --branches,
--worktrees, and/or --logs to actually remove that resource (spec §3
invariant: remote branches are never touched by this command).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		repo := git.NewRepo(repoDir)
		opts := runs.DeleteOptions{
			RemoveBranches:  deleteBranches,
			RemoveWorktrees: deleteWorktrees,
			RemoveLogs:      deleteLogs,
		}
		if !opts.RemoveBranches && !opts.RemoveWorktrees && !opts.RemoveLogs {
			fmt.Println("Nothing to do: pass --branches, --worktrees, and/or --logs.")
			return nil
		}
		if err := runs.DeleteRun(repo, repoDir, args[0], opts); err != nil {
			return err
		}
		fmt.Printf("Deleted resources for run %s.\n", args[0])
		return nil
	},
}

// repoDirFromCwd resolves the git repository root from the working
// directory, used by run-scoped subcommands that don't take a flow-dir
// argument of their own.
func repoDirFromCwd() (string, error) {
	cwd, err := filepath.Abs(".")
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(cwd)
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root from %s", cwd)
	}
	return repoDir, nil
}
