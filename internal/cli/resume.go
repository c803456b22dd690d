package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/dag"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/runs"
	"github.com/cursorflow/cursorflow/internal/state"
)

var (
	resumeRestart    bool
	resumeSkipDoctor bool
)

func init() {
	resumeCmd.Flags().StringVar(&runAgentCommand, "agent", "cursor-agent", "Agent executable to invoke for each task")
	resumeCmd.Flags().StringSliceVar(&runAgentArgs, "agent-arg", nil, "Extra argument to pass to the agent executable (repeatable)")
	resumeCmd.Flags().BoolVar(&resumeRestart, "restart", false, "Restart resumable lanes from their first task instead of their recorded progress")
	resumeCmd.Flags().BoolVar(&resumeSkipDoctor, "skip-doctor", false, "Skip the git/repo precheck before resuming")
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume <runId>",
	Short: "Resume an incomplete run",
	Long: `Resume classifies a run's lanes into completed, resumable, and
unresolvable sets (spec §4.7), then drives every resumable lane forward
from its recorded progress — or from its first task when --restart is
set — honoring the same dependency and concurrency rules as a fresh run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		logger := newLogger()

		cwd, err := filepath.Abs(".")
		if err != nil {
			return err
		}
		repoDir := findGitRoot(cwd)
		if repoDir == "" {
			exitCode = dag.ExitFailed
			return fmt.Errorf("could not find git repository root from %s", cwd)
		}

		if !resumeSkipDoctor {
			if err := lane.Precheck(repoDir); err != nil {
				exitCode = dag.ExitFailed
				return err
			}
		}

		runPath := filepath.Join(runs.RunsRoot(repoDir), runID)
		lanes, err := state.ListLanes(runPath)
		if err != nil {
			exitCode = dag.ExitFailed
			return err
		}
		if len(lanes) == 0 {
			exitCode = dag.ExitFailed
			return fmt.Errorf("no lanes found for run %s", runID)
		}
		flowDir := filepath.Dir(lanes[0].TasksFile)

		flow, err := loadAndValidateFlow(flowDir)
		if err != nil {
			exitCode = dag.ExitFailed
			return err
		}
		settings, err := config.LoadSettings(filepath.Join(repoDir, "cursorflow.yaml"))
		if err != nil {
			exitCode = dag.ExitFailed
			return err
		}

		ctx := withCancelOnSignal(cmd.Context(), logger)
		return runResume(ctx, logger, repoDir, flow, settings, runID, resumeRestart)
	},
}

// runResume builds a Resume/Recovery Engine for an existing run and drives
// it to a terminal exit code, shared between the `resume` command and the
// `run` command's spec §4.5 auto-resume delegation.
func runResume(ctx context.Context, logger *slog.Logger, repoDir string, flow *config.Flow, settings config.Settings, runID string, restart bool) error {
	runPath := filepath.Join(runs.RunsRoot(repoDir), runID)
	repo := git.NewRepo(repoDir)
	repo.EnsureIdentity()

	engine, err := runs.NewEngine(flow, repo, repoDir, runID, runPath, settings)
	if err != nil {
		exitCode = dag.ExitFailed
		return err
	}
	engine.Logger = logger
	engine.NewExecutor = newResumeExecutorFactory(repo, flow, settings, runAgentCommand, runAgentArgs)

	logger.Info("resume starting", "runId", runID, "flow", flow.Meta.Name, "restart", restart)
	code, err := engine.Resume(ctx, restart)
	exitCode = code
	if err != nil {
		if err == runs.ErrDeadlock {
			logger.Error("resume deadlocked: no resumable lane could be started", "runId", runID)
		}
		return err
	}
	reportOutcome(logger, code, runID)
	if code != dag.ExitCompleted && code != dag.ExitPaused {
		return fmt.Errorf("resume of run %s did not complete successfully (exit %d)", runID, code)
	}
	return nil
}
