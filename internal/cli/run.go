package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/dag"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/runs"
	"github.com/cursorflow/cursorflow/internal/state"
)

var (
	runAgentCommand string
	runAgentArgs    []string
	runMaxLanes     int
)

func init() {
	runCmd.Flags().StringVar(&runAgentCommand, "agent", "cursor-agent", "Agent executable to invoke for each task")
	runCmd.Flags().StringSliceVar(&runAgentArgs, "agent-arg", nil, "Extra argument to pass to the agent executable (repeatable)")
	runCmd.Flags().IntVar(&runMaxLanes, "max-concurrent-lanes", 0, "Override the concurrency cap (0 = use settings/default)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <flow-dir>",
	Short: "Run a Flow to completion",
	Long: `Run builds the task-level dependency graph for a Flow and drives its
lanes to completion, launching a Lane Executor per lane as dependencies are
satisfied. If the target Flow already has an incomplete Run, run delegates
to the Resume/Recovery Engine instead of starting fresh (spec §4.5).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		flowDir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		repoDir, err := resolveRepo(flowDir)
		if err != nil {
			return err
		}
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
		if runMaxLanes > 0 {
			settings.MaxConcurrentLanes = runMaxLanes
		}

		if activeRunID, ok := findActiveRun(repoDir, flowDir); ok {
			logger.Info("found incomplete run for this flow, resuming instead of starting fresh", "runId", activeRunID)
			return runResume(cmd.Context(), logger, repoDir, flow, settings, activeRunID, false)
		}

		runID := state.NewRunID(time.Now())
		runPath := filepath.Join(runs.RunsRoot(repoDir), runID)
		repo := git.NewRepo(repoDir)
		repo.EnsureIdentity()

		sched, err := dag.NewScheduler(flow, EngineVersion, runID, runPath, repoDir, settings.MaxConcurrentLanes)
		if err != nil {
			exitCode = dag.ExitFailed
			return err
		}
		sched.Logger = logger
		sched.NewExecutor = newExecutorFactory(repo, flow, settings, runAgentCommand, runAgentArgs)

		ctx := withCancelOnSignal(cmd.Context(), logger)

		logger.Info("run starting", "runId", runID, "flow", flow.Meta.Name, "lanes", len(flow.Lanes))
		code, err := sched.Run(ctx)
		exitCode = code
		if err != nil {
			return err
		}
		reportOutcome(logger, code, runID)
		if code != dag.ExitCompleted && code != dag.ExitPaused {
			return fmt.Errorf("run %s did not complete successfully (exit %d)", runID, code)
		}
		return nil
	},
}

// findActiveRun reports whether repoDir already has a Run whose lanes were
// loaded from this Flow's directory and have not all reached a terminal
// completed state — spec §4.5's auto-resume trigger. A LaneState's
// tasksFile is the absolute lane file path, which lives under flowDir, so
// matching on that prefix identifies "this run belongs to this flow"
// without a separate flowRef index.
func findActiveRun(repoDir, flowDir string) (string, bool) {
	summaries, err := runs.List(repoDir)
	if err != nil {
		return "", false
	}
	for _, s := range summaries {
		if s.Status == runs.StatusCompleted {
			continue
		}
		for _, ls := range s.Lanes {
			if strings.HasPrefix(ls.TasksFile, flowDir+string(filepath.Separator)) {
				return s.ID, true
			}
		}
	}
	return "", false
}

// withCancelOnSignal returns a context cancelled on the first SIGINT/SIGTERM
// (spec §5: "stop launching new lanes, SIGTERM all active executors") and
// force-exits the process on a second signal.
func withCancelOnSignal(parent context.Context, logger interface {
	Warn(msg string, args ...any)
}) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("received interrupt, cancelling lanes (press again to force-exit)")
		cancel()
		<-sigCh
		os.Exit(dag.ExitCancelled)
	}()
	return ctx
}

func reportOutcome(logger interface {
	Info(msg string, args ...any)
}, code int, runID string) {
	switch code {
	case dag.ExitCompleted:
		logger.Info("run completed", "runId", runID)
	case dag.ExitPaused:
		logger.Info("run paused on a dependency request; inspect with `cursorflow runs get` and resume after resolving", "runId", runID)
	case dag.ExitCancelled:
		logger.Info("run cancelled", "runId", runID)
	default:
		logger.Info("run failed", "runId", runID)
	}
}
