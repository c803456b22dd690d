package cli

import (
	"log/slog"

	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/state"
)

// newExecutorFactory builds the dag.Scheduler/runs.Engine NewExecutor hook
// wiring every lane to the real agent command, shared Repo, and the run's
// Flow/Settings, so the CLI's own plumbing is the single place that knows
// how to turn a config.Lane into a lane.Executor.
func newExecutorFactory(repo *git.Repo, flow *config.Flow, settings config.Settings, agentCommand string, agentArgs []string) func(config.Lane, chan<- lane.Event) *lane.Executor {
	return func(l config.Lane, events chan<- lane.Event) *lane.Executor {
		return &lane.Executor{
			RepoDir:      repo.Dir,
			Repo:         repo,
			Flow:         flow,
			Settings:     settings,
			AgentCommand: agentCommand,
			AgentArgs:    agentArgs,
			Events:       events,
			Logger:       slog.Default(),
		}
	}
}

// newResumeExecutorFactory is the runs.Engine.NewExecutor counterpart of
// newExecutorFactory, carrying the same agent wiring into a resumed lane's
// Executor.
func newResumeExecutorFactory(repo *git.Repo, flow *config.Flow, settings config.Settings, agentCommand string, agentArgs []string) func(config.Lane, *state.LaneState, chan<- lane.Event) *lane.Executor {
	return func(l config.Lane, resume *state.LaneState, events chan<- lane.Event) *lane.Executor {
		return &lane.Executor{
			RepoDir:      repo.Dir,
			Repo:         repo,
			Flow:         flow,
			Settings:     settings,
			AgentCommand: agentCommand,
			AgentArgs:    agentArgs,
			Events:       events,
			Logger:       slog.Default(),
		}
	}
}
