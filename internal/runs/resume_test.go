package runs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/dag"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/state"
)

func TestResumeContinuesFromCurrentTaskIndex(t *testing.T) {
	repoDir := initRunsRepo(t)
	repo := git.NewRepo(repoDir)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-1")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "L1", Tasks: []config.Task{
			{Name: "a", Prompt: "x"},
			{Name: "b", Prompt: "x"},
			{Name: "c", Prompt: "x"},
		}},
	}}

	branch := lane.BranchName("cursorflow/", "L1", "run-1")
	worktree := lane.WorktreeDir(repoDir, "run-1", "L1")
	writeLaneState(t, runPath, "L1", &state.LaneState{
		LaneName: "L1", WorktreeDir: worktree, PipelineBranch: branch,
		CurrentTaskIndex: 1, TotalTasks: 3, Status: state.Failed, Error: "simulated crash",
	})

	settings := config.Settings{BranchPrefix: "cursorflow/", MaxConcurrentLanes: 4}
	engine, err := NewEngine(flow, repo, repoDir, "run-1", runPath, settings)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.NewExecutor = func(l config.Lane, resume *state.LaneState, events chan<- lane.Event) *lane.Executor {
		return &lane.Executor{
			RunID: "run-1", RunPath: runPath, RepoDir: repoDir, Repo: repo,
			Flow: flow, Settings: settings, AgentCommand: "sh",
			AgentArgs: []string{"-c", "echo hi > out.txt; exit 0"}, Events: events,
		}
	}

	code, err := engine.Resume(context.Background(), false)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if code != dag.ExitCompleted {
		t.Fatalf("expected exit 0, got %d", code)
	}

	ls, err := state.Load(state.LanePath(runPath, "L1"))
	if err != nil || ls == nil {
		t.Fatalf("Load: %v", err)
	}
	if ls.Status != state.Completed || ls.CurrentTaskIndex != 3 {
		t.Fatalf("expected lane completed at index 3, got status=%s index=%d", ls.Status, ls.CurrentTaskIndex)
	}
}

func TestResumeReportsDeadlockWhenDependencyNeverCompleted(t *testing.T) {
	repoDir := initRunsRepo(t)
	repo := git.NewRepo(repoDir)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-2")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "base", Tasks: []config.Task{{Name: "init", Prompt: "x"}}},
		{LaneName: "dependent", Tasks: []config.Task{{Name: "use", Prompt: "x", DependsOn: []string{"base:init"}}}},
	}}

	writeLaneState(t, runPath, "dependent", &state.LaneState{
		LaneName: "dependent", Status: state.Failed, TotalTasks: 1, CurrentTaskIndex: 0,
	})

	settings := config.Settings{BranchPrefix: "cursorflow/", MaxConcurrentLanes: 4}
	engine, err := NewEngine(flow, repo, repoDir, "run-2", runPath, settings)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	code, err := engine.Resume(context.Background(), false)
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("expected ErrDeadlock, got %v", err)
	}
	if code != dag.ExitFailed {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestClassifyPartitionsLanes(t *testing.T) {
	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "base", Tasks: []config.Task{{Name: "init", Prompt: "x"}}},
		{LaneName: "dependent", Tasks: []config.Task{{Name: "use", Prompt: "x", DependsOn: []string{"base:init"}}}},
	}}
	g, err := dag.Validate(flow)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	lanes := []*state.LaneState{
		{LaneName: "base", Status: state.Completed},
		{LaneName: "dependent", Status: state.Failed},
	}
	completedSet, resumable, unresolvable := Classify(g, lanes)
	if !completedSet["base"] {
		t.Fatal("expected base in completedSet")
	}
	if !resumable["dependent"] {
		t.Fatalf("expected dependent resumable, got resumable=%v unresolvable=%v", resumable, unresolvable)
	}
	if len(unresolvable) != 0 {
		t.Fatalf("expected no unresolvable lanes, got %v", unresolvable)
	}
}
