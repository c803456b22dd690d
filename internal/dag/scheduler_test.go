package dag

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/state"
)

func initSchedulerRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "seed")
	// The executor pushes every task's commit to origin.
	origin := filepath.Join(t.TempDir(), "origin.git")
	run("init", "--bare", origin)
	run("remote", "add", "origin", origin)
	return dir
}

// shExecutor returns a NewExecutor hook wiring every lane's Executor to a
// real repo and an `sh` "agent" so the scheduler test exercises real
// worktree creation, commits, and pushes end to end.
func shExecutor(repoDir, runID, runPath string, scripts map[string]string) func(config.Lane, chan<- lane.Event) *lane.Executor {
	return func(l config.Lane, events chan<- lane.Event) *lane.Executor {
		script := scripts[l.LaneName]
		if script == "" {
			script = "echo done > out.txt; exit 0"
		}
		return &lane.Executor{
			RunID:        runID,
			RunPath:      runPath,
			RepoDir:      repoDir,
			Repo:         git.NewRepo(repoDir),
			Flow:         &config.Flow{Meta: config.FlowMeta{BaseBranch: "main"}},
			Settings:     config.Settings{BranchPrefix: "cursorflow/"},
			AgentCommand: "sh",
			AgentArgs:    []string{"-c", script},
			Events:       events,
		}
	}
}

func TestSchedulerRunsIndependentLanesInParallel(t *testing.T) {
	repoDir := initSchedulerRepo(t)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-test")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "a", Tasks: []config.Task{{Name: "t", Prompt: "x"}}},
		{LaneName: "b", Tasks: []config.Task{{Name: "t", Prompt: "x"}}},
	}}

	s, err := NewScheduler(flow, "", "run-test", runPath, repoDir, 2)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.NewExecutor = shExecutor(repoDir, "run-test", runPath, nil)

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != ExitCompleted {
		t.Fatalf("expected exit 0, got %d", code)
	}

	for _, name := range []string{"a", "b"} {
		ls, err := state.Load(state.LanePath(runPath, name))
		if err != nil || ls == nil {
			t.Fatalf("lane %s: Load: %v", name, err)
		}
		if ls.Status != state.Completed {
			t.Fatalf("lane %s: expected completed, got %s (%s)", name, ls.Status, ls.Error)
		}
	}
}

func TestSchedulerRespectsDependencyOrdering(t *testing.T) {
	repoDir := initSchedulerRepo(t)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-test")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "base", Tasks: []config.Task{{Name: "init", Prompt: "x"}}},
		{LaneName: "dependent", Tasks: []config.Task{{Name: "use", Prompt: "x", DependsOn: []string{"base:init"}}}},
	}}

	s, err := NewScheduler(flow, "", "run-test", runPath, repoDir, 4)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.NewExecutor = shExecutor(repoDir, "run-test", runPath, nil)

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != ExitCompleted {
		t.Fatalf("expected exit 0, got %d", code)
	}

	base, _ := state.Load(state.LanePath(runPath, "base"))
	dependent, _ := state.Load(state.LanePath(runPath, "dependent"))
	if base.Status != state.Completed || dependent.Status != state.Completed {
		t.Fatalf("expected both lanes completed: base=%s dependent=%s", base.Status, dependent.Status)
	}
}

// TestSchedulerResolvesCrossLaneTaskDependencies reproduces a DAG where
// lane a's second task depends on lane b's first task and lane b's second
// task depends on lane a's first task. Gating readiness on whole-lane
// completion deadlocks this (neither lane can finish before the other
// starts); gating on the specific predecessor task, per spec §4.5, does
// not.
func TestSchedulerResolvesCrossLaneTaskDependencies(t *testing.T) {
	repoDir := initSchedulerRepo(t)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-test")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "a", Tasks: []config.Task{
			{Name: "t1", Prompt: "x"},
			{Name: "t2", Prompt: "x", DependsOn: []string{"b:t1"}},
		}},
		{LaneName: "b", Tasks: []config.Task{
			{Name: "t1", Prompt: "x"},
			{Name: "t2", Prompt: "x", DependsOn: []string{"a:t1"}},
		}},
	}}

	s, err := NewScheduler(flow, "", "run-test", runPath, repoDir, 2)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.NewExecutor = shExecutor(repoDir, "run-test", runPath, nil)

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != ExitCompleted {
		t.Fatalf("expected exit 0, got %d", code)
	}

	for _, name := range []string{"a", "b"} {
		ls, err := state.Load(state.LanePath(runPath, name))
		if err != nil || ls == nil {
			t.Fatalf("lane %s: Load: %v", name, err)
		}
		if ls.Status != state.Completed {
			t.Fatalf("lane %s: expected completed, got %s (%s)", name, ls.Status, ls.Error)
		}
	}
}

func TestSchedulerExitsTwoOnDependencyRequest(t *testing.T) {
	repoDir := initSchedulerRepo(t)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-test")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "needs-dep", Tasks: []config.Task{{Name: "setup", Prompt: "x"}}},
	}}

	s, err := NewScheduler(flow, "", "run-test", runPath, repoDir, 1)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.NewExecutor = shExecutor(repoDir, "run-test", runPath, map[string]string{
		"needs-dep": `echo '{"type":"dependency_request","reason":"need npm install"}'; exit 1`,
	})

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != ExitPaused {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestSchedulerRejectsCycleBeforeLaunchingAnyLane(t *testing.T) {
	repoDir := initSchedulerRepo(t)
	runPath := filepath.Join(repoDir, "logs", "runs", "run-test")

	flow := &config.Flow{Lanes: []config.Lane{
		{LaneName: "a", Tasks: []config.Task{{Name: "t", Prompt: "x", DependsOn: []string{"b"}}}},
		{LaneName: "b", Tasks: []config.Task{{Name: "t", Prompt: "x", DependsOn: []string{"a"}}}},
	}}

	if _, err := NewScheduler(flow, "", "run-test", runPath, repoDir, 4); err == nil {
		t.Fatal("expected cycle rejection")
	}

	entries, err := os.ReadDir(filepath.Join(repoDir, ".cursorflow", "worktrees"))
	if err == nil && len(entries) > 0 {
		t.Fatalf("expected no worktrees to be created, found %d", len(entries))
	}
}
