// Package runs implements the Run Service (C6) and the Resume/Recovery
// Engine (C7): discovering and describing runs under a repository's
// _cursorflow/logs/runs directory, stopping live lane processes, deleting run
// resources, and restarting incomplete runs from durable state.
package runs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/state"
)

// Status is the aggregate status the Run Service reports for a Run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// Summary describes one Run for `runs list`/`runs get`.
type Summary struct {
	ID        string
	Path      string
	Status    Status
	FlowName  string
	StartTime string
	EndTime   string
	Lanes     []*state.LaneState
	Branches  []string
	Worktrees []string
	Zombies   []string
}

// RunsRoot returns the directory holding every Run for a repository, per
// the stable filesystem contract in spec §6 (<repo>/_cursorflow/logs/runs).
func RunsRoot(repoDir string) string { return filepath.Join(repoDir, "_cursorflow", "logs", "runs") }

func runsRoot(repoDir string) string { return RunsRoot(repoDir) }

// List enumerates every Run under the repository's _cursorflow/logs/runs directory,
// most-recent first by directory name (run ids are monotonic timestamps,
// so lexicographic descending order is chronological).
func List(repoDir string) ([]Summary, error) {
	root := runsRoot(repoDir)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var out []Summary
	for _, id := range ids {
		s, err := Get(repoDir, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get loads and summarizes a single Run.
func Get(repoDir, runID string) (Summary, error) {
	runPath := filepath.Join(runsRoot(repoDir), runID)
	lanes, err := state.ListLanes(runPath)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{ID: runID, Path: runPath, Lanes: lanes}
	if rs, err := state.LoadRunState(runPath); err == nil && rs != nil {
		s.FlowName = rs.FlowName
		s.StartTime = rs.StartTime
		s.EndTime = rs.EndTime
	}

	branchSeen := make(map[string]bool)
	worktreeSeen := make(map[string]bool)
	anyRunning, anyFailed, allCompleted := false, false, true

	for _, ls := range lanes {
		if ls.PipelineBranch != "" && !branchSeen[ls.PipelineBranch] {
			branchSeen[ls.PipelineBranch] = true
			s.Branches = append(s.Branches, ls.PipelineBranch)
		}
		if ls.WorktreeDir != "" && !worktreeSeen[ls.WorktreeDir] {
			worktreeSeen[ls.WorktreeDir] = true
			s.Worktrees = append(s.Worktrees, ls.WorktreeDir)
		}
		if ls.Status != state.Completed {
			allCompleted = false
		}
		if ls.Status == state.Failed {
			anyFailed = true
		}
		if ls.Status == state.Running {
			if ls.PID > 0 && !state.IsProcessAlive(ls.PID) {
				s.Zombies = append(s.Zombies, ls.LaneName)
			} else {
				anyRunning = true
			}
		}
	}

	switch {
	case len(lanes) == 0:
		s.Status = StatusPartial
	case allCompleted:
		s.Status = StatusCompleted
	case anyRunning:
		s.Status = StatusRunning
	case anyFailed:
		s.Status = StatusFailed
	default:
		s.Status = StatusPartial
	}
	return s, nil
}

// Stop sends a signal (default SIGTERM) to every live lane process in a
// Run, or to a single named lane when laneName is non-empty.
func Stop(repoDir, runID, laneName string, sig syscall.Signal) error {
	runPath := filepath.Join(runsRoot(repoDir), runID)
	lanes, err := state.ListLanes(runPath)
	if err != nil {
		return err
	}
	for _, ls := range lanes {
		if laneName != "" && ls.LaneName != laneName {
			continue
		}
		if ls.PID <= 0 || !state.IsProcessAlive(ls.PID) {
			continue
		}
		proc, err := os.FindProcess(ls.PID)
		if err != nil {
			continue
		}
		if err := proc.Signal(sig); err != nil {
			return fmt.Errorf("signaling lane %s (pid %d): %w", ls.LaneName, ls.PID, err)
		}
	}
	return nil
}

// DeleteOptions controls what DeleteRun removes alongside the run
// directory itself.
type DeleteOptions struct {
	RemoveBranches  bool
	RemoveWorktrees bool
	RemoveLogs      bool
}

// DeleteRun removes a Run's resources per opts. Local branches are always
// removed when RemoveBranches is set; remote branches are left untouched
// per spec §3 invariant #4 unless explicit cleanup is requested (callers
// wanting remote deletion should use git.Repo.DeleteBranch directly with
// remote=true — DeleteRun only ever targets local refs and worktrees,
// matching the "preserves the remote unless explicit cleanup" default).
func DeleteRun(repo *git.Repo, repoDir, runID string, opts DeleteOptions) error {
	runPath := filepath.Join(runsRoot(repoDir), runID)
	lanes, err := state.ListLanes(runPath)
	if err != nil {
		return err
	}

	for _, ls := range lanes {
		if opts.RemoveWorktrees && ls.WorktreeDir != "" {
			if err := repo.RemoveWorktree(ls.WorktreeDir, true); err != nil {
				return fmt.Errorf("removing worktree for lane %s: %w", ls.LaneName, err)
			}
		}
		if opts.RemoveBranches && ls.PipelineBranch != "" {
			if err := repo.DeleteBranch(ls.PipelineBranch, false, true); err != nil {
				return fmt.Errorf("deleting branch for lane %s: %w", ls.LaneName, err)
			}
		}
	}

	if opts.RemoveLogs {
		if err := os.RemoveAll(runPath); err != nil {
			return fmt.Errorf("removing run directory: %w", err)
		}
	}
	return nil
}
