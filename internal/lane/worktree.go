// Package lane implements the Lane Executor (C4): it owns exactly one
// LaneState from creation to a terminal state, driving its task sequence
// through the Agent Runner and committing/pushing through the Git Service.
package lane

import (
	"fmt"
	"path/filepath"

	"github.com/cursorflow/cursorflow/internal/git"
)

// WorktreeHandle is an explicit, RAII-style handle on a lane's worktree.
// It is acquired once at cold-start initialization and released only when
// the owning LaneState reaches a terminal status, per the REDESIGN note
// replacing implicit garbage-collected ownership with an explicit handle
// modeled on the pool's WorktreeResult{Path, Cleanup} shape.
type WorktreeHandle struct {
	repo   *git.Repo
	path   string
	branch string
}

// AcquireWorktree creates a new worktree for a lane's cold start.
func AcquireWorktree(repo *git.Repo, baseBranch, branch, path string) (*WorktreeHandle, error) {
	if err := repo.CreateWorktree(baseBranch, branch, path); err != nil {
		return nil, err
	}
	repo.EnsureIdentity()
	return &WorktreeHandle{repo: repo, path: path, branch: branch}, nil
}

// ReacquireWorktree attaches a handle to a worktree that should already
// exist on disk (resume path). If the directory is missing — the Run
// directory survived a crash but the worktree didn't — it is recreated
// against baseBranch, matching the orphan-reclaim strategy in spec §9.
func ReacquireWorktree(repo *git.Repo, baseBranch, branch, path string) (*WorktreeHandle, error) {
	existing, err := repo.ListWorktrees()
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	for _, wt := range existing {
		if samePath(wt.Path, path) {
			return &WorktreeHandle{repo: repo, path: path, branch: branch}, nil
		}
	}
	return AcquireWorktree(repo, baseBranch, branch, path)
}

func samePath(a, b string) bool {
	ac, err1 := filepath.Abs(a)
	bc, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return ac == bc
}

// Path returns the worktree's filesystem path.
func (h *WorktreeHandle) Path() string { return h.path }

// Branch returns the branch checked out in this worktree.
func (h *WorktreeHandle) Branch() string { return h.branch }

// Release removes the worktree. Only valid once the owning LaneState has
// reached a terminal status and the branch has been pushed (spec §3
// invariant #3); callers are responsible for enforcing that ordering.
func (h *WorktreeHandle) Release(force bool) error {
	if h == nil {
		return nil
	}
	return h.repo.RemoveWorktree(h.path, force)
}

// WorktreeDir deterministically derives a lane's worktree directory from
// its laneName and runId (spec §4.4 step 2), rooted under the repository's
// own `.cursorflow/worktrees` tree so it is never confused with a sibling
// checkout.
func WorktreeDir(repoDir, runID, laneName string) string {
	return filepath.Join(repoDir, ".cursorflow", "worktrees", runID, laneName)
}

// BranchName resolves a lane's pipeline branch name. See DESIGN.md "Branch
// naming decision": spec §4.4 step 1 names it <branchPrefix><runId>, which
// collides across lanes of the same run, so laneName disambiguates.
func BranchName(branchPrefix, laneName, runID string) string {
	return branchPrefix + laneName + "-" + runID
}
