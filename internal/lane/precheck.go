package lane

import (
	"fmt"
	"os/exec"

	"github.com/cursorflow/cursorflow/internal/cerrors"
)

// Precheck runs the narrow boundary check the Resume Engine performs
// unless invoked with --skip-doctor: the full `doctor` command is external
// and out of scope (spec §1), but resuming into a missing `git` binary or a
// non-repository working directory fails confusingly deep inside the Git
// Service, so this mirrors the teacher's gate-runner shape ("run a short
// list of checks, stop on first failure") narrowed to just those two.
func Precheck(repoDir string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return cerrors.Wrap(cerrors.ConfigInvalid, "git binary not found on PATH", err)
	}
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return cerrors.Wrap(cerrors.ConfigInvalid, fmt.Sprintf("%s is not a git repository: %s", repoDir, out), err)
	}
	return nil
}
