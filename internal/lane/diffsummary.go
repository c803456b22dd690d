package lane

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName is the worktree-scoped ignore file consulted when
// building the commit's diff summary, mirroring the teacher's
// `.lineignore` habit (internal/engine/ignore_test.go) but scoped to
// CursorFlow's own filesystem contract.
const ignoreFileName = ".cursorflowignore"

// loadIgnore compiles the worktree's ignore patterns, if present. A
// missing file yields a nil matcher, which filterIgnored treats as
// "nothing is ignored".
func loadIgnore(worktreeDir string) *ignore.GitIgnore {
	data, err := os.ReadFile(filepath.Join(worktreeDir, ignoreFileName))
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	return ignore.CompileIgnoreLines(lines...)
}

// filterIgnored returns the subset of changed files that should appear in
// the commit summary written to the conversation log: files matching the
// worktree's ignore patterns are dropped, since they're typically agent
// scratch output (build artifacts, lockfiles) rather than the meaningful
// result of the task.
func filterIgnored(files []string, gi *ignore.GitIgnore) []string {
	if gi == nil {
		return files
	}
	var out []string
	for _, f := range files {
		if !gi.MatchesPath(f) {
			out = append(out, f)
		}
	}
	return out
}
