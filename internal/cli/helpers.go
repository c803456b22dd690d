package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cursorflow/cursorflow/internal/config"
)

// EngineVersion is checked against a Flow's optional engineVersion
// constraint (spec's semver-gated compatibility field).
const EngineVersion = "0.1.0"

// findGitRoot walks up from dir looking for a .git directory, mirroring
// the teacher's own helper of the same name.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolveRepo finds the git repository root starting from a flow
// directory argument.
func resolveRepo(flowArg string) (string, error) {
	flowPath, err := filepath.Abs(flowArg)
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(flowPath)
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root from %s", flowPath)
	}
	return repoDir, nil
}

// loadAndValidateFlow loads a Flow directory and runs structural
// validation (duplicate names, unknown dependsOn, engineVersion gate),
// printing each error to stderr before returning an error that reports
// how many validation errors were found.
func loadAndValidateFlow(flowDir string) (*config.Flow, error) {
	flow, err := config.LoadFlow(flowDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}
	if errs := config.Validate(flow, EngineVersion); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}
	return flow, nil
}
