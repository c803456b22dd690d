package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cursorflow run", func() {
	var tmpDir, repoDir, flowDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cursorflow-run-*")
		Expect(err).NotTo(HaveOccurred())

		repoDir = filepath.Join(tmpDir, "repo")
		originDir := filepath.Join(tmpDir, "origin.git")
		runGit(tmpDir, "init", "--bare", originDir)
		runGit(tmpDir, "init", repoDir)
		runGit(repoDir, "checkout", "-b", "main")
		writeFile(filepath.Join(repoDir, "hello.txt"), "hello\n")
		runGit(repoDir, "add", "hello.txt")
		runGit(repoDir, "commit", "-m", "initial commit")
		runGit(repoDir, "remote", "add", "origin", originDir)
		runGit(repoDir, "push", "-u", "origin", "main")

		flowDir = filepath.Join(repoDir, "_cursorflow", "flows", "001_Greenfield")
		writeFile(filepath.Join(flowDir, "flow.meta.json"), `{
  "id": "001",
  "name": "Greenfield",
  "createdAt": "2026-01-01T00:00:00Z",
  "baseBranch": "main",
  "status": "active",
  "lanes": ["build"]
}`)
		writeFile(filepath.Join(flowDir, "001-build.json"), `{
  "laneName": "build",
  "tasks": [
    {"name": "scaffold", "prompt": "scaffold the project"}
  ]
}`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("exits 0 and completes the lane for a single-lane single-task flow", func() {
		cmd := exec.Command(binaryPath, "run", "--agent", "sh", "--agent-arg", "-c", "--agent-arg", "echo done", flowDir)
		cmd.Dir = repoDir
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
	})

	It("creates the lane's pipeline branch", func() {
		cmd := exec.Command(binaryPath, "run", "--agent", "sh", "--agent-arg", "-c", "--agent-arg", "echo done", flowDir)
		cmd.Dir = repoDir
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		branches := runGitOutput(repoDir, "branch")
		Expect(branches).To(ContainSubstring("cursorflow/build"))
	})

	It("records lane state as completed under _cursorflow/logs/runs", func() {
		cmd := exec.Command(binaryPath, "run", "--agent", "sh", "--agent-arg", "-c", "--agent-arg", "echo done", flowDir)
		cmd.Dir = repoDir
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		runsRoot := filepath.Join(repoDir, "_cursorflow", "logs", "runs")
		entries, err := os.ReadDir(runsRoot)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).NotTo(BeEmpty())

		runDir := filepath.Join(runsRoot, entries[0].Name())

		statePath := filepath.Join(runDir, "lanes", "build", "state.json")
		data, err := os.ReadFile(statePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"status": "completed"`))

		runStatePath := filepath.Join(runDir, "state.json")
		runData, err := os.ReadFile(runStatePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(runData)).To(ContainSubstring(`"status": "completed"`))
		Expect(string(runData)).To(ContainSubstring(`"taskName": "Greenfield"`))
	})
})
