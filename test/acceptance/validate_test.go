package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cursorflow validate", func() {
	var tmpDir, flowDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cursorflow-validate-*")
		Expect(err).NotTo(HaveOccurred())
		flowDir = filepath.Join(tmpDir, "flow")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("with a well-formed flow", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(flowDir, "flow.meta.json"), `{
  "id": "001", "name": "Valid", "createdAt": "2026-01-01T00:00:00Z",
  "baseBranch": "main", "status": "active", "lanes": ["build"]
}`)
			writeFile(filepath.Join(flowDir, "001-build.json"), `{
  "laneName": "build",
  "tasks": [{"name": "scaffold", "prompt": "do it"}]
}`)
		})

		It("exits 0", func() {
			cmd := exec.Command(binaryPath, "validate", flowDir)
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
			Expect(string(output)).To(ContainSubstring("valid"))
		})
	})

	Context("with a dependency cycle between two lanes", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(flowDir, "flow.meta.json"), `{
  "id": "002", "name": "Cyclic", "createdAt": "2026-01-01T00:00:00Z",
  "baseBranch": "main", "status": "active", "lanes": ["a", "b"]
}`)
			writeFile(filepath.Join(flowDir, "001-a.json"), `{
  "laneName": "a",
  "tasks": [{"name": "t1", "prompt": "do it", "dependsOn": ["b"]}]
}`)
			writeFile(filepath.Join(flowDir, "002-b.json"), `{
  "laneName": "b",
  "tasks": [{"name": "t1", "prompt": "do it", "dependsOn": ["a"]}]
}`)
		})

		It("exits non-zero", func() {
			cmd := exec.Command(binaryPath, "validate", flowDir)
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with a dependsOn referencing an unknown lane", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(flowDir, "flow.meta.json"), `{
  "id": "003", "name": "Dangling", "createdAt": "2026-01-01T00:00:00Z",
  "baseBranch": "main", "status": "active", "lanes": ["a"]
}`)
			writeFile(filepath.Join(flowDir, "001-a.json"), `{
  "laneName": "a",
  "tasks": [{"name": "t1", "prompt": "do it", "dependsOn": ["ghost"]}]
}`)
		})

		It("exits non-zero and names the unknown lane", func() {
			cmd := exec.Command(binaryPath, "validate", flowDir)
			output, err := cmd.CombinedOutput()
			Expect(err).To(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("ghost"))
		})
	})
})
