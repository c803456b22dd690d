package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/runs"
	"github.com/cursorflow/cursorflow/internal/state"
)

var (
	logsFollow bool
	logsTail   int
	logsRaw    bool
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show")
	logsCmd.Flags().BoolVar(&logsRaw, "raw", false, "Show the raw PTY transcript instead of the ANSI-stripped one")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <runId> <lane>",
	Short: "Show a lane's agent transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		runID, laneName := args[0], args[1]
		runPath := filepath.Join(runs.RunsRoot(repoDir), runID)
		lanePath := state.LanePath(runPath, laneName)

		name := "terminal.log"
		if logsRaw {
			name = "terminal-raw.log"
		}
		logFile := filepath.Join(lanePath, name)
		if _, err := os.Stat(logFile); os.IsNotExist(err) {
			return fmt.Errorf("no log file found for lane %q (expected at %s)", laneName, logFile)
		}

		tailArgs := []string{"-n", fmt.Sprintf("%d", logsTail)}
		if logsFollow {
			tailArgs = append(tailArgs, "-f")
		}
		tailArgs = append(tailArgs, logFile)

		tailCmd := exec.Command("tail", tailArgs...)
		tailCmd.Stdout = os.Stdout
		tailCmd.Stderr = os.Stderr
		return tailCmd.Run()
	},
}
