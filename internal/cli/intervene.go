package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/intervene"
	"github.com/cursorflow/cursorflow/internal/runs"
	"github.com/cursorflow/cursorflow/internal/state"
)

func init() {
	interveneCmd.AddCommand(interveneMessageCmd, interveneTimeoutCmd)
	rootCmd.AddCommand(interveneCmd)
}

var interveneCmd = &cobra.Command{
	Use:   "intervene",
	Short: "Send an out-of-band message or timeout override to a running lane",
}

var interveneMessageCmd = &cobra.Command{
	Use:   "message <runId> <lane> <message...>",
	Short: "Deliver a message to a lane (spec §4.8)",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		runID, laneName := args[0], args[1]
		message := strings.Join(args[2:], " ")

		lanePath := state.LanePath(filepath.Join(runs.RunsRoot(repoDir), runID), laneName)
		ls, err := state.Load(lanePath)
		if err != nil {
			return err
		}
		if err := intervene.WriteMessage(lanePath, ls, message); err != nil {
			return err
		}
		fmt.Printf("Message delivered to lane %s.\n", laneName)
		return nil
	},
}

var interveneTimeoutCmd = &cobra.Command{
	Use:   "timeout <runId> <lane> <duration>",
	Short: "Override a lane's default task timeout (spec §4.8)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := repoDirFromCwd()
		if err != nil {
			return err
		}
		runID, laneName, durationArg := args[0], args[1], args[2]

		d, err := time.ParseDuration(durationArg)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", durationArg, err)
		}

		lanePath := state.LanePath(filepath.Join(runs.RunsRoot(repoDir), runID), laneName)
		if err := intervene.WriteTimeoutOverride(lanePath, d); err != nil {
			return err
		}
		fmt.Printf("Timeout override of %s queued for lane %s.\n", d, laneName)
		return nil
	},
}
