package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/dag"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <flow-dir>",
	Short: "Validate a flow's structure, task graph, and engine-version compatibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := loadAndValidateFlow(args[0])
		if err != nil {
			return err
		}
		if _, err := dag.Validate(flow); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return err
		}
		fmt.Printf("Flow %q is valid: %d lane(s).\n", flow.Meta.Name, len(flow.Lanes))
		return nil
	},
}
