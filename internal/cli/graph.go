package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cursorflow/cursorflow/internal/config"
)

func init() {
	rootCmd.AddCommand(graphCmd)
}

var graphCmd = &cobra.Command{
	Use:   "graph <flow-dir>",
	Short: "Visualize a flow's lane and task dependency graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := loadAndValidateFlow(args[0])
		if err != nil {
			return err
		}
		printFlowGraph(flow)
		return nil
	},
}

// graphNode is one task, keyed by "lane:task", with its direct dependents.
type graphNode struct {
	lane, task string
	downstream []string
}

// printFlowGraph renders every task's dependency tree, rooted at tasks
// with no dependsOn edges, in the teacher's own viz.go tree style.
func printFlowGraph(flow *config.Flow) {
	nodes := make(map[string]*graphNode)
	for _, l := range flow.Lanes {
		for _, t := range l.Tasks {
			key := l.LaneName + ":" + t.Name
			nodes[key] = &graphNode{lane: l.LaneName, task: t.Name}
		}
	}

	var roots []string
	for _, l := range flow.Lanes {
		for _, t := range l.Tasks {
			key := l.LaneName + ":" + t.Name
			if len(t.DependsOn) == 0 {
				roots = append(roots, key)
				continue
			}
			for _, dep := range t.DependsOn {
				depLane, depTask := config.SplitDependency(dep)
				depKey := depLane + ":" + depTask
				if depTask == "" {
					if l2, ok := flow.LaneByName(depLane); ok {
						depKey = depLane + ":" + l2.LastTaskName()
					}
				}
				if n, ok := nodes[depKey]; ok {
					n.downstream = append(n.downstream, key)
				}
			}
		}
	}

	for _, root := range roots {
		fmt.Printf("[%s]\n", root)
		printGraphBranch(nodes, root, "", true)
	}
}

func printGraphBranch(nodes map[string]*graphNode, key, prefix string, isLast bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, key)

	childPrefix := prefix
	if isLast {
		childPrefix += "    "
	} else {
		childPrefix += "│   "
	}

	n := nodes[key]
	for i, child := range n.downstream {
		printGraphBranch(nodes, child, childPrefix, i == len(n.downstream)-1)
	}
}
