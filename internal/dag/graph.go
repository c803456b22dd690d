// Package dag builds the task-level dependency graph (C5) from a Flow:
// validation, cycle detection, and the readiness predicate the scheduler
// polls. Cycle detection is lifted directly from the teacher's
// config.detectCycles (white/gray/black DFS), generalized from lane-level
// nodes to task-level nodes per spec §4.5.
package dag

import (
	"fmt"
	"sort"

	"github.com/cursorflow/cursorflow/internal/cerrors"
	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/state"
)

// NodeID identifies one task within a Flow.
type NodeID struct {
	Lane string
	Task string
}

func (n NodeID) String() string { return n.Lane + ":" + n.Task }

// Graph is the task-level dependency graph: Edges[n] lists the
// prerequisite nodes that must complete before n can run.
type Graph struct {
	Nodes map[NodeID]bool
	Edges map[NodeID][]NodeID
}

// Build resolves every task's dependsOn entries into graph edges.
// Unqualified "laneId" dependencies expand to (laneId, laneId.lastTask).
// A dependsOn entry referencing an earlier task in the same lane is
// accepted as a no-op (intra-lane order is already enforced by the Lane
// Executor); one referencing the same or a later task in the same lane is
// rejected as a cycle (spec §9 Open Question, §8 self-loop boundary case).
func Build(flow *config.Flow) (*Graph, error) {
	g := &Graph{Nodes: make(map[NodeID]bool), Edges: make(map[NodeID][]NodeID)}

	laneIndex := make(map[string]config.Lane, len(flow.Lanes))
	for _, l := range flow.Lanes {
		laneIndex[l.LaneName] = l
	}
	for _, l := range flow.Lanes {
		for _, t := range l.Tasks {
			g.Nodes[NodeID{l.LaneName, t.Name}] = true
		}
	}

	for _, l := range flow.Lanes {
		for taskIdx, t := range l.Tasks {
			node := NodeID{l.LaneName, t.Name}
			for _, dep := range t.DependsOn {
				depLane, depTask := config.SplitDependency(dep)
				laneObj, ok := laneIndex[depLane]
				if !ok {
					return nil, cerrors.New(cerrors.ConfigInvalid,
						fmt.Sprintf("%s: dependsOn references unknown lane %q", node, depLane))
				}
				resolvedTask := depTask
				if resolvedTask == "" {
					resolvedTask = laneObj.LastTaskName()
				}
				depNode := NodeID{depLane, resolvedTask}
				if !g.Nodes[depNode] {
					return nil, cerrors.New(cerrors.ConfigInvalid,
						fmt.Sprintf("%s: dependsOn references unknown task %q", node, depNode))
				}

				if depLane == l.LaneName {
					depIdx := laneObj.TaskIndex(resolvedTask)
					if depIdx >= taskIdx {
						return nil, cerrors.New(cerrors.GraphCycle,
							fmt.Sprintf("%s: same-lane dependsOn must reference an earlier task, not %q", node, resolvedTask))
					}
					// Earlier task in the same lane: already enforced by
					// sequential execution, no graph edge needed.
					continue
				}

				g.Edges[node] = append(g.Edges[node], depNode)
			}
		}
	}

	return g, nil
}

// sortedNodes returns every node in the graph in deterministic
// (lane, task) order, used for deterministic cycle reporting and fairness.
func (g *Graph) sortedNodes() []NodeID {
	nodes := make([]NodeID, 0, len(g.Nodes))
	for n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Lane != nodes[j].Lane {
			return nodes[i].Lane < nodes[j].Lane
		}
		return nodes[i].Task < nodes[j].Task
	})
	return nodes
}

// DetectCycle runs DFS-based cycle detection over the full graph, catching
// both direct and indirect cycles. Returns the cycle path (in order of
// discovery) or nil if the graph is acyclic.
func (g *Graph) DetectCycle() []NodeID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(g.Nodes))
	var path []NodeID
	var cycle []NodeID

	var visit func(n NodeID) bool
	visit = func(n NodeID) bool {
		color[n] = gray
		path = append(path, n)
		for _, dep := range g.Edges[n] {
			if color[dep] == gray {
				idx := 0
				for i, p := range path {
					if p == dep {
						idx = i
						break
					}
				}
				cycle = append(append([]NodeID{}, path[idx:]...), dep)
				return true
			}
			if color[dep] == white {
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for _, n := range g.sortedNodes() {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// Validate builds the graph and checks for cycles, returning a single
// CONFIG_INVALID/GRAPH_CYCLE error describing the first problem found.
func Validate(flow *config.Flow) (*Graph, error) {
	g, err := Build(flow)
	if err != nil {
		return nil, err
	}
	if cyc := g.DetectCycle(); cyc != nil {
		names := make([]string, len(cyc))
		for i, n := range cyc {
			names[i] = n.String()
		}
		return nil, cerrors.New(cerrors.GraphCycle, fmt.Sprintf("dependency cycle detected: %v", names))
	}
	return g, nil
}

// LaneDependsOn returns, for a lane, the set of external task nodes (in
// other lanes) any of its tasks depend on. Resume classification uses it
// to mark a lane unresolvable when one of these nodes' lanes can neither
// complete nor be resumed; launch readiness looks only at the starting
// task's own edges, not at this whole-lane set.
func (g *Graph) LaneDependsOn(laneName string) []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for n, deps := range g.Edges {
		if n.Lane != laneName {
			continue
		}
		for _, d := range deps {
			if d.Lane == laneName {
				continue
			}
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lane != out[j].Lane {
			return out[i].Lane < out[j].Lane
		}
		return out[i].Task < out[j].Task
	})
	return out
}

// TaskCompleted reports whether n's task has already completed, per spec
// §4.5's readiness predicate: n's lane has reached state.Completed, or its
// LaneState.CurrentTaskIndex has advanced past n's task. Unlike gating on
// whole-lane completion, this lets a dependent lane launch as soon as the
// specific task it depends on is done, even while the rest of that lane's
// predecessor is still running.
func TaskCompleted(runPath string, laneDefs map[string]config.Lane, n NodeID) bool {
	ls, err := state.Load(state.LanePath(runPath, n.Lane))
	if err != nil || ls == nil {
		return false
	}
	if ls.Status == state.Completed {
		return true
	}
	l, ok := laneDefs[n.Lane]
	if !ok {
		return false
	}
	idx := l.TaskIndex(n.Task)
	if idx < 0 {
		return false
	}
	return ls.CurrentTaskIndex > idx
}

// TaskBlocked reports whether n's task can never complete within this
// run: its lane reached a terminal Failed or Paused status without ever
// reaching n's task index. Used to fail a waiting dependent task fast
// instead of polling a dependency that will never advance.
func TaskBlocked(runPath string, laneDefs map[string]config.Lane, n NodeID) bool {
	ls, err := state.Load(state.LanePath(runPath, n.Lane))
	if err != nil || ls == nil {
		return false
	}
	if ls.Status != state.Failed && ls.Status != state.Paused {
		return false
	}
	l, ok := laneDefs[n.Lane]
	if !ok {
		return false
	}
	idx := l.TaskIndex(n.Task)
	if idx < 0 {
		return false
	}
	return ls.CurrentTaskIndex <= idx
}
