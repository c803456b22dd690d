package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cursorflow/cursorflow/internal/cerrors"
	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/state"
)

// Exit codes for the `run` command, per spec §6.
const (
	ExitCompleted = 0
	ExitFailed    = 1
	ExitPaused    = 2
	ExitCancelled = 130
)

// Scheduler drives a Flow's lanes to completion: it validates the task
// graph, then launches Lane Executors as their dependencies are satisfied,
// honoring a concurrency cap and lexicographic fairness ordering (spec
// §4.5). It never holds a direct handle to an Executor; it only consumes
// the one-way event channel each Executor emits on (spec §9 REDESIGN note).
type Scheduler struct {
	Flow               *config.Flow
	Graph              *Graph
	RunID              string
	RunPath            string
	RepoDir            string
	NewExecutor        func(l config.Lane, events chan<- lane.Event) *lane.Executor
	MaxConcurrentLanes int
	Logger             *slog.Logger
}

// NewScheduler validates the Flow and builds its task graph, returning a
// ready-to-run Scheduler or a CONFIG_INVALID/GRAPH_CYCLE error.
func NewScheduler(flow *config.Flow, engineVersion string, runID, runPath, repoDir string, maxConcurrent int) (*Scheduler, error) {
	if errs := config.Validate(flow, engineVersion); len(errs) > 0 {
		return nil, cerrors.New(cerrors.ConfigInvalid, fmt.Sprintf("flow validation failed: %v", errs))
	}
	g, err := Validate(flow)
	if err != nil {
		return nil, err
	}
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentLanes
	}
	return &Scheduler{
		Flow:               flow,
		Graph:              g,
		RunID:              runID,
		RunPath:            runPath,
		RepoDir:            repoDir,
		MaxConcurrentLanes: maxConcurrent,
		Logger:             slog.Default(),
	}, nil
}

// laneResult is what the scheduler's per-lane goroutine reports back once
// the lane's Executor.Run call returns.
type laneResult struct {
	laneName string
	err      error
}

// Run launches every lane of the Flow to completion, respecting
// dependencies and the concurrency cap, and returns the aggregate exit
// code described in spec §4.5/§6.
func (s *Scheduler) Run(ctx context.Context) (int, error) {
	startTime := time.Now().UTC().Format(time.RFC3339Nano)
	if err := state.SaveRunState(s.RunPath, &state.RunState{
		RunID:     s.RunID,
		FlowName:  s.Flow.Meta.Name,
		StartTime: startTime,
		Status:    state.Running,
	}); err != nil {
		s.Logger.Warn("failed to write run-level state", "error", err)
	}

	launched := make(map[string]bool)
	paused := make(map[string]bool)
	failed := make(map[string]bool)

	results := make(chan laneResult)
	events := make(chan lane.Event, 64)

	var wg sync.WaitGroup
	running := 0
	cancelled := ctx.Err() != nil

	lanes := make(map[string]config.Lane, len(s.Flow.Lanes))
	for _, l := range s.Flow.Lanes {
		lanes[l.LaneName] = l
	}

	// launchReady starts every ready, not-yet-launched lane up to the
	// concurrency cap. Once ctx is cancelled it stops starting new lanes
	// (spec §5 cancellation: "stop launching new lanes") while letting
	// already-running lanes drain via their own ctx-aware shutdown.
	launchReady := func() {
		if ctx.Err() != nil {
			return
		}
		ready := s.readyLanes(lanes, launched)
		for _, name := range ready {
			if running >= s.MaxConcurrentLanes {
				break
			}
			launched[name] = true
			running++
			l := lanes[name]
			wg.Add(1)
			go func(l config.Lane) {
				defer wg.Done()
				ex := s.newExecutor(l, events)
				ex.DependenciesReady = s.dependenciesReady(lanes, l.LaneName)
				err := ex.Run(ctx, l, nil, false)
				results <- laneResult{laneName: l.LaneName, err: err}
			}(l)
		}
	}

	launchReady()

	// running only ever reaches 0 here when either every lane has been
	// launched, or no remaining lane can become ready (its dependency
	// failed or paused instead of completing) — both are legitimate
	// terminal conditions, not a hang. A task_completed event on a lane
	// still running re-checks readiness, since spec §4.5 gates a
	// dependent lane on a specific predecessor task, not the whole lane.
	for running > 0 {
		select {
		case res := <-results:
			running--
			ls, loadErr := state.Load(state.LanePath(s.RunPath, res.laneName))
			switch {
			case loadErr == nil && ls != nil && ls.Status == state.Completed:
				// readiness now reads LaneState directly via TaskCompleted
			case loadErr == nil && ls != nil && ls.Status == state.Paused:
				paused[res.laneName] = true
			default:
				failed[res.laneName] = true
			}
			if ctx.Err() != nil {
				cancelled = true
			}
			launchReady()

		case ev := <-events:
			s.logEvent(ev)
			if ev.Type == lane.EventTaskCompleted {
				launchReady()
			}
		}
	}

	wg.Wait()
	close(events)
	for ev := range events {
		s.logEvent(ev)
	}

	unresolved := len(launched) < len(lanes)

	finalStatus := state.Completed
	switch {
	case cancelled:
		finalStatus = state.Failed
	case len(failed) > 0 || unresolved:
		finalStatus = state.Failed
	case len(paused) > 0:
		finalStatus = state.Paused
	}
	if err := state.SaveRunState(s.RunPath, &state.RunState{
		RunID:     s.RunID,
		FlowName:  s.Flow.Meta.Name,
		StartTime: startTime,
		EndTime:   time.Now().UTC().Format(time.RFC3339Nano),
		Status:    finalStatus,
	}); err != nil {
		s.Logger.Warn("failed to write run-level state", "error", err)
	}

	switch {
	case cancelled:
		return ExitCancelled, nil
	case len(failed) > 0 || unresolved:
		return ExitFailed, nil
	case len(paused) > 0:
		return ExitPaused, nil
	default:
		return ExitCompleted, nil
	}
}

// readyLanes returns not-yet-launched lanes whose first task's external
// dependencies have each individually completed, in deterministic
// lexicographic order (spec §4.5 fairness & determinism). Only the
// starting task gates the launch — per spec §4.5, readiness is a
// per-task predicate, not a whole-lane one, so a lane with no
// dependency on its first task starts immediately even if a later task
// in the same lane depends on work still in flight elsewhere; that
// later task is awaited individually once the lane's Executor reaches
// it (see DependenciesReady).
func (s *Scheduler) readyLanes(lanes map[string]config.Lane, launched map[string]bool) []string {
	var ready []string
	for name, l := range lanes {
		if launched[name] {
			continue
		}
		if len(l.Tasks) == 0 || s.taskReady(lanes, name, l.Tasks[0]) {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

// taskReady reports whether laneName's task's own recorded dependency
// edges (not the whole lane's aggregate) are all completed.
func (s *Scheduler) taskReady(lanes map[string]config.Lane, laneName string, task config.Task) bool {
	node := NodeID{Lane: laneName, Task: task.Name}
	for _, d := range s.Graph.Edges[node] {
		if !TaskCompleted(s.RunPath, lanes, d) {
			return false
		}
	}
	return true
}

// dependenciesReady builds the per-lane DependenciesReady callback wired
// into each launched lane's Executor, letting it await a specific later
// task's dependency individually instead of at lane-launch time. It
// fails fast with a DEPENDENCY_UNRESOLVED error if a dependency's lane
// has already reached a terminal state it cannot advance from, rather
// than polling forever.
func (s *Scheduler) dependenciesReady(lanes map[string]config.Lane, laneName string) func(config.Task) (bool, error) {
	return func(task config.Task) (bool, error) {
		node := NodeID{Lane: laneName, Task: task.Name}
		for _, d := range s.Graph.Edges[node] {
			if TaskBlocked(s.RunPath, lanes, d) {
				return false, cerrors.New(cerrors.DependencyUnresolved,
					fmt.Sprintf("%s: dependency %s cannot complete in this run", node, d))
			}
			if !TaskCompleted(s.RunPath, lanes, d) {
				return false, nil
			}
		}
		return true, nil
	}
}

func (s *Scheduler) newExecutor(l config.Lane, events chan<- lane.Event) *lane.Executor {
	if s.NewExecutor != nil {
		ex := s.NewExecutor(l, events)
		if ex.RunID == "" {
			ex.RunID = s.RunID
		}
		if ex.RunPath == "" {
			ex.RunPath = s.RunPath
		}
		return ex
	}
	return &lane.Executor{
		RunID:   s.RunID,
		RunPath: s.RunPath,
		RepoDir: s.RepoDir,
		Events:  events,
		Logger:  s.Logger,
	}
}

func (s *Scheduler) logEvent(ev lane.Event) {
	switch ev.Type {
	case lane.EventLaneFailed:
		s.Logger.Error("lane failed", "lane", ev.Lane, "error", ev.Err)
	case lane.EventLanePaused:
		s.Logger.Warn("lane paused on dependency request", "lane", ev.Lane, "task", ev.Task)
	default:
		s.Logger.Debug("lane event", "type", ev.Type, "lane", ev.Lane, "task", ev.Task)
	}
}
