package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cursorflow/cursorflow/internal/cerrors"
	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/dag"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/lane"
	"github.com/cursorflow/cursorflow/internal/state"
)

// ErrDeadlock is returned when no resumable lane can be started and none
// is running — spec §4.7's deadlock termination condition.
var ErrDeadlock = errors.New("resume: deadlock, no resumable lane can be started")

// Classify partitions a Run's lanes into the sets spec §4.7 describes.
// completedSet seeds the miniature scheduler's "session-completed" set.
func Classify(g *dag.Graph, lanes []*state.LaneState) (completedSet, resumable, unresolvable map[string]bool) {
	completedSet = map[string]bool{}
	resumable = map[string]bool{}
	unresolvable = map[string]bool{}

	for _, ls := range lanes {
		if ls.Status == state.Completed {
			completedSet[ls.LaneName] = true
		}
	}
	for _, ls := range lanes {
		if ls.Status == state.Completed {
			continue
		}
		zombie := ls.Status == state.Running && (ls.PID == 0 || !state.IsProcessAlive(ls.PID))
		pendingResumed := ls.Status == state.Pending && ls.CurrentTaskIndex > 0
		if ls.Status == state.Failed || ls.Status == state.Paused || zombie || pendingResumed {
			resumable[ls.LaneName] = true
		}
	}
	for name := range resumable {
		for _, d := range g.LaneDependsOn(name) {
			if !completedSet[d.Lane] && !resumable[d.Lane] {
				unresolvable[name] = true
			}
		}
	}
	for name := range unresolvable {
		delete(resumable, name)
	}
	return
}

// Engine is the Resume/Recovery Engine (C7): it classifies a Run's lanes
// and runs a miniature scheduler over the resumable subset, honoring the
// same dependency and concurrency rules as the primary DAG Scheduler.
type Engine struct {
	Flow    *config.Flow
	Graph   *dag.Graph
	Repo    *git.Repo
	RepoDir string
	RunID   string
	RunPath string

	Settings           config.Settings
	MaxConcurrentLanes int

	// NewExecutor lets callers override executor construction (tests,
	// or a caller wiring a real agent command); defaults to a plain
	// Executor built from the Engine's own fields.
	NewExecutor func(l config.Lane, resume *state.LaneState, events chan<- lane.Event) *lane.Executor

	Logger *slog.Logger
}

// NewEngine validates the Flow's task graph and returns a ready-to-resume
// Engine, or a CONFIG_INVALID/GRAPH_CYCLE error.
func NewEngine(flow *config.Flow, repo *git.Repo, repoDir, runID, runPath string, settings config.Settings) (*Engine, error) {
	g, err := dag.Validate(flow)
	if err != nil {
		return nil, err
	}
	max := settings.MaxConcurrentLanes
	if max <= 0 {
		max = config.DefaultMaxConcurrentLanes
	}
	return &Engine{
		Flow: flow, Graph: g, Repo: repo, RepoDir: repoDir, RunID: runID, RunPath: runPath,
		Settings: settings, MaxConcurrentLanes: max, Logger: slog.Default(),
	}, nil
}

type resumeResult struct {
	laneName string
	err      error
}

// Resume drives every resumable lane to a terminal state, starting each
// at its recorded currentTaskIndex (or 0 if restart is set), and returns
// the aggregate exit code from spec §6, or ErrDeadlock if no resumable
// lane is ever launchable.
func (e *Engine) Resume(ctx context.Context, restart bool) (int, error) {
	startTime := e.runStateStartTime()
	e.saveRunState(startTime, "", state.Running)

	existing, err := state.ListLanes(e.RunPath)
	if err != nil {
		return dag.ExitFailed, err
	}
	_, resumable, unresolvable := Classify(e.Graph, existing)
	if len(unresolvable) > 0 {
		e.logger().Warn("lanes unresolvable on resume", "count", len(unresolvable))
	}
	if len(resumable) == 0 {
		if len(unresolvable) > 0 {
			e.saveRunState(startTime, time.Now().UTC().Format(time.RFC3339Nano), state.Failed)
			return dag.ExitFailed, ErrDeadlock
		}
		e.saveRunState(startTime, time.Now().UTC().Format(time.RFC3339Nano), state.Completed)
		return dag.ExitCompleted, nil
	}

	byName := map[string]*state.LaneState{}
	for _, ls := range existing {
		byName[ls.LaneName] = ls
	}
	laneDefs := map[string]config.Lane{}
	for _, l := range e.Flow.Lanes {
		laneDefs[l.LaneName] = l
	}

	launched := map[string]bool{}
	failed := map[string]bool{}
	paused := map[string]bool{}

	results := make(chan resumeResult)
	events := make(chan lane.Event, 64)

	var wg sync.WaitGroup
	running := 0

	// launchReady gates each resumable lane on its own resume-starting
	// task's dependencies (per spec §4.5 — a per-task predicate, not a
	// whole-lane one), so it also re-checks on every task_completed event
	// from a lane still running, the same as the primary DAG Scheduler. A
	// later task's dependency is awaited individually by the lane's own
	// Executor via DependenciesReady, not at this launch gate.
	launchReady := func() {
		if ctx.Err() != nil {
			return
		}
		var ready []string
		for name := range resumable {
			if launched[name] {
				continue
			}
			l := laneDefs[name]
			startIdx := byName[name].CurrentTaskIndex
			if restart {
				startIdx = 0
			}
			if startIdx >= len(l.Tasks) || e.taskReady(laneDefs, name, l.Tasks[startIdx]) {
				ready = append(ready, name)
			}
		}
		sort.Strings(ready)
		for _, name := range ready {
			if running >= e.MaxConcurrentLanes {
				break
			}
			launched[name] = true
			running++
			l := laneDefs[name]
			rs := byName[name]
			wg.Add(1)
			go func(l config.Lane, rs *state.LaneState) {
				defer wg.Done()
				ex := e.newExecutor(l, rs, events)
				ex.DependenciesReady = e.dependenciesReady(laneDefs, l.LaneName)
				err := ex.Run(ctx, l, rs, restart)
				results <- resumeResult{laneName: l.LaneName, err: err}
			}(l, rs)
		}
	}

	launchReady()
	if running == 0 {
		e.saveRunState(startTime, time.Now().UTC().Format(time.RFC3339Nano), state.Failed)
		return dag.ExitFailed, ErrDeadlock
	}

	for running > 0 {
		select {
		case res := <-results:
			running--
			ls, loadErr := state.Load(state.LanePath(e.RunPath, res.laneName))
			switch {
			case loadErr == nil && ls != nil && ls.Status == state.Completed:
				// readiness now reads LaneState directly via dag.TaskCompleted
			case loadErr == nil && ls != nil && ls.Status == state.Paused:
				paused[res.laneName] = true
			default:
				failed[res.laneName] = true
			}
			launchReady()

		case ev := <-events:
			e.logEvent(ev)
			if ev.Type == lane.EventTaskCompleted {
				launchReady()
			}
		}
	}
	wg.Wait()
	close(events)
	for ev := range events {
		e.logEvent(ev)
	}

	unlaunched := 0
	for name := range resumable {
		if !launched[name] {
			unlaunched++
		}
	}

	finalStatus := state.Completed
	switch {
	case len(failed) > 0 || len(unresolvable) > 0 || unlaunched > 0:
		finalStatus = state.Failed
	case len(paused) > 0:
		finalStatus = state.Paused
	}
	e.saveRunState(startTime, time.Now().UTC().Format(time.RFC3339Nano), finalStatus)

	switch {
	case len(failed) > 0 || len(unresolvable) > 0 || unlaunched > 0:
		return dag.ExitFailed, nil
	case len(paused) > 0:
		return dag.ExitPaused, nil
	default:
		return dag.ExitCompleted, nil
	}
}

// runStateStartTime preserves the original run's startTime across a resume
// by reading the existing run-level state.json, falling back to now if the
// run has none yet (e.g. it predates this field).
func (e *Engine) runStateStartTime() string {
	if rs, err := state.LoadRunState(e.RunPath); err == nil && rs != nil && rs.StartTime != "" {
		return rs.StartTime
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (e *Engine) saveRunState(startTime, endTime string, status state.Status) {
	if err := state.SaveRunState(e.RunPath, &state.RunState{
		RunID:     e.RunID,
		FlowName:  e.Flow.Meta.Name,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    status,
	}); err != nil {
		e.logger().Warn("failed to write run-level state", "error", err)
	}
}

// taskReady reports whether a task's own recorded dependency edges (not
// the whole lane's aggregate) are all completed.
func (e *Engine) taskReady(laneDefs map[string]config.Lane, laneName string, task config.Task) bool {
	node := dag.NodeID{Lane: laneName, Task: task.Name}
	for _, d := range e.Graph.Edges[node] {
		if !dag.TaskCompleted(e.RunPath, laneDefs, d) {
			return false
		}
	}
	return true
}

// dependenciesReady builds the per-lane DependenciesReady callback wired
// into each launched lane's Executor. It fails fast with a
// DEPENDENCY_UNRESOLVED error if a dependency's lane has already reached
// a terminal state it cannot advance from, rather than polling forever.
func (e *Engine) dependenciesReady(laneDefs map[string]config.Lane, laneName string) func(config.Task) (bool, error) {
	return func(task config.Task) (bool, error) {
		node := dag.NodeID{Lane: laneName, Task: task.Name}
		for _, d := range e.Graph.Edges[node] {
			if dag.TaskBlocked(e.RunPath, laneDefs, d) {
				return false, cerrors.New(cerrors.DependencyUnresolved,
					fmt.Sprintf("%s: dependency %s cannot complete in this run", node, d))
			}
			if !dag.TaskCompleted(e.RunPath, laneDefs, d) {
				return false, nil
			}
		}
		return true, nil
	}
}

func (e *Engine) newExecutor(l config.Lane, resume *state.LaneState, events chan<- lane.Event) *lane.Executor {
	if e.NewExecutor != nil {
		ex := e.NewExecutor(l, resume, events)
		if ex.RunID == "" {
			ex.RunID = e.RunID
		}
		if ex.RunPath == "" {
			ex.RunPath = e.RunPath
		}
		return ex
	}
	return &lane.Executor{
		RunID: e.RunID, RunPath: e.RunPath, RepoDir: e.RepoDir, Repo: e.Repo,
		Flow: e.Flow, Settings: e.Settings, Events: events, Logger: e.Logger,
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) logEvent(ev lane.Event) {
	switch ev.Type {
	case lane.EventLaneFailed:
		e.logger().Error("lane failed on resume", "lane", ev.Lane, "error", ev.Err)
	case lane.EventLanePaused:
		e.logger().Warn("lane paused on resume", "lane", ev.Lane, "task", ev.Task)
	default:
		e.logger().Debug("lane event", "type", ev.Type, "lane", ev.Lane)
	}
}
