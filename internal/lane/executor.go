package lane

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cursorflow/cursorflow/internal/agent"
	"github.com/cursorflow/cursorflow/internal/cerrors"
	"github.com/cursorflow/cursorflow/internal/config"
	"github.com/cursorflow/cursorflow/internal/git"
	"github.com/cursorflow/cursorflow/internal/intervene"
	"github.com/cursorflow/cursorflow/internal/state"
)

// Executor owns a single lane's LaneState from creation to a terminal
// status, generalizing the teacher's processConcern from a one-shot
// single-file check into a multi-task loop driven by the Agent Runner.
type Executor struct {
	RunID   string
	RunPath string
	RepoDir string
	Repo    *git.Repo

	Flow     *config.Flow
	Settings config.Settings

	AgentCommand string
	AgentArgs    []string

	// Events is the one-way notification channel to the DAG Scheduler
	// (spec §9 REDESIGN note). Nil is accepted for callers that don't
	// need progress events (e.g. a standalone single-lane run).
	Events chan<- Event

	// DependenciesReady reports whether a task's own cross-lane
	// dependencies (spec §4.5) are currently satisfied. The Scheduler/
	// Resume Engine supply it per lane, since only they hold the task
	// graph; a lane can be launched as soon as its first task is ready,
	// and later tasks in the same lane are awaited individually here
	// rather than gating the whole lane's launch on every task's deps.
	// A non-nil error means a dependency has reached a terminal state it
	// cannot advance from in this run (e.g. the predecessor lane failed),
	// so waiting further would hang forever; Nil means no cross-lane
	// gating is needed.
	DependenciesReady func(task config.Task) (ready bool, blocked error)

	Logger *slog.Logger

	timeoutMu       sync.Mutex
	timeoutOverride time.Duration
}

func (e *Executor) emit(ev Event) {
	if e.Events != nil {
		e.Events <- ev
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run drives one lane to a terminal state. When resume is non-nil the
// lane's existing LaneState and worktree are re-acquired and execution
// continues from resume.CurrentTaskIndex (or from 0 if restart is set);
// otherwise this is a cold start per spec §4.4.
func (e *Executor) Run(ctx context.Context, l config.Lane, resume *state.LaneState, restart bool) error {
	lanePath := state.LanePath(e.RunPath, l.LaneName)
	branchPrefix := l.EffectiveBranchPrefix(e.Settings.BranchPrefix)

	var ls *state.LaneState
	var handle *WorktreeHandle
	var startIndex int

	if resume != nil {
		ls = resume
		startIndex = ls.CurrentTaskIndex
		if restart {
			startIndex = 0
			ls.CurrentTaskIndex = 0
		}
		h, err := ReacquireWorktree(e.Repo, e.Flow.Meta.BaseBranch, ls.PipelineBranch, ls.WorktreeDir)
		if err != nil {
			return e.terminalFail(lanePath, ls, fmt.Errorf("reacquiring worktree: %w", err))
		}
		handle = h
		if ls.Status == state.Failed {
			ls.RetryCount++
		}
		ls.Status = state.Running
		ls.PID = 0
		if err := state.Save(lanePath, ls); err != nil {
			return err
		}
	} else {
		branch := BranchName(branchPrefix, l.LaneName, e.RunID)
		worktreeDir := WorktreeDir(e.RepoDir, e.RunID, l.LaneName)
		h, err := AcquireWorktree(e.Repo, e.Flow.Meta.BaseBranch, branch, worktreeDir)
		if err != nil {
			return err
		}
		handle = h
		ls = &state.LaneState{
			LaneName:         l.LaneName,
			TasksFile:        l.SourceFile,
			WorktreeDir:      worktreeDir,
			PipelineBranch:   branch,
			CurrentTaskIndex: 0,
			TotalTasks:       len(l.Tasks),
			Status:           state.Running,
			StartTime:        nowRFC3339(),
			DependsOn:        flattenDependsOn(l),
		}
		if err := state.Save(lanePath, ls); err != nil {
			return err
		}
	}

	e.emit(Event{Type: EventLaneStarted, Lane: l.LaneName})
	e.logger().Info("lane started", "lane", l.LaneName, "startIndex", startIndex, "totalTasks", ls.TotalTasks)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	e.watchIntervention(watchCtx, lanePath)

	var pendingIntervention string
	for idx := startIndex; idx < len(l.Tasks); idx++ {
		task := l.Tasks[idx]

		select {
		case <-ctx.Done():
			return e.cancelLane(lanePath, ls)
		default:
		}

		if err := e.awaitDependencies(ctx, task); err != nil {
			if ctx.Err() != nil {
				return e.cancelLane(lanePath, ls)
			}
			return e.terminalFail(lanePath, ls, err)
		}

		ls.Status = state.Running
		if err := state.Save(lanePath, ls); err != nil {
			return err
		}
		e.emit(Event{Type: EventTaskStarted, Lane: l.LaneName, Task: task.Name})

		res, err := e.runTask(ctx, lanePath, handle.Path(), ls, task, pendingIntervention)
		pendingIntervention = ""
		if err != nil {
			return e.terminalFail(lanePath, ls, err)
		}

		switch res.Outcome {
		case agent.OutcomeCompleted:
			if err := e.commitAndPush(handle, ls, task); err != nil {
				return e.terminalFail(lanePath, ls, err)
			}
			ls.CurrentTaskIndex = idx + 1
			ls.PID = 0
			if err := state.Save(lanePath, ls); err != nil {
				return err
			}
			e.emit(Event{Type: EventTaskCompleted, Lane: l.LaneName, Task: task.Name})

		case agent.OutcomeBlockedOnDependency:
			ls.Status = state.Paused
			ls.PID = 0
			ls.EndTime = nowRFC3339()
			ls.DependencyRequest = &state.DependencyRequest{
				ID:       uuid.NewString(),
				Reason:   res.DependencyRequest.Reason,
				Changes:  res.DependencyRequest.Changes,
				Commands: res.DependencyRequest.Commands,
			}
			if err := state.Save(lanePath, ls); err != nil {
				return err
			}
			e.emit(Event{Type: EventLanePaused, Lane: l.LaneName, Task: task.Name})
			return nil

		case agent.OutcomeCancelled:
			return e.cancelLane(lanePath, ls)

		case agent.OutcomeInterventionRestart:
			_ = state.AppendLog(lanePath, state.NewLogRecord("intervention", res.InterventionMessage, task.Name))
			e.logger().Info("lane task restarted after intervention", "lane", l.LaneName, "task", task.Name)
			pendingIntervention = res.InterventionMessage
			idx--

		default: // timeout, crashed
			kind := cerrors.AgentCrashed
			if res.Outcome == agent.OutcomeTimeout {
				kind = cerrors.AgentTimeout
			}
			return e.terminalFail(lanePath, ls, cerrors.New(kind,
				fmt.Sprintf("task %q ended with outcome %s (exit %d)", task.Name, res.Outcome, res.ExitCode)))
		}
	}

	// All tasks done: final push (idempotent — the last task already
	// pushed its commit) then mark completed, per spec §4.4 step 4.
	if err := e.Repo.Push(handle.Path(), ls.PipelineBranch, ""); err != nil {
		return e.terminalFail(lanePath, ls, err)
	}
	ls.Status = state.Completed
	ls.PID = 0
	ls.EndTime = nowRFC3339()
	if err := state.Save(lanePath, ls); err != nil {
		return err
	}
	e.emit(Event{Type: EventLaneCompleted, Lane: l.LaneName})
	e.logger().Info("lane completed", "lane", l.LaneName)
	return nil
}

// runTask invokes the Agent Runner for one task, wiring its streamed
// output into the conversation log and the plain transcript files per the
// filesystem contract in spec §6.
func (e *Executor) runTask(ctx context.Context, lanePath, workDir string, ls *state.LaneState, task config.Task, extraPrompt string) (agent.Result, error) {
	interventionFile := filepath.Join(lanePath, "intervention.txt")

	opts := agent.Options{
		Command:          e.AgentCommand,
		Args:             e.AgentArgs,
		WorkingDir:       workDir,
		Prompt:           task.Prompt,
		Model:            task.Model,
		Timeout:          e.effectiveTimeout(task),
		InterventionFile: interventionFile,
		ExtraPrompt:      extraPrompt,
		OnIntervention: func(msg string) {
			_ = state.AppendLog(lanePath, state.NewLogRecord("intervention", msg, task.Name))
		},
		OnStart: func(pid int) {
			ls.PID = pid
			_ = state.Save(lanePath, ls)
		},
		OnChunk: func(c agent.Chunk) {
			appendTranscript(lanePath, c)
		},
		OnStructured: func(ev agent.Event) {
			content := ev.Message
			if content == "" {
				content = string(ev.Type)
			}
			_ = state.AppendLog(lanePath, state.NewLogRecord(string(ev.Type), content, task.Name))
		},
		OnHeartbeat: func() {
			_ = state.AppendLog(lanePath, state.NewLogRecord("heartbeat", "", task.Name))
		},
		OnIdleEscalation: func(stage string) {
			_ = state.AppendLog(lanePath, state.NewLogRecord("idle_"+stage, "", task.Name))
			e.logger().Warn("agent idle", "lane", ls.LaneName, "task", task.Name, "stage", stage)
		},
	}
	return agent.Run(ctx, opts)
}

// commitAndPush commits the worktree's changes (if any) with a canonical
// message and pushes, per spec §4.4 step 3's commit/push ordering.
func (e *Executor) commitAndPush(h *WorktreeHandle, ls *state.LaneState, task config.Task) error {
	lanePath := state.LanePath(e.RunPath, ls.LaneName)
	changedFiles, err := e.Repo.ChangedFiles(h.Path())
	if err != nil {
		return fmt.Errorf("checking worktree status: %w", err)
	}
	if len(changedFiles) > 0 {
		if err := e.Repo.StageAll(h.Path()); err != nil {
			return fmt.Errorf("staging changes: %w", err)
		}
		if err := e.Repo.Commit(h.Path(), fmt.Sprintf("chore(lane): complete %s", task.Name)); err != nil {
			return fmt.Errorf("committing: %w", err)
		}
		e.logCommitSummary(lanePath, task, changedFiles, h.Path())
	}
	return e.Repo.Push(h.Path(), ls.PipelineBranch, "")
}

// logCommitSummary records which changed files made it into the commit,
// excluding any matching the worktree's .cursorflowignore patterns, as a
// conversation-log entry a reviewer can scan without opening the diff.
func (e *Executor) logCommitSummary(lanePath string, task config.Task, changedFiles []string, worktreeDir string) {
	gi := loadIgnore(worktreeDir)
	visible := filterIgnored(changedFiles, gi)
	if len(visible) == 0 {
		return
	}
	_ = state.AppendLog(lanePath, state.NewLogRecord("commit_summary", strings.Join(visible, ", "), task.Name))
}

func (e *Executor) cancelLane(lanePath string, ls *state.LaneState) error {
	ls.Status = state.Paused
	ls.PID = 0
	ls.EndTime = nowRFC3339()
	if err := state.Save(lanePath, ls); err != nil {
		return err
	}
	e.emit(Event{Type: EventLaneCancelled, Lane: ls.LaneName})
	return nil
}

func (e *Executor) terminalFail(lanePath string, ls *state.LaneState, cause error) error {
	ls.Status = state.Failed
	ls.PID = 0
	ls.Error = cause.Error()
	ls.EndTime = nowRFC3339()
	_ = state.Save(lanePath, ls)
	e.emit(Event{Type: EventLaneFailed, Lane: ls.LaneName, Err: cause})
	e.logger().Error("lane failed", "lane", ls.LaneName, "error", cause)
	return cause
}

// appendTranscript writes one streamed chunk to the lane's raw and
// stripped transcript files, per the filesystem contract in spec §6.
func appendTranscript(lanePath string, c agent.Chunk) {
	if err := os.MkdirAll(lanePath, 0o755); err != nil {
		return
	}
	appendLine(filepath.Join(lanePath, "terminal-raw.log"), string(c.Raw))
	appendLine(filepath.Join(lanePath, "terminal.log"), c.Stripped)
}

func appendLine(path, line string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line)
	f.WriteString("\n")
}

func flattenDependsOn(l config.Lane) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range l.Tasks {
		for _, d := range t.DependsOn {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// watchIntervention subscribes to the lane's intervention/timeout files
// for the lifetime of ctx (spec §4.8 / §9 REDESIGN note: a filesystem
// watch primitive plus poll fallback, not a bare agent-side poll). Only
// the timeout override is applied here; the intervention message itself
// is consumed by the Agent Runner at the start of each task per spec
// §4.3, since delivering it mid-turn requires the runner's own
// restart-with-concatenated-prompt logic.
func (e *Executor) watchIntervention(ctx context.Context, lanePath string) {
	w := intervene.NewWatcher(lanePath)
	w.Start(ctx)
	go func() {
		for ev := range w.Events() {
			if ev.Kind != "timeout" {
				continue
			}
			d, err := intervene.ReadTimeoutOverride(lanePath)
			if err != nil || d <= 0 {
				continue
			}
			e.timeoutMu.Lock()
			e.timeoutOverride = d
			e.timeoutMu.Unlock()
			e.logger().Info("timeout override applied", "lane", filepath.Base(lanePath), "timeout", d)
		}
	}()
}

// awaitDependencies blocks until task's DependenciesReady check passes,
// polling every 2s — the same cadence as the Intervention Channel's poll
// fallback — or until ctx is done or DependenciesReady reports a
// dependency permanently blocked. A task with no external dependencies
// (or a caller with no DependenciesReady callback) returns immediately.
func (e *Executor) awaitDependencies(ctx context.Context, task config.Task) error {
	if e.DependenciesReady == nil {
		return nil
	}
	if ready, blocked := e.DependenciesReady(task); blocked != nil {
		return blocked
	} else if ready {
		return nil
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ready, blocked := e.DependenciesReady(task)
			if blocked != nil {
				return blocked
			}
			if ready {
				return nil
			}
		}
	}
}

// effectiveTimeout returns the task's configured timeout (or, for a task
// without one, the settings file's default timeout) unless a later
// timeout override has been written for this lane (spec §4.8: "updates
// the default timeout applied to subsequent task invocations on that
// lane ... unless cancellation is also requested").
func (e *Executor) effectiveTimeout(task config.Task) time.Duration {
	e.timeoutMu.Lock()
	override := e.timeoutOverride
	e.timeoutMu.Unlock()
	if override > 0 {
		return override
	}
	if task.TimeoutMs <= 0 && e.Settings.DefaultTimeout > 0 {
		return e.Settings.DefaultTimeout.Duration()
	}
	return task.Timeout()
}
