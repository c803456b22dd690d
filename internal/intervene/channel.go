// Package intervene implements the Intervention Channel (C8): out-of-band
// user messages and timeout overrides delivered to a running lane. The
// durable channel is the filesystem (spec §4.8 requires it survive
// restarts); this package adds a filesystem-watch primitive on top of the
// teacher's write-a-file-and-poll trigger mechanism, per the REDESIGN note
// in spec §9 ("retain the file ... but subscribe via a filesystem-watch
// primitive plus a periodic poll fallback, rather than relying on the
// agent to discover the file on its own schedule").
package intervene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cursorflow/cursorflow/internal/cerrors"
	"github.com/cursorflow/cursorflow/internal/state"
)

// pollFallback is how often the Watcher re-checks for the files even when
// fsnotify is healthy, in case an event was dropped (e.g. editors that
// write via rename-over, which some fsnotify backends miss on certain
// filesystems).
const pollFallback = 2 * time.Second

func interventionPath(lanePath string) string { return filepath.Join(lanePath, "intervention.txt") }
func timeoutPath(lanePath string) string      { return filepath.Join(lanePath, "timeout.txt") }

// WriteMessage delivers a free-form message to a lane. The message is
// written to interventionFile; if the lane's recorded pid is alive, the
// agent subprocess (not the lane executor) is sent SIGTERM so the Agent
// Runner notices the interruption and restarts the current task with the
// intervention prepended (spec §4.8). If the lane is not running, the
// message is simply queued on disk and consumed on next resume. Signals
// to a lane whose LaneState is already `completed` are rejected.
func WriteMessage(lanePath string, ls *state.LaneState, message string) error {
	if ls != nil && ls.Status == state.Completed {
		return cerrors.New(cerrors.ConfigInvalid, "cannot intervene on a completed lane")
	}
	if err := os.MkdirAll(lanePath, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(interventionPath(lanePath), []byte(message), 0o644); err != nil {
		return fmt.Errorf("writing intervention file: %w", err)
	}
	if ls == nil || ls.PID <= 0 {
		return nil
	}
	if !state.IsProcessAlive(ls.PID) {
		return nil
	}
	proc, err := os.FindProcess(ls.PID)
	if err != nil {
		return nil
	}
	return proc.Signal(syscall.SIGTERM)
}

// WriteTimeoutOverride updates the default timeout applied to subsequent
// task invocations on a lane (spec §4.8); it never affects the currently
// running task unless the caller separately requests cancellation.
func WriteTimeoutOverride(lanePath string, d time.Duration) error {
	if err := os.MkdirAll(lanePath, 0o755); err != nil {
		return err
	}
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	return os.WriteFile(timeoutPath(lanePath), []byte(ms), 0o644)
}

// ReadTimeoutOverride reads a pending timeout override, returning 0 if
// none is set.
func ReadTimeoutOverride(lanePath string) (time.Duration, error) {
	data, err := os.ReadFile(timeoutPath(lanePath))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing timeout override: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Event is emitted by a Watcher when one of the two intervention files
// changes.
type Event struct {
	Kind string // "intervention" or "timeout"
	Path string
}

// Watcher subscribes to a lane directory's intervention and timeout files,
// emitting an Event whenever either appears or changes. It combines an
// fsnotify watch with a poll fallback so a dropped filesystem event never
// silently strands a queued message (spec §9 REDESIGN note).
type Watcher struct {
	lanePath string
	events   chan Event
}

// NewWatcher creates a Watcher for a lane directory. Start must be called
// to begin emitting events.
func NewWatcher(lanePath string) *Watcher {
	return &Watcher{lanePath: lanePath, events: make(chan Event, 8)}
}

// Events returns the channel Event values are delivered on. Closed when
// the Watcher's context is cancelled.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start begins watching. It tolerates the lane directory not existing yet
// (the lane executor creates it before any task runs) by watching the
// parent and falling back entirely to polling if fsnotify setup fails —
// a watch primitive is an optimization, not a requirement, since the poll
// loop alone is sufficient to satisfy the durable-channel contract.
func (w *Watcher) Start(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := fsw.Add(w.lanePath); addErr != nil {
			_ = fsw.Add(filepath.Dir(w.lanePath))
		}
	}

	go func() {
		defer close(w.events)
		if fsw != nil {
			defer fsw.Close()
		}

		seenIntervention := fileSignature(interventionPath(w.lanePath))
		seenTimeout := fileSignature(timeoutPath(w.lanePath))

		ticker := time.NewTicker(pollFallback)
		defer ticker.Stop()

		check := func() {
			if sig := fileSignature(interventionPath(w.lanePath)); sig != "" && sig != seenIntervention {
				seenIntervention = sig
				w.emit(Event{Kind: "intervention", Path: interventionPath(w.lanePath)})
			}
			if sig := fileSignature(timeoutPath(w.lanePath)); sig != "" && sig != seenTimeout {
				seenTimeout = sig
				w.emit(Event{Kind: "timeout", Path: timeoutPath(w.lanePath)})
			}
		}

		var fsEvents <-chan fsnotify.Event
		if fsw != nil {
			fsEvents = fsw.Events
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			case _, ok := <-fsEvents:
				if !ok {
					fsEvents = nil
					continue
				}
				check()
			}
		}
	}()
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
	}
}

// fileSignature returns a cheap change-detection signature (mtime+size),
// or "" if the file does not exist.
func fileSignature(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", fi.ModTime().UnixNano(), fi.Size())
}

// ConsumeMessage reads and atomically marks an intervention file consumed
// by renaming it, mirroring the Agent Runner's own consumeIntervention
// (spec §4.3's "delete the file atomically (rename to .consumed.<ts>)").
// Exposed here so a caller outside the Agent Runner can inspect or clear a
// pending message without duplicating the rename logic.
func ConsumeMessage(lanePath string) (string, error) {
	path := interventionPath(lanePath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	consumed := filepath.Join(filepath.Dir(path), filepath.Base(path)+fmt.Sprintf(".consumed.%d", time.Now().UnixNano()))
	if err := os.Rename(path, consumed); err != nil {
		return "", fmt.Errorf("consuming intervention file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HasPendingMessage reports whether an intervention file is currently
// queued for a lane.
func HasPendingMessage(lanePath string) bool {
	_, err := os.Stat(interventionPath(lanePath))
	return err == nil
}
