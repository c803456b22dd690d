// Package cerrors defines the error taxonomy surfaced to callers of the
// engine: a fixed set of kinds attached to errors and read back with
// KindOf, independent of the wrapped error chain underneath.
package cerrors

import "errors"

// Kind names a category of engine failure.
type Kind string

const (
	ConfigInvalid        Kind = "CONFIG_INVALID"
	GraphCycle           Kind = "GRAPH_CYCLE"
	GitWorktreeExists    Kind = "GIT_WORKTREE_EXISTS"
	GitBranchConflict    Kind = "GIT_BRANCH_CONFLICT"
	AgentTimeout         Kind = "AGENT_TIMEOUT"
	AgentNoResponse      Kind = "AGENT_NO_RESPONSE"
	AgentCrashed         Kind = "AGENT_CRASHED"
	DependencyRequested  Kind = "DEPENDENCY_REQUESTED"
	DependencyUnresolved Kind = "DEPENDENCY_UNRESOLVED"
	PushRejected         Kind = "PUSH_REJECTED"
	PushNet              Kind = "PUSH_NET"
	PushAuth             Kind = "PUSH_AUTH"
	MergeConflict        Kind = "MERGE_CONFLICT"
	ZombieProcess        Kind = "ZOMBIE_PROCESS"
	StateCorrupt         Kind = "STATE_CORRUPT"
)

// Error pairs a Kind with a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates a kinded error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf walks the error chain looking for a *Error and returns its Kind,
// or "" if none is found.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
