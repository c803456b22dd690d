package agent

// EventType names a structured event the agent subprocess can emit as a
// single-line JSON object on stdout (spec §4.3/§6).
type EventType string

const (
	EventDependencyRequest EventType = "dependency_request"
	EventTaskComplete      EventType = "task_complete"
	EventProgress          EventType = "progress"
)

// Event is a parsed structured event from the agent's stdout. Raw holds the
// original JSON for anything downstream needs beyond the typed fields.
type Event struct {
	Type EventType
	Raw  map[string]any

	// DependencyRequest fields, populated when Type == EventDependencyRequest.
	Reason   string
	Changes  []string
	Commands []string

	// TaskComplete fields, populated when Type == EventTaskComplete.
	Success bool
	Notes   string

	// Progress fields, populated when Type == EventProgress.
	Message string
}

// Chunk is a line of raw (unparsed) agent output, emitted for every line
// read from stdout whether or not it parsed as a structured Event.
type Chunk struct {
	Raw      []byte
	Stripped string
}

// Outcome is the terminal result of one Agent Runner invocation.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeBlockedOnDependency Outcome = "blocked-on-dependency"
	OutcomeTimeout             Outcome = "timeout"
	OutcomeCrashed             Outcome = "crashed"
	OutcomeCancelled           Outcome = "cancelled"

	// OutcomeInterventionRestart means the subprocess exited because
	// intervene.WriteMessage SIGTERMed a live agent, not because it
	// crashed. The Lane Executor should restart the current task with
	// InterventionMessage folded into the next prompt (spec §4.8).
	OutcomeInterventionRestart Outcome = "intervention-restart"
)

// Result is returned by Run once the agent subprocess has exited (or been
// forcibly terminated).
type Result struct {
	ExitCode          int
	DurationMs        int64
	Outcome           Outcome
	DependencyRequest *DependencyRequestPayload

	// InterventionMessage carries the message consumed off disk when
	// Outcome is OutcomeInterventionRestart.
	InterventionMessage string
}

// DependencyRequestPayload mirrors the dependency_request event payload,
// carried on Result so the Lane Executor can record it into LaneState.
type DependencyRequestPayload struct {
	Reason   string
	Changes  []string
	Commands []string
}
