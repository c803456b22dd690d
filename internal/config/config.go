// Package config holds the declarative Flow/Lane/Task types the authoring
// tools emit as JSON, plus the optional run-level YAML settings file, and
// the structural validation the DAG Scheduler requires before a single lane
// is launched.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/cursorflow/cursorflow/internal/cerrors"
)

// DefaultTaskTimeout is applied to a Task with no explicit timeout.
const DefaultTaskTimeout = 10 * time.Minute

// DefaultMaxConcurrentLanes is the scheduler's concurrency cap when no
// settings file overrides it.
const DefaultMaxConcurrentLanes = 4

// DefaultBranchPrefix is used when a Lane doesn't set its own.
const DefaultBranchPrefix = "cursorflow/"

// Task is a single agent invocation within a Lane.
type Task struct {
	Name      string   `json:"name"`
	Model     string   `json:"model,omitempty"`
	Prompt    string   `json:"prompt"`
	DependsOn []string `json:"dependsOn,omitempty"`
	TimeoutMs int64    `json:"timeout,omitempty"`
}

// Timeout returns the task's configured timeout, or DefaultTaskTimeout.
func (t Task) Timeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return DefaultTaskTimeout
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Lane is a declarative sequence of tasks sharing one worktree and branch.
type Lane struct {
	LaneName     string `json:"laneName"`
	BranchPrefix string `json:"branchPrefix,omitempty"`
	Tasks        []Task `json:"tasks"`

	// SourceFile is the absolute path this lane was loaded from. Not
	// serialized back out; it's the tasksFile a LaneState records so resume
	// can re-derive the task list (spec §3 LaneState.tasksFile).
	SourceFile string `json:"-"`
}

// EffectiveBranchPrefix returns the Lane's branch prefix, falling back to
// the Flow-wide default.
func (l Lane) EffectiveBranchPrefix(flowDefault string) string {
	if l.BranchPrefix != "" {
		return l.BranchPrefix
	}
	if flowDefault != "" {
		return flowDefault
	}
	return DefaultBranchPrefix
}

// FlowMeta is the immutable-after-creation metadata record for a Flow.
type FlowMeta struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CreatedAt     string   `json:"createdAt"`
	BaseBranch    string   `json:"baseBranch"`
	Status        string   `json:"status"`
	Lanes         []string `json:"lanes"`
	BranchPrefix  string   `json:"branchPrefix,omitempty"`
	EngineVersion string   `json:"engineVersion,omitempty"`
}

// Flow is a fully loaded Flow directory: metadata plus every lane file.
type Flow struct {
	Dir   string
	Meta  FlowMeta
	Lanes []Lane
}

// Settings is the optional run-level configuration, authored as YAML
// (cursorflow.yaml), mirroring the teacher's line.yaml habit.
type Settings struct {
	MaxConcurrentLanes int      `yaml:"max_concurrent_lanes"`
	DefaultTimeout     Duration `yaml:"default_timeout"`
	BranchPrefix       string   `yaml:"branch_prefix"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LoadSettings reads the optional settings file, applying defaults for
// anything unset or absent.
func LoadSettings(path string) (Settings, error) {
	s := Settings{
		MaxConcurrentLanes: DefaultMaxConcurrentLanes,
		DefaultTimeout:     Duration(DefaultTaskTimeout),
		BranchPrefix:       DefaultBranchPrefix,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing settings: %w", err)
	}
	if s.MaxConcurrentLanes <= 0 {
		s.MaxConcurrentLanes = DefaultMaxConcurrentLanes
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = Duration(DefaultTaskTimeout)
	}
	if s.BranchPrefix == "" {
		s.BranchPrefix = DefaultBranchPrefix
	}
	return s, nil
}

var laneFileRe = regexp.MustCompile(`^\d+-.+\.json$`)

// LoadFlow reads flow.meta.json and every numbered lane file from dir.
func LoadFlow(dir string) (*Flow, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(absDir, "flow.meta.json")
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ConfigInvalid, "reading flow.meta.json", err)
	}
	var meta FlowMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, cerrors.Wrap(cerrors.ConfigInvalid, "parsing flow.meta.json", err)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ConfigInvalid, "reading flow directory", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !laneFileRe.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var lanes []Lane
	for _, name := range names {
		path := filepath.Join(absDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ConfigInvalid, "reading lane file "+name, err)
		}
		var lane Lane
		if err := json.Unmarshal(data, &lane); err != nil {
			return nil, cerrors.Wrap(cerrors.ConfigInvalid, "parsing lane file "+name, err)
		}
		lane.SourceFile = path
		lanes = append(lanes, lane)
	}

	return &Flow{Dir: absDir, Meta: meta, Lanes: lanes}, nil
}

// Validate checks structural correctness of a Flow: duplicate lane/task
// names, unknown dependsOn references, and engine version compatibility.
// Cycle detection lives in internal/dag, which needs the resolved task
// graph anyway.
func Validate(flow *Flow, engineVersion string) []error {
	var errs []error

	if len(flow.Lanes) == 0 {
		errs = append(errs, fmt.Errorf("flow %q has no lanes", flow.Meta.ID))
		return errs
	}

	if flow.Meta.EngineVersion != "" && engineVersion != "" {
		constraint, err := semver.NewConstraint(flow.Meta.EngineVersion)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid engineVersion constraint %q: %w", flow.Meta.EngineVersion, err))
		} else if v, err := semver.NewVersion(engineVersion); err == nil {
			if !constraint.Check(v) {
				errs = append(errs, fmt.Errorf("flow requires engine %s, running %s", flow.Meta.EngineVersion, engineVersion))
			}
		}
	}

	laneNames := make(map[string]bool)
	laneTasks := make(map[string]map[string]bool)
	for _, l := range flow.Lanes {
		if l.LaneName == "" {
			errs = append(errs, fmt.Errorf("lane with empty laneName in %s", l.SourceFile))
			continue
		}
		if laneNames[l.LaneName] {
			errs = append(errs, fmt.Errorf("duplicate lane name %q", l.LaneName))
		}
		laneNames[l.LaneName] = true

		if len(l.Tasks) == 0 {
			errs = append(errs, fmt.Errorf("lane %q has no tasks", l.LaneName))
		}

		names := make(map[string]bool)
		for _, t := range l.Tasks {
			if t.Name == "" {
				errs = append(errs, fmt.Errorf("lane %q: task with empty name", l.LaneName))
				continue
			}
			if names[t.Name] {
				errs = append(errs, fmt.Errorf("lane %q: duplicate task name %q", l.LaneName, t.Name))
			}
			names[t.Name] = true
			if t.Prompt == "" {
				errs = append(errs, fmt.Errorf("lane %q task %q: prompt is required", l.LaneName, t.Name))
			}
		}
		laneTasks[l.LaneName] = names
	}

	for _, l := range flow.Lanes {
		for _, t := range l.Tasks {
			for _, dep := range t.DependsOn {
				depLane, depTask := SplitDependency(dep)
				if !laneNames[depLane] {
					errs = append(errs, fmt.Errorf("lane %q task %q: dependsOn references unknown lane %q", l.LaneName, t.Name, depLane))
					continue
				}
				if depTask != "" && !laneTasks[depLane][depTask] {
					errs = append(errs, fmt.Errorf("lane %q task %q: dependsOn references unknown task %q in lane %q", l.LaneName, t.Name, depTask, depLane))
				}
			}
		}
	}

	return errs
}

// SplitDependency splits a dependsOn edge of the form "laneId" or
// "laneId:taskName" into its lane and (possibly empty) task components.
func SplitDependency(dep string) (lane, task string) {
	for i := 0; i < len(dep); i++ {
		if dep[i] == ':' {
			return dep[:i], dep[i+1:]
		}
	}
	return dep, ""
}

// LastTaskName returns the name of a lane's final task.
func (l Lane) LastTaskName() string {
	if len(l.Tasks) == 0 {
		return ""
	}
	return l.Tasks[len(l.Tasks)-1].Name
}

// TaskIndex returns the index of a task by name within the lane, or -1.
func (l Lane) TaskIndex(name string) int {
	for i, t := range l.Tasks {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// LaneByName looks up a lane in the flow.
func (f *Flow) LaneByName(name string) (Lane, bool) {
	for _, l := range f.Lanes {
		if l.LaneName == name {
			return l, true
		}
	}
	return Lane{}, false
}
