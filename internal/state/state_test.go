package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lanePath := LanePath(dir, "l1")

	s := &LaneState{
		LaneName:         "l1",
		TotalTasks:       3,
		CurrentTaskIndex: 1,
		Status:           Running,
	}
	if err := Save(lanePath, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(lanePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.LaneName != "l1" || got.CurrentTaskIndex != 1 {
		t.Fatalf("unexpected loaded state: %+v", got)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	got, err := Load(LanePath(dir, "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing lane, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state, got %+v", got)
	}
}

func TestLoadCorruptReportsError(t *testing.T) {
	dir := t.TempDir()
	lanePath := LanePath(dir, "l1")
	if err := os.MkdirAll(lanePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(statePath(lanePath), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(lanePath)
	if err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestAppendLogFlushesEachRecord(t *testing.T) {
	dir := t.TempDir()
	lanePath := LanePath(dir, "l1")

	if err := AppendLog(lanePath, NewLogRecord("progress", "hello", "")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := AppendLog(lanePath, NewLogRecord("progress", "world", "t1")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	data, err := os.ReadFile(logPath(lanePath))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), string(data))
	}
}

func TestListLanesSortedAndSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta", "alpha"} {
		if err := Save(LanePath(dir, name), &LaneState{LaneName: name}); err != nil {
			t.Fatal(err)
		}
	}
	// An empty directory with no state.json should be skipped.
	if err := os.MkdirAll(filepath.Join(dir, "lanes", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	lanes, err := ListLanes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(lanes) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(lanes))
	}
	if lanes[0].LaneName != "alpha" || lanes[1].LaneName != "zeta" {
		t.Fatalf("expected sorted order, got %v", []string{lanes[0].LaneName, lanes[1].LaneName})
	}
}

func TestIsProcessAlive(t *testing.T) {
	if IsProcessAlive(0) {
		t.Error("pid 0 should not be alive")
	}
	if IsProcessAlive(-1) {
		t.Error("negative pid should not be alive")
	}
	if !IsProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
}
