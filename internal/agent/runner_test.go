package agent

import (
	"context"
	"testing"
	"time"
)

func TestRunCompletedOutcome(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Command:    "sh",
		Args:       []string{"-c", "echo hello; exit 0"},
		WorkingDir: t.TempDir(),
		Prompt:     "do something",
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %s", res.Outcome)
	}
}

func TestRunCrashedOutcome(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Command:    "sh",
		Args:       []string{"-c", "exit 3"},
		WorkingDir: t.TempDir(),
		Prompt:     "",
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCrashed {
		t.Fatalf("expected crashed outcome, got %s", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRunDependencyRequest(t *testing.T) {
	script := `echo '{"type":"dependency_request","reason":"need npm install","commands":["npm install"]}'; exit 1`
	res, err := Run(context.Background(), Options{
		Command:    "sh",
		Args:       []string{"-c", script},
		WorkingDir: t.TempDir(),
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeBlockedOnDependency {
		t.Fatalf("expected blocked-on-dependency outcome, got %s", res.Outcome)
	}
	if res.DependencyRequest == nil || res.DependencyRequest.Reason != "need npm install" {
		t.Fatalf("expected dependency request payload, got %+v", res.DependencyRequest)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res, err := Run(ctx, Options{
		Command:    "sh",
		Args:       []string{"-c", "sleep 5"},
		WorkingDir: t.TempDir(),
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %s", res.Outcome)
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mred\x1b[0m text"
	want := "red text"
	if got := StripANSI(in); got != want {
		t.Errorf("StripANSI(%q) = %q, want %q", in, got, want)
	}
}
