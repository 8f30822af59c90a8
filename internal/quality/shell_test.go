package quality

import (
	"context"
	"runtime"
	"testing"
)

func TestShellQualityRunner_Run_PassAndFail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	r := &ShellQualityRunner{}
	results, err := r.Run(context.Background(), t.TempDir(), []Gate{
		{Name: "ok", Command: "exit 0"},
		{Name: "fail", Command: "echo boom 1>&2; exit 1"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Errorf("expected ok gate to pass")
	}
	if results[1].Passed {
		t.Errorf("expected fail gate to fail")
	}
	if results[1].ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", results[1].ExitCode)
	}
	if AllPassed(results) {
		t.Errorf("AllPassed should be false")
	}
	if FailureSummary(results) == "" {
		t.Errorf("expected non-empty failure summary")
	}
}

func TestAllPassed_Empty(t *testing.T) {
	if !AllPassed(nil) {
		t.Error("AllPassed(nil) should be true (vacuously)")
	}
}
