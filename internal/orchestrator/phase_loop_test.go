package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fivexhq/fivex/internal/agent"
	"github.com/fivexhq/fivex/internal/gate"
	"github.com/fivexhq/fivex/internal/protocol"
	"github.com/fivexhq/fivex/internal/quality"
	"github.com/fivexhq/fivex/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fivex.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

const onePhasePlan = `# Demo Plan

## Phase 1: Scaffold

Set up the module skeleton.
`

const twoPhasePlan = `# Demo Plan

## Phase 1: Scaffold

Set up the module skeleton.

## Phase 2: Wire up

Wire the pieces together.
`

const threePhasePlan = `# Demo Plan

## Phase 1: Scaffold

Set up the module skeleton.

## Phase 2: Wire up

Wire the pieces together.

## Phase 3: Polish

Finish up.
`

func okStatus(commit string) agent.InvokeStatus {
	return agent.InvokeStatus{
		Usage:  agent.Usage{Duration: time.Millisecond, SessionID: "sess-author"},
		Status: protocol.AuthorStatus{Result: protocol.ResultComplete, Commit: commit},
	}
}

func readyVerdict() agent.InvokeVerdict {
	return agent.InvokeVerdict{
		Usage:   agent.Usage{Duration: time.Millisecond, SessionID: "sess-reviewer"},
		Verdict: protocol.ReviewerVerdict{Readiness: protocol.ReadinessReady},
	}
}

func TestPhaseLoop_SinglePhaseHappyPath(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)

	deps := Deps{
		Store:   s,
		Adapter: &agent.Fixed{Statuses: []agent.InvokeStatus{okStatus("abc123")}, Verdicts: []agent.InvokeVerdict{readyVerdict()}},
		Quality: &quality.ShellQualityRunner{},
	}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Complete || summary.FinalState != StatePhaseComplete {
		t.Fatalf("expected complete run, got %+v", summary)
	}
	if summary.TotalPhases != 1 || summary.PhasesComplete != 1 {
		t.Fatalf("expected 1/1 phases, got %+v", summary)
	}

	approved, err := s.ApprovedPhases(context.Background(), planPath)
	if err != nil || len(approved) != 1 || approved[0] != "1" {
		t.Fatalf("expected phase 1 approved, got %v, err=%v", approved, err)
	}
}

func TestPhaseLoop_AutoFixCycle(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)

	needsFix := agent.InvokeVerdict{
		Usage: agent.Usage{SessionID: "sess-reviewer"},
		Verdict: protocol.ReviewerVerdict{
			Readiness: protocol.ReadinessReadyWithCorrections,
			Items:     []protocol.Item{{ID: "i1", Title: "typo", Action: protocol.ActionAutoFix, Reason: "fix the typo"}},
		},
	}

	deps := Deps{
		Store: s,
		Adapter: &agent.Fixed{
			Statuses: []agent.InvokeStatus{okStatus("commit1"), okStatus("commit2")},
			Verdicts: []agent.InvokeVerdict{needsFix, readyVerdict()},
		},
		Quality: &quality.ShellQualityRunner{},
	}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{MaxReviewIterations: 5}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Complete {
		t.Fatalf("expected eventual completion after auto-fix, got %+v", summary)
	}
}

func TestPhaseLoop_HumanRequiredEscalatesInAutoMode(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)

	humanRequired := agent.InvokeVerdict{
		Verdict: protocol.ReviewerVerdict{
			Readiness: protocol.ReadinessNotReady,
			Items:     []protocol.Item{{ID: "i1", Title: "design flaw", Action: protocol.ActionHumanRequired, Reason: "needs a human call"}},
		},
	}

	deps := Deps{
		Store:   s,
		Adapter: &agent.Fixed{Statuses: []agent.InvokeStatus{okStatus("commit1")}, Verdicts: []agent.InvokeVerdict{humanRequired}},
		Quality: &quality.ShellQualityRunner{},
	}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.FinalState != StateAborted {
		t.Fatalf("expected auto-mode abort on human_required verdict, got %+v", summary)
	}
}

func TestPhaseLoop_AutoRetryCeilingAborts(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)

	// Every author call reports failed, with no verdict ever reached.
	statuses := []agent.InvokeStatus{
		{Status: protocol.AuthorStatus{Result: protocol.ResultFailed, Reason: "boom 1"}},
		{Status: protocol.AuthorStatus{Result: protocol.ResultFailed, Reason: "boom 2"}},
		{Status: protocol.AuthorStatus{Result: protocol.ResultFailed, Reason: "boom 3"}},
	}

	deps := Deps{
		Store:   s,
		Adapter: &agent.Fixed{Statuses: statuses},
		Quality: &quality.ShellQualityRunner{},
	}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{MaxAutoRetries: 2}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.FinalState != StateAborted {
		t.Fatalf("expected abort once auto retry ceiling is exceeded, got %+v", summary)
	}
}

func TestPhaseLoop_ResumeAtQualityCheck(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, planPath, "run", string(StateExecute))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := s.UpsertAgentResult(ctx, store.AgentResult{
		RunID: runID, Phase: "1", Iteration: 1, Role: protocol.RoleAuthor,
		Template: "phase", ResultType: protocol.ResultTypeStatus,
		ResultJSON: `{"result":"complete","commit":"precommit"}`,
	}); err != nil {
		t.Fatalf("seed agent result: %v", err)
	}
	if err := s.UpdateRunState(ctx, runID, string(StateQualityCheck), "1"); err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}

	deps := Deps{
		Store:   s,
		Adapter: &agent.Fixed{Verdicts: []agent.InvokeVerdict{readyVerdict()}},
		Quality: &quality.ShellQualityRunner{},
	}
	opts := Options{Auto: true}
	loop := NewPhaseLoop(deps, Config{QualityGates: []quality.Gate{{Name: "noop", Command: "true"}}}, opts, planPath)

	summary, err := loop.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Complete {
		t.Fatalf("expected resume from QUALITY_CHECK to complete, got %+v", summary)
	}
}

func TestPhaseLoop_PlanRenumberingAborts(t *testing.T) {
	planPath := writePlan(t, twoPhasePlan)
	s := testStore(t)

	adapter := &renumberingAdapter{
		planPath: planPath,
		rewrite:  "# Demo Plan\n\n## Phase 9: Renumbered\n\nSomething else.\n",
		inner:    &agent.Fixed{Statuses: []agent.InvokeStatus{okStatus("commit1")}, Verdicts: []agent.InvokeVerdict{readyVerdict()}},
	}

	deps := Deps{Store: s, Adapter: adapter, Quality: &quality.ShellQualityRunner{}}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.FinalState != StateAborted {
		t.Fatalf("expected renumbering to abort the run, got %+v", summary)
	}
	if len(summary.Escalations) == 0 || !strings.Contains(summary.Escalations[0].Reason, "Plan phase IDs changed") {
		t.Fatalf("expected an escalation citing the phase-ID change, got %+v", summary.Escalations)
	}
}

// TestPhaseLoop_PendingPhaseRenumberingAborts covers renumbering a phase
// that was never approved: phase 1 completes and is approved normally,
// then phase 3 — still pending, untouched by any author call — is
// silently renamed out from under the loop. validateNoRenumbering must
// catch this even though the renamed phase was never in the approved set.
func TestPhaseLoop_PendingPhaseRenumberingAborts(t *testing.T) {
	planPath := writePlan(t, threePhasePlan)
	s := testStore(t)

	adapter := &renumberingAdapter{
		planPath: planPath,
		rewrite: "# Demo Plan\n\n## Phase 1: Scaffold\n\nSet up the module skeleton.\n\n" +
			"## Phase 2: Wire up\n\nWire the pieces together.\n\n## Phase 7: Polish\n\nFinish up.\n",
		inner: &agent.Fixed{Statuses: []agent.InvokeStatus{okStatus("commit1")}, Verdicts: []agent.InvokeVerdict{readyVerdict()}},
	}

	deps := Deps{Store: s, Adapter: adapter, Quality: &quality.ShellQualityRunner{}}
	opts := Options{Auto: true, SkipQuality: true}
	loop := NewPhaseLoop(deps, Config{}, opts, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.FinalState != StateAborted {
		t.Fatalf("expected renumbering of an unapproved phase to abort the run, got %+v", summary)
	}
	if len(summary.Escalations) == 0 || !strings.Contains(summary.Escalations[0].Reason, "Plan phase IDs changed") {
		t.Fatalf("expected an escalation citing the phase-ID change, got %+v", summary.Escalations)
	}
	approved, err := s.ApprovedPhases(context.Background(), planPath)
	if err != nil || len(approved) != 1 || approved[0] != "1" {
		t.Fatalf("expected only phase 1 approved before the abort, got %v, err=%v", approved, err)
	}
}

// renumberingAdapter rewrites the plan file out from under the loop the
// first time the author is invoked, simulating an author illegally
// renumbering a phase mid-run.
type renumberingAdapter struct {
	planPath string
	rewrite  string
	inner    *agent.Fixed
	done     bool
}

func (a *renumberingAdapter) InvokeForStatus(ctx context.Context, opts agent.InvokeOptions) (agent.InvokeStatus, error) {
	result, err := a.inner.InvokeForStatus(ctx, opts)
	if !a.done {
		a.done = true
		os.WriteFile(a.planPath, []byte(a.rewrite), 0o644) //nolint:errcheck
	}
	return result, err
}

func (a *renumberingAdapter) InvokeForVerdict(ctx context.Context, opts agent.InvokeOptions) (agent.InvokeVerdict, error) {
	return a.inner.InvokeForVerdict(ctx, opts)
}

func TestPhaseLoop_EmptyPlan(t *testing.T) {
	planPath := writePlan(t, "# Empty Plan\n")
	s := testStore(t)
	deps := Deps{Store: s, Adapter: &agent.Fixed{}, Quality: &quality.ShellQualityRunner{}}
	loop := NewPhaseLoop(deps, Config{}, Options{Auto: true}, planPath)

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.TotalPhases != 0 {
		t.Fatalf("expected empty-plan short circuit, got %+v", summary)
	}
}

func TestPhaseLoop_NonAutoResumeGateAbort(t *testing.T) {
	planPath := writePlan(t, onePhasePlan)
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, planPath, "run", string(StateExecute))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	_ = runID

	deps := Deps{Store: s, Adapter: &agent.Fixed{}, Quality: &quality.ShellQualityRunner{}}
	opts := Options{Auto: false, Gates: gate.Fixed{Resume: gate.ResumeAbort}}
	loop := NewPhaseLoop(deps, Config{}, opts, planPath)

	summary, err := loop.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete || summary.FinalState != StateAborted {
		t.Fatalf("expected resume-gate abort, got %+v", summary)
	}
}
