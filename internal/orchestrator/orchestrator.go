// Package orchestrator implements the two state machines that drive a
// fivex run: PhaseLoop (the `run` command, executing a plan phase by
// phase) and PlanReviewLoop (the `plan-review` command, iterating a
// reviewer against the plan document itself). Both route agent results
// through the shared routeVerdict logic and persist every transition
// through a Store, so either loop can be killed and resumed from the
// database alone.
package orchestrator

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fivexhq/fivex/internal/agent"
	"github.com/fivexhq/fivex/internal/gate"
	"github.com/fivexhq/fivex/internal/quality"
	"github.com/fivexhq/fivex/internal/store"
)

// State names the phase machine's nodes. PlanReviewLoop uses the subset
// REVIEW, AUTO_FIX, ESCALATE, APPROVED (its own terminal name), ABORTED.
type State string

const (
	StateExecute      State = "EXECUTE"
	StateQualityCheck State = "QUALITY_CHECK"
	StateQualityRetry State = "QUALITY_RETRY"
	StateReview       State = "REVIEW"
	StateAutoFix      State = "AUTO_FIX"
	StateEscalate     State = "ESCALATE"
	StatePhaseGate    State = "PHASE_GATE"
	StatePhaseComplete State = "PHASE_COMPLETE"
	StateApproved     State = "APPROVED"
	StateAborted      State = "ABORTED"
)

// planReviewPhaseTag is the synthetic phase identifier PlanReviewLoop
// uses when persisting rows through the same Store tables PhaseLoop uses,
// per the spec's "phase tag -1" convention.
const planReviewPhaseTag = "-1"

// Config bounds the loop's retry/iteration behavior and names the
// per-role model/timeout and quality gates to run.
type Config struct {
	MaxQualityRetries   int
	MaxReviewIterations int
	MaxAutoRetries      int
	QualityGates        []quality.Gate

	AuthorModel     string
	ReviewerModel   string
	AuthorTimeout   time.Duration
	ReviewerTimeout time.Duration
}

func (c Config) reviewerTimeout() time.Duration {
	if c.ReviewerTimeout > 0 {
		return c.ReviewerTimeout
	}
	return 120 * time.Second
}

// Options carries the per-run knobs that come from CLI flags rather than
// persistent config.
type Options struct {
	Auto        bool
	SkipQuality bool
	// StartPhase, when non-empty, skips every pending phase before it in
	// plan order; the named phase itself and everything after it still
	// runs. It has no effect on phases already approved.
	StartPhase string
	// AllowDirty permits starting a run against a worktree with uncommitted
	// changes. Without it, Run refuses to start when DirtyCheck reports a
	// dirty tree.
	AllowDirty bool
	Workdir    string
	ProjectRoot string
	Quiet       bool
	Gates       gate.Gates

	// DirtyCheck reports whether the working tree has uncommitted changes.
	// Nil disables the check regardless of AllowDirty (used by tests and by
	// callers with no git working tree, e.g. a detached worktree already
	// known clean). cmd/fivex wires this to worktree.IsDirty, a
	// `git diff-index --quiet HEAD` shell-out.
	DirtyCheck func() (bool, error)

	// ReviewsDir is where PlanReviewLoop writes its dated default review
	// file when no run has recorded a review path yet. Defaults to
	// "<ProjectRoot>/.5x/reviews".
	ReviewsDir string
}

func (o Options) reviewsDir() string {
	if o.ReviewsDir != "" {
		return o.ReviewsDir
	}
	return filepath.Join(o.ProjectRoot, ".5x", "reviews")
}

// Deps bundles the collaborators both loops consume. None of them are
// imported for their concrete types by calling code — only Store's
// concrete methods are used directly since Store has no interface
// abstraction in this codebase (a single SQLite-backed implementation).
type Deps struct {
	Store   *store.Store
	Adapter agent.Adapter
	Quality quality.Runner
}

// Summary is the terminal report handed back to the CLI.
type Summary struct {
	RunID          string
	FinalState     State
	TotalPhases    int
	PhasesComplete int
	Complete       bool

	// Escalations records every escalation event raised over the course of
	// the run, in the order they occurred, regardless of how each was
	// resolved.
	Escalations []gate.EscalationEvent
}

func logPath(projectRoot, runID string) string {
	return filepath.Join(projectRoot, ".5x", "logs", runID, "agent-"+uuid.NewString()+".ndjson")
}
