package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fivexhq/fivex/internal/agent"
	"github.com/fivexhq/fivex/internal/gate"
	"github.com/fivexhq/fivex/internal/prompt"
	"github.com/fivexhq/fivex/internal/protocol"
	"github.com/fivexhq/fivex/internal/resume"
	"github.com/fivexhq/fivex/internal/store"
)

// PlanReviewLoop drives a reviewer against the plan document itself
// rather than an implementation: REVIEW, AUTO_FIX, ESCALATE, APPROVED,
// ABORTED, with no quality gate and no phase gate. It shares routeVerdict
// with PhaseLoop, passing planReviewPhaseTag wherever PhaseLoop would
// pass a phase number.
type PlanReviewLoop struct {
	deps   Deps
	config Config
	opts   Options

	planPath string
}

// NewPlanReviewLoop constructs a PlanReviewLoop against the given plan.
func NewPlanReviewLoop(deps Deps, config Config, opts Options, planPath string) *PlanReviewLoop {
	if opts.Gates == nil {
		opts.Gates = &gate.StdioGates{In: os.Stdin, Out: os.Stdout}
	}
	return &PlanReviewLoop{deps: deps, config: config, opts: opts, planPath: planPath}
}

// planReviewRun is the mutable bookkeeping threaded between this loop's
// state handlers, analogous to phaseRun but without quality or per-phase
// reset since the whole loop is a single "phase" (tag -1).
type planReviewRun struct {
	runID string

	reviewIteration     int
	reviewerSessionID   string
	lastEscalationEvent gate.EscalationEvent
	reviewPath          string

	// escalations accumulates every escalation event raised this run, for
	// reporting in Summary.
	escalations []gate.EscalationEvent
	// abortStatus overrides the run status FinishRun records on abort; set
	// when the abort traces to an unresolved adapter failure rather than a
	// user or gate decision. Zero value defers to StatusAborted.
	abortStatus protocol.RunStatus
}

// Run executes the plan-review loop to APPROVED, ABORTED, or an
// unrecoverable error.
func (pl *PlanReviewLoop) Run(ctx context.Context) (Summary, error) {
	content, err := os.ReadFile(pl.planPath)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: read plan: %w", err)
	}

	run, startState, err := pl.resolveRun(ctx)
	if err != nil {
		return Summary{}, err
	}
	if run == nil {
		return Summary{Complete: false, FinalState: StateAborted}, nil
	}

	reviewPath, err := pl.resolveReviewPath(run)
	if err != nil {
		pl.deps.Store.FinishRun(ctx, run.ID, protocol.StatusFailed) //nolint:errcheck
		return Summary{}, err
	}

	pr := &planReviewRun{runID: run.ID, reviewPath: reviewPath}
	state := startState

	for {
		if ctx.Err() != nil {
			pl.deps.Store.FinishRun(ctx, run.ID, protocol.StatusAborted)                    //nolint:errcheck
			pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventRunAbort, planReviewPhaseTag, nil, "") //nolint:errcheck
			return Summary{RunID: run.ID, FinalState: StateAborted, Complete: false, Escalations: pr.escalations}, nil
		}

		pl.deps.Store.UpdateRunState(ctx, run.ID, string(state), planReviewPhaseTag) //nolint:errcheck

		var next State
		var serr error
		switch state {
		case StateReview:
			next, serr = pl.stateReview(ctx, run.ID, string(content), pr)
		case StateAutoFix:
			next, serr = pl.stateAutoFix(ctx, run.ID, string(content), pr)
		case StateEscalate:
			next, serr = pl.stateEscalate(ctx, run.ID, pr)
		default:
			return Summary{}, fmt.Errorf("orchestrator: unknown plan-review state %q", state)
		}
		if serr != nil {
			return Summary{}, serr
		}

		if next == StateApproved {
			pl.deps.Store.FinishRun(ctx, run.ID, protocol.StatusCompleted)                       //nolint:errcheck
			pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventRunComplete, planReviewPhaseTag, nil, "") //nolint:errcheck
			return Summary{RunID: run.ID, FinalState: StateApproved, TotalPhases: 1, PhasesComplete: 1, Complete: true, Escalations: pr.escalations}, nil
		}
		if next == StateAborted {
			status := pr.abortStatus
			if status == "" {
				status = protocol.StatusAborted
			}
			pl.deps.Store.FinishRun(ctx, run.ID, status)                                        //nolint:errcheck
			pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventRunAbort, planReviewPhaseTag, nil, "") //nolint:errcheck
			return Summary{RunID: run.ID, FinalState: StateAborted, Complete: false, Escalations: pr.escalations}, nil
		}
		state = next
	}
}

func (pl *PlanReviewLoop) resolveRun(ctx context.Context) (*store.Run, State, error) {
	active, err := pl.deps.Store.GetActiveRun(ctx, pl.planPath, "plan-review")
	if err != nil {
		if err.Error() == store.ErrNoActiveRun.Error() {
			id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "plan-review", string(StateReview))
			if cerr != nil {
				return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
			}
			pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, planReviewPhaseTag, nil, "") //nolint:errcheck
			run, gerr := pl.deps.Store.GetRun(ctx, id)
			return run, StateReview, gerr
		}
		return nil, "", fmt.Errorf("orchestrator: get active run: %w", err)
	}

	state := State(resume.NormalizeState(active.CurrentState))

	if pl.opts.Auto {
		if resume.IsTerminalPersistedState(active.CurrentState) {
			pl.deps.Store.AppendRunEvent(ctx, active.ID, protocol.EventAutoStartFresh, planReviewPhaseTag, nil, "") //nolint:errcheck
			id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "plan-review", string(StateReview))
			if cerr != nil {
				return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
			}
			pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, planReviewPhaseTag, nil, "") //nolint:errcheck
			run, gerr := pl.deps.Store.GetRun(ctx, id)
			return run, StateReview, gerr
		}
		return active, state, nil
	}

	decision, err := pl.opts.Gates.ResumeGate(ctx, gate.ResumeQuery{RunID: active.ID, Phase: planReviewPhaseTag, State: string(state)})
	if err != nil {
		return nil, "", fmt.Errorf("orchestrator: resume gate: %w", err)
	}
	switch decision {
	case gate.ResumeContinue:
		return active, state, nil
	case gate.ResumeStartFresh:
		id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "plan-review", string(StateReview))
		if cerr != nil {
			return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
		}
		pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, planReviewPhaseTag, nil, "") //nolint:errcheck
		run, gerr := pl.deps.Store.GetRun(ctx, id)
		return run, StateReview, gerr
	default:
		pl.deps.Store.FinishRun(ctx, active.ID, protocol.StatusAborted) //nolint:errcheck
		return nil, "", nil
	}
}

// resolveReviewPath resolves the review file a run writes feedback to:
// the path already recorded on the run if any (validated against the
// configured reviews directory), otherwise a fresh dated default, which
// is then recorded on the run.
func (pl *PlanReviewLoop) resolveReviewPath(run *store.Run) (string, error) {
	reviewsDir := pl.opts.reviewsDir()
	if run.ReviewPath != "" {
		if !withinDir(reviewsDir, run.ReviewPath) {
			return "", fmt.Errorf("orchestrator: stored review path %q escapes reviews directory %q", run.ReviewPath, reviewsDir)
		}
		return run.ReviewPath, nil
	}

	name := fmt.Sprintf("%s-review-%s.md", filepath.Base(pl.planPath), time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(reviewsDir, name)
	if err := pl.deps.Store.SetReviewPath(context.Background(), run.ID, path); err != nil {
		return "", fmt.Errorf("orchestrator: record review path: %w", err)
	}
	return path, nil
}

func (pl *PlanReviewLoop) stateReview(ctx context.Context, runID, planContent string, pr *planReviewRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID)
	if err != nil {
		return "", err
	}
	pr.reviewIteration++

	existing, gerr := pl.deps.Store.GetAgentResult(ctx, runID, planReviewPhaseTag, iteration, protocol.RoleReviewer, "plan", protocol.ResultTypeVerdict)
	var verdict protocol.ReviewerVerdict
	if gerr == nil {
		verdict, err = store.DecodeReviewerVerdict(existing)
		if err != nil {
			return "", err
		}
		pr.reviewerSessionID = existing.SessionID
	} else {
		var text string
		var rerr error
		if pr.reviewerSessionID != "" {
			text, rerr = prompt.RenderAddendum(prompt.AddendumData{ReviewPath: pr.reviewPath})
		} else {
			text, rerr = prompt.RenderPlanReview(prompt.PlanReviewData{Title: filepath.Base(pl.planPath), Content: planContent, ReviewPath: pr.reviewPath})
		}
		if rerr != nil {
			return "", rerr
		}

		opts := agent.InvokeOptions{
			Prompt: text, Model: pl.config.ReviewerModel, Timeout: pl.config.reviewerTimeout(),
			Workdir: pl.opts.Workdir, LogPath: logPath(pl.opts.ProjectRoot, runID), Quiet: pl.opts.Quiet,
			SessionID:    pr.reviewerSessionID,
			SessionTitle: fmt.Sprintf("Plan review %d", pr.reviewIteration),
		}
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, planReviewPhaseTag, &iteration, "reviewer/plan") //nolint:errcheck

		result, ierr := pl.deps.Adapter.InvokeForVerdict(ctx, opts)
		if ierr != nil {
			pr.reviewerSessionID = ""
			return pl.escalateFrom(ctx, runID, pr, "reviewer invocation failed: "+ierr.Error())
		}
		if verr := result.Verdict.Assert(); verr != nil {
			pr.reviewerSessionID = ""
			return pl.escalateFrom(ctx, runID, pr, "reviewer protocol violation: "+verr.Error())
		}
		verdict = result.Verdict
		pr.reviewerSessionID = result.SessionID

		payload, merr := marshalJSON(verdict)
		if merr != nil {
			return "", merr
		}
		if _, uerr := pl.deps.Store.UpsertAgentResult(ctx, store.AgentResult{
			RunID: runID, Phase: planReviewPhaseTag, Iteration: iteration, Role: protocol.RoleReviewer,
			Template: "plan", ResultType: protocol.ResultTypeVerdict, ResultJSON: payload,
			DurationMS: result.Duration.Milliseconds(), SessionID: pr.reviewerSessionID, Model: pl.config.ReviewerModel,
			TokensIn: intPtr(result.TokensIn), TokensOut: intPtr(result.TokensOut), CostUSD: result.CostUSD,
		}); uerr != nil {
			return "", uerr
		}
	}

	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventVerdict, planReviewPhaseTag, &iteration, string(verdict.Readiness)) //nolint:errcheck

	route := routeVerdict(verdict, pr.reviewIteration, pl.config.MaxReviewIterations, StateApproved)
	if route.escalate {
		return pl.escalateFrom(ctx, runID, pr, route.escalateReason)
	}
	return route.next, nil
}

func (pl *PlanReviewLoop) stateAutoFix(ctx context.Context, runID, planContent string, pr *planReviewRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID)
	if err != nil {
		return "", err
	}

	text, rerr := prompt.RenderRetry(prompt.RetryData{
		Phase: planReviewPhaseTag, Title: filepath.Base(pl.planPath), Goal: planContent,
		Attempt: pr.reviewIteration, MaxAttempts: pl.config.MaxReviewIterations,
		Feedback: "Reviewer requested plan fixes; see " + pr.reviewPath,
	})
	if rerr != nil {
		return "", rerr
	}

	opts := agent.InvokeOptions{
		Prompt: text, Model: pl.config.AuthorModel, Timeout: pl.config.AuthorTimeout,
		Workdir: pl.opts.Workdir, LogPath: logPath(pl.opts.ProjectRoot, runID), Quiet: pl.opts.Quiet,
		SessionTitle: fmt.Sprintf("Plan revision %d", pr.reviewIteration),
	}
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, planReviewPhaseTag, &iteration, "author/plan_fix") //nolint:errcheck

	result, ierr := pl.deps.Adapter.InvokeForStatus(ctx, opts)
	if ierr != nil {
		return pl.escalateFrom(ctx, runID, pr, "plan-fix invocation failed: "+ierr.Error())
	}
	if verr := result.Status.Assert(false); verr != nil {
		return pl.escalateFrom(ctx, runID, pr, "author protocol violation: "+verr.Error())
	}

	payload, merr := marshalJSON(result.Status)
	if merr != nil {
		return "", merr
	}
	if _, uerr := pl.deps.Store.UpsertAgentResult(ctx, store.AgentResult{
		RunID: runID, Phase: planReviewPhaseTag, Iteration: iteration, Role: protocol.RoleAuthor,
		Template: "plan_fix", ResultType: protocol.ResultTypeStatus, ResultJSON: payload,
		DurationMS: result.Duration.Milliseconds(), SessionID: result.SessionID, Model: pl.config.AuthorModel,
		TokensIn: intPtr(result.TokensIn), TokensOut: intPtr(result.TokensOut), CostUSD: result.CostUSD,
	}); uerr != nil {
		return "", uerr
	}

	switch result.Status.Result {
	case protocol.ResultComplete:
		return StateReview, nil
	case protocol.ResultNeedsHuman:
		return pl.escalateFrom(ctx, runID, pr, "author needs human: "+result.Status.Reason)
	default:
		return pl.escalateFrom(ctx, runID, pr, "author failed: "+result.Status.Reason)
	}
}

func (pl *PlanReviewLoop) escalateFrom(ctx context.Context, runID string, pr *planReviewRun, reason string) (State, error) {
	pr.lastEscalationEvent = gate.EscalationEvent{RunID: runID, Phase: planReviewPhaseTag, Reason: reason}
	pr.escalations = append(pr.escalations, pr.lastEscalationEvent)
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventEscalation, planReviewPhaseTag, nil, reason) //nolint:errcheck
	return StateEscalate, nil
}

func (pl *PlanReviewLoop) stateEscalate(ctx context.Context, runID string, pr *planReviewRun) (State, error) {
	if pl.opts.Auto {
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAutoEscalationAbort, planReviewPhaseTag, nil, pr.lastEscalationEvent.Reason) //nolint:errcheck
		pr.abortStatus = protocol.StatusFailed
		return StateAborted, nil
	}

	resolution, err := pl.opts.Gates.EscalationGate(ctx, pr.lastEscalationEvent)
	if err != nil {
		return "", fmt.Errorf("orchestrator: escalation gate: %w", err)
	}
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventHumanDecision, planReviewPhaseTag, nil, string(resolution.Action)) //nolint:errcheck

	switch resolution.Action {
	case gate.EscalationContinue:
		return StateReview, nil
	case gate.EscalationContinueSession:
		pr.reviewerSessionID = ""
		return StateReview, nil
	case gate.EscalationApprove:
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventPhaseForceApproved, planReviewPhaseTag, nil, resolution.Guidance) //nolint:errcheck
		return StateApproved, nil
	default:
		return StateAborted, nil
	}
}

func (pl *PlanReviewLoop) nextIteration(ctx context.Context, runID string) (int, error) {
	max, err := pl.deps.Store.MaxIterationForPhase(ctx, runID, planReviewPhaseTag)
	if err != nil {
		return 0, err
	}
	return resume.NextIteration(max, false), nil
}
