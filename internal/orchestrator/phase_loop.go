package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fivexhq/fivex/internal/agent"
	"github.com/fivexhq/fivex/internal/gate"
	"github.com/fivexhq/fivex/internal/planfile"
	"github.com/fivexhq/fivex/internal/prompt"
	"github.com/fivexhq/fivex/internal/protocol"
	"github.com/fivexhq/fivex/internal/quality"
	"github.com/fivexhq/fivex/internal/resume"
	"github.com/fivexhq/fivex/internal/store"
)

// PhaseLoop drives a plan phase by phase: author implements, quality
// gates run, a reviewer checks the result, and a human (or auto mode)
// gates advancing to the next phase.
type PhaseLoop struct {
	deps   Deps
	config Config
	opts   Options

	planPath string
}

// NewPhaseLoop constructs a PhaseLoop against the given plan.
func NewPhaseLoop(deps Deps, config Config, opts Options, planPath string) *PhaseLoop {
	if opts.Gates == nil {
		opts.Gates = &gate.StdioGates{In: os.Stdin, Out: os.Stdout}
	}
	return &PhaseLoop{deps: deps, config: config, opts: opts, planPath: planPath}
}

// phaseRun holds the mutable, per-run bookkeeping the state machine
// threads between handlers. It is reset at phase boundaries except where
// noted.
type phaseRun struct {
	runID string

	qualityAttempt int // reset to 0 on AUTO_FIX->QUALITY_CHECK and at phase start
	reviewIteration int // reset at phase start
	autoRetryCount  int // consecutive escalations within the current phase, auto mode only

	reviewerSessionID   string // cleared at phase boundary and on reviewer failure
	authorContinuation  string // consumed (cleared) after single use
	lastCommit          string
	lastEscalationEvent gate.EscalationEvent

	// preEscalateState is the state stateEscalate resumes into on
	// EscalationContinue and EscalationContinueSession, rather than always
	// restarting at EXECUTE; set by each escalateFrom call site.
	preEscalateState State
	// pendingGuidance carries resolution.Guidance from a resolved
	// escalation into the next author/reviewer prompt; consumed (cleared)
	// after a single use.
	pendingGuidance string

	// escalations accumulates every escalation event raised this run,
	// across phase boundaries, for reporting in Summary.
	escalations []gate.EscalationEvent
	// abortStatus overrides the run status FinishRun records on abort; set
	// when the abort traces to an unresolved adapter/quality failure rather
	// than a user or gate decision. Zero value defers to StatusAborted.
	abortStatus protocol.RunStatus
}

// Run executes the loop to completion (all pending phases approved),
// abort, or an unrecoverable error (schema mismatch or a programmer
// error propagating from a collaborator).
func (pl *PhaseLoop) Run(ctx context.Context) (Summary, error) {
	content, err := os.ReadFile(pl.planPath)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: read plan: %w", err)
	}
	plan, err := planfile.Parse(pl.planPath, string(content))
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: parse plan: %w", err)
	}
	if len(plan.Phases) == 0 {
		return Summary{TotalPhases: 0, PhasesComplete: 0, Complete: false}, nil
	}

	run, startState, err := pl.resolveRun(ctx, plan)
	if err != nil {
		return Summary{}, err
	}
	if run == nil {
		// resumeGate or escalation gate resolved to abort before any run
		// was selected to drive.
		return Summary{TotalPhases: len(plan.Phases), Complete: false, FinalState: StateAborted}, nil
	}

	if !pl.opts.AllowDirty && pl.opts.DirtyCheck != nil {
		dirty, derr := pl.opts.DirtyCheck()
		if derr != nil {
			return Summary{}, fmt.Errorf("orchestrator: dirty check: %w", derr)
		}
		if dirty {
			return Summary{}, fmt.Errorf("orchestrator: worktree has uncommitted changes; rerun with --allow-dirty")
		}
	}

	pr := &phaseRun{runID: run.ID}
	state := startState

	approved, err := pl.deps.Store.ApprovedPhases(ctx, pl.planPath)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: approved phases: %w", err)
	}
	approvedSet := toSet(approved)

	pending := applyStartPhase(pendingPhases(plan, approvedSet), pl.opts.StartPhase)
	for len(pending) > 0 {
		if ctx.Err() != nil {
			return pl.abortRun(ctx, run.ID, len(plan.Phases), len(approvedSet), pr), nil
		}

		phaseNum := pending[0]
		ph := plan.Phase(phaseNum)

		finalState, err := pl.runPhase(ctx, run.ID, *ph, state, pr)
		if err != nil {
			return Summary{}, err
		}
		if finalState == StateAborted {
			return pl.abortRun(ctx, run.ID, len(plan.Phases), len(approvedSet), pr), nil
		}

		approvedSet[phaseNum] = true
		*pr = phaseRun{runID: run.ID, escalations: pr.escalations} // reset per-phase bookkeeping
		state = StateExecute

		// Author may append phases to the plan during EXECUTE; re-parse.
		content, err = os.ReadFile(pl.planPath)
		if err != nil {
			return Summary{}, fmt.Errorf("orchestrator: reread plan: %w", err)
		}
		newPlan, err := planfile.Parse(pl.planPath, string(content))
		if err != nil {
			return Summary{}, fmt.Errorf("orchestrator: reparse plan: %w", err)
		}
		if rerr := validateNoRenumbering(plan, newPlan); rerr != nil {
			event := gate.EscalationEvent{RunID: run.ID, Phase: phaseNum, Reason: rerr.Error()}
			pr.escalations = append(pr.escalations, event)
			pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventEscalation, phaseNum, nil, rerr.Error()) //nolint:errcheck
			pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventRunAbort, phaseNum, nil, rerr.Error())    //nolint:errcheck
			pl.deps.Store.FinishRun(ctx, run.ID, protocol.StatusFailed)                                       //nolint:errcheck
			return Summary{
				RunID: run.ID, FinalState: StateAborted, TotalPhases: len(plan.Phases),
				PhasesComplete: len(approvedSet), Complete: false, Escalations: pr.escalations,
			}, nil
		}
		plan = newPlan
		pending = pendingPhases(plan, approvedSet)
	}

	pl.deps.Store.FinishRun(ctx, run.ID, protocol.StatusCompleted)                  //nolint:errcheck
	pl.deps.Store.AppendRunEvent(ctx, run.ID, protocol.EventRunComplete, "", nil, "") //nolint:errcheck

	return Summary{
		RunID:          run.ID,
		FinalState:     StatePhaseComplete,
		TotalPhases:    len(plan.Phases),
		PhasesComplete: len(approvedSet),
		Complete:       true,
		Escalations:    pr.escalations,
	}, nil
}

func (pl *PhaseLoop) abortRun(ctx context.Context, runID string, total, complete int, pr *phaseRun) Summary {
	status := pr.abortStatus
	if status == "" {
		status = protocol.StatusAborted
	}
	pl.deps.Store.FinishRun(ctx, runID, status)                                  //nolint:errcheck
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventRunAbort, "", nil, "") //nolint:errcheck
	return Summary{
		RunID: runID, FinalState: StateAborted, TotalPhases: total, PhasesComplete: complete,
		Complete: false, Escalations: pr.escalations,
	}
}

// resolveRun decides which run drives this invocation: a brand new one,
// or an existing active run either auto-resumed or resumed per the
// resume gate's decision. Returns a nil run (no error) when the gate
// resolves to abort before any run is selected.
func (pl *PhaseLoop) resolveRun(ctx context.Context, plan *planfile.Plan) (*store.Run, State, error) {
	active, err := pl.deps.Store.GetActiveRun(ctx, pl.planPath, "run")
	if err != nil {
		if err.Error() == store.ErrNoActiveRun.Error() {
			id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "run", string(StateExecute))
			if cerr != nil {
				return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
			}
			pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, "", nil, "") //nolint:errcheck
			run, gerr := pl.deps.Store.GetRun(ctx, id)
			return run, StateExecute, gerr
		}
		return nil, "", fmt.Errorf("orchestrator: get active run: %w", err)
	}

	state := State(resume.NormalizeState(active.CurrentState))

	if pl.opts.Auto {
		if resume.IsTerminalPersistedState(active.CurrentState) {
			pl.deps.Store.AppendRunEvent(ctx, active.ID, protocol.EventAutoStartFresh, active.CurrentPhase, nil, "") //nolint:errcheck
			id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "run", string(StateExecute))
			if cerr != nil {
				return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
			}
			pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, "", nil, "") //nolint:errcheck
			run, gerr := pl.deps.Store.GetRun(ctx, id)
			return run, StateExecute, gerr
		}
		return active, state, nil
	}

	decision, err := pl.opts.Gates.ResumeGate(ctx, gate.ResumeQuery{RunID: active.ID, Phase: active.CurrentPhase, State: string(state)})
	if err != nil {
		return nil, "", fmt.Errorf("orchestrator: resume gate: %w", err)
	}
	switch decision {
	case gate.ResumeContinue:
		return active, state, nil
	case gate.ResumeStartFresh:
		id, cerr := pl.deps.Store.CreateRun(ctx, pl.planPath, "run", string(StateExecute))
		if cerr != nil {
			return nil, "", fmt.Errorf("orchestrator: create run: %w", cerr)
		}
		pl.deps.Store.AppendRunEvent(ctx, id, protocol.EventRunStart, "", nil, "") //nolint:errcheck
		run, gerr := pl.deps.Store.GetRun(ctx, id)
		return run, StateExecute, gerr
	default:
		pl.deps.Store.FinishRun(ctx, active.ID, protocol.StatusAborted) //nolint:errcheck
		return nil, "", nil
	}
}

// runPhase drives one phase through the state machine from state to
// either PHASE_COMPLETE (success, returns that as final) or ABORTED.
func (pl *PhaseLoop) runPhase(ctx context.Context, runID string, ph planfile.Phase, state State, pr *phaseRun) (State, error) {
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventPhaseStart, ph.Number, nil, "") //nolint:errcheck

	for {
		if ctx.Err() != nil {
			return StateAborted, nil
		}

		pl.deps.Store.UpdateRunState(ctx, runID, string(state), ph.Number) //nolint:errcheck

		var next State
		var err error
		switch state {
		case StateExecute:
			next, err = pl.stateExecute(ctx, runID, ph, pr)
		case StateQualityCheck:
			next, err = pl.stateQualityCheck(ctx, runID, ph, pr)
		case StateQualityRetry:
			next, err = pl.stateQualityRetry(ctx, runID, ph, pr)
		case StateReview:
			next, err = pl.stateReview(ctx, runID, ph, pr)
		case StateAutoFix:
			next, err = pl.stateAutoFix(ctx, runID, ph, pr)
		case StateEscalate:
			next, err = pl.stateEscalate(ctx, runID, ph, pr)
		case StatePhaseGate:
			next, err = pl.statePhaseGate(ctx, runID, ph, pr)
		default:
			return StateAborted, fmt.Errorf("orchestrator: unknown state %q", state)
		}
		if err != nil {
			return StateAborted, err
		}

		if next == StatePhaseComplete {
			pl.deps.Store.MarkPhaseImplementationDone(ctx, pl.planPath, ph.Number)     //nolint:errcheck
			pl.deps.Store.SetPhaseReviewApproved(ctx, pl.planPath, ph.Number, true, "") //nolint:errcheck
			pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventPhaseComplete, ph.Number, nil, "") //nolint:errcheck
			return next, nil
		}
		if next == StateAborted {
			return next, nil
		}
		state = next
	}
}

func (pl *PhaseLoop) stateExecute(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID, ph.Number)
	if err != nil {
		return "", err
	}

	existing, err := pl.deps.Store.GetAgentResult(ctx, runID, ph.Number, iteration, protocol.RoleAuthor, "phase", protocol.ResultTypeStatus)
	var status protocol.AuthorStatus
	if err == nil {
		status, err = store.DecodeAuthorStatus(existing)
		if err != nil {
			return "", err
		}
	} else {
		text, rerr := prompt.RenderPhase(prompt.PhaseData{Phase: ph.Number, Title: ph.Title, Goal: ph.Body, Guidance: pr.pendingGuidance})
		if rerr != nil {
			return "", rerr
		}
		pr.pendingGuidance = ""
		opts := agent.InvokeOptions{
			Prompt:       text,
			Model:        pl.config.AuthorModel,
			Timeout:      pl.config.AuthorTimeout,
			Workdir:      pl.opts.Workdir,
			LogPath:      logPath(pl.opts.ProjectRoot, runID),
			Quiet:        pl.opts.Quiet,
			SessionID:    pr.authorContinuation,
			SessionTitle: fmt.Sprintf("Phase %s — author", ph.Number),
		}
		pr.authorContinuation = ""
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, ph.Number, &iteration, "author/phase") //nolint:errcheck

		result, ierr := pl.deps.Adapter.InvokeForStatus(ctx, opts)
		if ierr != nil {
			return pl.escalateFrom(ctx, runID, ph, pr, StateExecute, "author invocation failed: "+ierr.Error())
		}
		pr.authorContinuation = result.SessionID
		status = result.Status
		if verr := status.Assert(true); verr != nil {
			return pl.escalateFrom(ctx, runID, ph, pr, StateExecute, "author protocol violation: "+verr.Error())
		}
		if err := pl.persistAuthorStatus(ctx, runID, ph.Number, iteration, status, result); err != nil {
			return "", err
		}
	}

	switch status.Result {
	case protocol.ResultComplete:
		pr.lastCommit = status.Commit
		if pl.opts.SkipQuality || len(pl.config.QualityGates) == 0 {
			return StateReview, nil
		}
		return StateQualityCheck, nil
	case protocol.ResultNeedsHuman:
		return pl.escalateFrom(ctx, runID, ph, pr, StateExecute, "author needs human: "+status.Reason)
	default:
		return pl.escalateFrom(ctx, runID, ph, pr, StateExecute, "author failed: "+status.Reason)
	}
}

func (pl *PhaseLoop) persistAuthorStatus(ctx context.Context, runID, phase string, iteration int, status protocol.AuthorStatus, result agent.InvokeStatus) error {
	payload, err := marshalJSON(status)
	if err != nil {
		return err
	}
	_, err = pl.deps.Store.UpsertAgentResult(ctx, store.AgentResult{
		RunID: runID, Phase: phase, Iteration: iteration, Role: protocol.RoleAuthor,
		Template: "phase", ResultType: protocol.ResultTypeStatus, ResultJSON: payload,
		DurationMS: result.Duration.Milliseconds(), SessionID: result.SessionID,
		Model: pl.config.AuthorModel, TokensIn: intPtr(result.TokensIn), TokensOut: intPtr(result.TokensOut),
		CostUSD: result.CostUSD,
	})
	return err
}

func (pl *PhaseLoop) stateQualityCheck(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	attempt := pr.qualityAttempt + 1

	existing, err := pl.deps.Store.GetQualityResult(ctx, runID, ph.Number, attempt)
	var results []quality.Result
	var passed bool
	if err == nil {
		passed = existing.Passed
	} else {
		r, rerr := pl.deps.Quality.Run(ctx, pl.opts.Workdir, pl.config.QualityGates)
		if rerr != nil {
			return "", rerr
		}
		results = r
		passed = quality.AllPassed(results)
		if _, uerr := pl.deps.Store.UpsertQualityResult(ctx, store.QualityResult{
			RunID: runID, Phase: ph.Number, Attempt: attempt, Passed: passed, Results: quality.FailureSummary(results),
		}); uerr != nil {
			return "", uerr
		}
	}
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventQualityGate, ph.Number, &attempt, "") //nolint:errcheck
	pr.qualityAttempt = attempt

	if passed {
		return StateReview, nil
	}
	if pl.config.MaxQualityRetries > 0 && attempt >= pl.config.MaxQualityRetries {
		return pl.escalateFrom(ctx, runID, ph, pr, StateQualityRetry, "quality gates failed after "+strconv.Itoa(attempt)+" attempts")
	}
	return StateQualityRetry, nil
}

func (pl *PhaseLoop) stateQualityRetry(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID, ph.Number)
	if err != nil {
		return "", err
	}

	failed, ferr := pl.deps.Store.GetQualityResult(ctx, runID, ph.Number, pr.qualityAttempt)
	feedback := ""
	if ferr == nil {
		feedback = failed.Results
	}

	text, rerr := prompt.RenderRetry(prompt.RetryData{
		Phase: ph.Number, Title: ph.Title, Goal: ph.Body,
		Attempt: pr.qualityAttempt, MaxAttempts: pl.config.MaxQualityRetries, Feedback: feedback,
		Guidance: pr.pendingGuidance,
	})
	if rerr != nil {
		return "", rerr
	}
	pr.pendingGuidance = ""

	opts := agent.InvokeOptions{
		Prompt: text, Model: pl.config.AuthorModel, Timeout: pl.config.AuthorTimeout,
		Workdir: pl.opts.Workdir, LogPath: logPath(pl.opts.ProjectRoot, runID), Quiet: pl.opts.Quiet,
		SessionTitle: fmt.Sprintf("Phase %s — revision %d", ph.Number, pr.qualityAttempt),
	}
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, ph.Number, &iteration, "author/retry") //nolint:errcheck

	result, ierr := pl.deps.Adapter.InvokeForStatus(ctx, opts)
	if ierr != nil {
		return pl.escalateFrom(ctx, runID, ph, pr, StateQualityRetry, "author retry invocation failed: "+ierr.Error())
	}
	if verr := result.Status.Assert(true); verr != nil {
		return pl.escalateFrom(ctx, runID, ph, pr, StateQualityRetry, "author protocol violation: "+verr.Error())
	}
	if err := pl.persistAuthorStatus(ctx, runID, ph.Number, iteration, result.Status, result); err != nil {
		return "", err
	}

	switch result.Status.Result {
	case protocol.ResultComplete:
		pr.lastCommit = result.Status.Commit
		return StateQualityCheck, nil
	case protocol.ResultNeedsHuman:
		return pl.escalateFrom(ctx, runID, ph, pr, StateQualityRetry, "author needs human: "+result.Status.Reason)
	default:
		return pl.escalateFrom(ctx, runID, ph, pr, StateQualityRetry, "author failed: "+result.Status.Reason)
	}
}

func (pl *PhaseLoop) stateReview(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID, ph.Number)
	if err != nil {
		return "", err
	}
	pr.reviewIteration++

	existing, gerr := pl.deps.Store.GetAgentResult(ctx, runID, ph.Number, iteration, protocol.RoleReviewer, "phase", protocol.ResultTypeVerdict)
	var verdict protocol.ReviewerVerdict
	var sessionID string
	if gerr == nil {
		verdict, err = store.DecodeReviewerVerdict(existing)
		if err != nil {
			return "", err
		}
		sessionID = existing.SessionID
	} else {
		var text string
		var rerr error
		if pr.reviewerSessionID != "" {
			text, rerr = prompt.RenderAddendum(prompt.AddendumData{Commit: pr.lastCommit, ReviewPath: phaseReviewPath(pl.planPath, ph.Number), Guidance: pr.pendingGuidance})
		} else {
			text, rerr = prompt.RenderPhase(prompt.PhaseData{Phase: ph.Number, Title: ph.Title, Goal: ph.Body, Guidance: pr.pendingGuidance})
		}
		pr.pendingGuidance = ""
		if rerr != nil {
			return "", rerr
		}

		opts := agent.InvokeOptions{
			Prompt: text, Model: pl.config.ReviewerModel, Timeout: pl.config.reviewerTimeout(),
			Workdir: pl.opts.Workdir, LogPath: logPath(pl.opts.ProjectRoot, runID), Quiet: pl.opts.Quiet,
			SessionID:    pr.reviewerSessionID,
			SessionTitle: fmt.Sprintf("Phase %s — review %d", ph.Number, pr.reviewIteration),
		}
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, ph.Number, &iteration, "reviewer/phase") //nolint:errcheck

		result, ierr := pl.deps.Adapter.InvokeForVerdict(ctx, opts)
		if ierr != nil {
			pr.reviewerSessionID = ""
			return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "reviewer invocation failed: "+ierr.Error())
		}
		if verr := result.Verdict.Assert(); verr != nil {
			pr.reviewerSessionID = ""
			return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "reviewer protocol violation: "+verr.Error())
		}
		verdict = result.Verdict
		sessionID = result.SessionID
		pr.reviewerSessionID = sessionID

		payload, merr := marshalJSON(verdict)
		if merr != nil {
			return "", merr
		}
		if _, uerr := pl.deps.Store.UpsertAgentResult(ctx, store.AgentResult{
			RunID: runID, Phase: ph.Number, Iteration: iteration, Role: protocol.RoleReviewer,
			Template: "phase", ResultType: protocol.ResultTypeVerdict, ResultJSON: payload,
			DurationMS: result.Duration.Milliseconds(), SessionID: sessionID, Model: pl.config.ReviewerModel,
			TokensIn: intPtr(result.TokensIn), TokensOut: intPtr(result.TokensOut), CostUSD: result.CostUSD,
		}); uerr != nil {
			return "", uerr
		}
	}

	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventVerdict, ph.Number, &iteration, string(verdict.Readiness)) //nolint:errcheck
	pl.deps.Store.SetPhaseReviewOutcome(ctx, pl.planPath, ph.Number, string(verdict.Readiness))                      //nolint:errcheck

	route := routeVerdict(verdict, pr.reviewIteration, pl.config.MaxReviewIterations, StatePhaseGate)
	if route.escalate {
		return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, route.escalateReason)
	}
	return route.next, nil
}

func (pl *PhaseLoop) stateAutoFix(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	iteration, err := pl.nextIteration(ctx, runID, ph.Number)
	if err != nil {
		return "", err
	}

	text, rerr := prompt.RenderRetry(prompt.RetryData{
		Phase: ph.Number, Title: ph.Title, Goal: ph.Body,
		Attempt: pr.reviewIteration, MaxAttempts: pl.config.MaxReviewIterations,
		Feedback: "Reviewer requested fixes; see " + phaseReviewPath(pl.planPath, ph.Number),
		Guidance: pr.pendingGuidance,
	})
	if rerr != nil {
		return "", rerr
	}
	pr.pendingGuidance = ""

	opts := agent.InvokeOptions{
		Prompt: text, Model: pl.config.AuthorModel, Timeout: pl.config.AuthorTimeout,
		Workdir: pl.opts.Workdir, LogPath: logPath(pl.opts.ProjectRoot, runID), Quiet: pl.opts.Quiet,
		SessionID:    pr.authorContinuation,
		SessionTitle: fmt.Sprintf("Phase %s — revision %d", ph.Number, pr.reviewIteration),
	}
	pr.authorContinuation = ""
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAgentInvoke, ph.Number, &iteration, "author/auto_fix") //nolint:errcheck

	result, ierr := pl.deps.Adapter.InvokeForStatus(ctx, opts)
	if ierr != nil {
		return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "auto-fix invocation failed: "+ierr.Error())
	}
	pr.authorContinuation = result.SessionID
	if verr := result.Status.Assert(false); verr != nil {
		return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "author protocol violation: "+verr.Error())
	}
	if err := pl.persistAuthorStatus(ctx, runID, ph.Number, iteration, result.Status, result); err != nil {
		return "", err
	}

	switch result.Status.Result {
	case protocol.ResultComplete:
		pr.lastCommit = result.Status.Commit
		pr.qualityAttempt = 0
		if pl.opts.SkipQuality || len(pl.config.QualityGates) == 0 {
			return StateReview, nil
		}
		return StateQualityCheck, nil
	case protocol.ResultNeedsHuman:
		return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "author needs human: "+result.Status.Reason)
	default:
		return pl.escalateFrom(ctx, runID, ph, pr, StateAutoFix, "author failed: "+result.Status.Reason)
	}
}

// escalateFrom records the escalation event and transitions to ESCALATE;
// the actual gate consultation happens in stateEscalate so every
// escalation path (author, quality, reviewer) funnels through one place.
// retryState is where stateEscalate resumes on EscalationContinue or
// EscalationContinueSession: a review-originated escalation always names
// AUTO_FIX (a fresh reviewer pass without a new author attempt would just
// repeat the same verdict), everything else names the state it escalated
// from.
func (pl *PhaseLoop) escalateFrom(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun, retryState State, reason string) (State, error) {
	pr.preEscalateState = retryState
	pr.lastEscalationEvent = gate.EscalationEvent{
		RunID: runID, Phase: ph.Number, Reason: reason, SessionID: pr.authorContinuation,
	}
	pr.escalations = append(pr.escalations, pr.lastEscalationEvent)
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventEscalation, ph.Number, nil, reason) //nolint:errcheck
	return StateEscalate, nil
}

func (pl *PhaseLoop) stateEscalate(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	if pl.opts.Auto {
		pr.autoRetryCount++
		if pl.config.MaxAutoRetries > 0 && pr.autoRetryCount > pl.config.MaxAutoRetries {
			pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAutoEscalationAbort, ph.Number, nil, "auto retry ceiling exceeded") //nolint:errcheck
			pr.abortStatus = protocol.StatusFailed
			return StateAborted, nil
		}
		pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventAutoEscalationAbort, ph.Number, nil, pr.lastEscalationEvent.Reason) //nolint:errcheck
		pr.abortStatus = protocol.StatusFailed
		return StateAborted, nil
	}

	resolution, err := pl.opts.Gates.EscalationGate(ctx, pr.lastEscalationEvent)
	if err != nil {
		return "", fmt.Errorf("orchestrator: escalation gate: %w", err)
	}
	pl.deps.Store.AppendRunEvent(ctx, runID, protocol.EventHumanDecision, ph.Number, nil, string(resolution.Action)) //nolint:errcheck

	switch resolution.Action {
	case gate.EscalationContinue:
		pr.pendingGuidance = resolution.Guidance
		return pr.retryStateOrDefault(), nil
	case gate.EscalationContinueSession:
		pr.authorContinuation = pr.lastEscalationEvent.SessionID
		pr.pendingGuidance = resolution.Guidance
		return pr.retryStateOrDefault(), nil
	case gate.EscalationApprove:
		pl.deps.Store.SetPhaseReviewApproved(ctx, pl.planPath, ph.Number, true, "force-approved at escalation: "+resolution.Guidance) //nolint:errcheck
		return StatePhaseComplete, nil
	default:
		return StateAborted, nil
	}
}

// retryStateOrDefault returns the state stateEscalate resumes into,
// falling back to EXECUTE if no escalation has set preEscalateState yet.
func (pr *phaseRun) retryStateOrDefault() State {
	if pr.preEscalateState == "" {
		return StateExecute
	}
	return pr.preEscalateState
}

func (pl *PhaseLoop) statePhaseGate(ctx context.Context, runID string, ph planfile.Phase, pr *phaseRun) (State, error) {
	if pl.opts.Auto {
		return StatePhaseComplete, nil
	}
	decision, err := pl.opts.Gates.PhaseGate(ctx, gate.PhaseSummary{RunID: runID, Phase: ph.Number, Title: ph.Title, Commit: pr.lastCommit})
	if err != nil {
		return "", fmt.Errorf("orchestrator: phase gate: %w", err)
	}
	switch decision {
	case gate.PhaseContinue:
		return StatePhaseComplete, nil
	case gate.PhaseReview:
		return StateAborted, nil
	default:
		return StateAborted, nil
	}
}

func (pl *PhaseLoop) nextIteration(ctx context.Context, runID, phase string) (int, error) {
	max, err := pl.deps.Store.MaxIterationForPhase(ctx, runID, phase)
	if err != nil {
		return 0, err
	}
	return resume.NextIteration(max, false), nil
}

func pendingPhases(plan *planfile.Plan, approved map[string]bool) []string {
	var pending []string
	for _, num := range plan.PhaseNumbers() {
		if !approved[num] {
			pending = append(pending, num)
		}
	}
	return pending
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

// applyStartPhase drops pending phases that precede startPhase in plan
// order. startPhase itself (and everything after it) is kept. An empty
// startPhase, or one that isn't found among pending phases, is a no-op.
func applyStartPhase(pending []string, startPhase string) []string {
	if startPhase == "" {
		return pending
	}
	for i, num := range pending {
		if num == startPhase {
			return pending[i:]
		}
	}
	return pending
}

// validateNoRenumbering rejects any reparse of the plan that renumbers or
// removes a phase the loop already knew about, approved or not: a pending
// phase silently becoming a different ID would desynchronize it from the
// phase_progress rows already recorded against the old ID.
func validateNoRenumbering(oldPlan, newPlan *planfile.Plan) error {
	newSet := toSet(newPlan.PhaseNumbers())
	for _, num := range oldPlan.PhaseNumbers() {
		if !newSet[num] {
			return fmt.Errorf("orchestrator: Plan phase IDs changed: phase %q was renumbered or removed", num)
		}
	}
	return nil
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
