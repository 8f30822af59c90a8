package orchestrator

import "github.com/fivexhq/fivex/internal/protocol"

// verdictRoute is routeVerdict's outcome: either a next state to move to,
// or an escalation reason to surface through the escalation gate.
type verdictRoute struct {
	next           State
	escalate       bool
	escalateReason string
}

// routeVerdict is the single place a reviewer verdict turns into a state
// transition, shared by PhaseLoop and PlanReviewLoop (phase argument
// "-1" for the latter). human_required always escalates, even in auto
// mode — auto mode does not silently continue past a verdict that named
// a human-required item, it emits auto_escalation_abort instead.
func routeVerdict(v protocol.ReviewerVerdict, reviewIteration, maxReviewIterations int, onGateState State) verdictRoute {
	switch v.Readiness {
	case protocol.ReadinessReady:
		return verdictRoute{next: onGateState}
	}

	for _, item := range v.Items {
		if item.Action == protocol.ActionHumanRequired {
			return verdictRoute{escalate: true, escalateReason: "reviewer flagged a human-required item: " + item.Reason}
		}
	}

	actionable := v.ActionableItems()
	if len(actionable) == 0 {
		return verdictRoute{escalate: true, escalateReason: "reviewer verdict has no actionable items"}
	}

	if maxReviewIterations > 0 && reviewIteration >= maxReviewIterations {
		return verdictRoute{escalate: true, escalateReason: "review iteration limit exhausted"}
	}

	onlyAutoFix := true
	for _, item := range actionable {
		if item.Action != protocol.ActionAutoFix {
			onlyAutoFix = false
			break
		}
	}
	if onlyAutoFix {
		return verdictRoute{next: StateAutoFix}
	}

	return verdictRoute{escalate: true, escalateReason: "reviewer verdict contains items outside auto_fix/human_required"}
}
