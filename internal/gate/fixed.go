package gate

import "context"

// Fixed is a scripted Gates implementation for tests: every method
// returns the configured constant decision without any I/O, the same
// role the teacher's tests give injected fakes in place of interactive
// prompts.
type Fixed struct {
	Phase      PhaseDecision
	Escalation EscalationResolution
	Resume     ResumeDecision
}

func (f Fixed) PhaseGate(ctx context.Context, summary PhaseSummary) (PhaseDecision, error) {
	return f.Phase, nil
}

func (f Fixed) EscalationGate(ctx context.Context, event EscalationEvent) (EscalationResolution, error) {
	return f.Escalation, nil
}

func (f Fixed) ResumeGate(ctx context.Context, query ResumeQuery) (ResumeDecision, error) {
	return f.Resume, nil
}
