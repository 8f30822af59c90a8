package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/user"
	"strings"
)

// StdioGates is the default headless implementation: it prompts over a
// bufio.Scanner on the given input and writes prompts to the given
// output. The OS username of the person resolving an escalation is shown
// in the prompt text; it is not stored or returned with the resolution.
type StdioGates struct {
	In  io.Reader
	Out io.Writer
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func (g *StdioGates) scanner() *bufio.Scanner {
	return bufio.NewScanner(g.In)
}

// readLine blocks for one line of input, returning early with an error if
// ctx is canceled first. Reading from stdin has no native cancellation
// point, so the read runs in a goroutine and the result races ctx.Done().
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	type result struct {
		line string
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		ok := scanner.Scan()
		ch <- result{line: scanner.Text(), ok: ok}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if !r.ok {
			return "", io.EOF
		}
		return strings.TrimSpace(r.line), nil
	}
}

func (g *StdioGates) PhaseGate(ctx context.Context, summary PhaseSummary) (PhaseDecision, error) {
	fmt.Fprintf(g.Out, "Phase %s (%s) complete at %s. [c]ontinue, [r]eview, [a]bort? ", summary.Phase, summary.Title, summary.Commit)
	line, err := readLine(ctx, g.scanner())
	if err != nil {
		return PhaseAbort, nil
	}
	switch strings.ToLower(line) {
	case "r", "review":
		return PhaseReview, nil
	case "a", "abort":
		return PhaseAbort, nil
	default:
		return PhaseContinue, nil
	}
}

func (g *StdioGates) EscalationGate(ctx context.Context, event EscalationEvent) (EscalationResolution, error) {
	fmt.Fprintf(g.Out, "Run %s phase %s escalated: %s\n", event.RunID, event.Phase, event.Reason)
	for _, item := range event.Items {
		fmt.Fprintf(g.Out, "  - %s\n", item)
	}
	action := "continue"
	if event.SessionID != "" {
		action = "continue_session"
	}
	fmt.Fprintf(g.Out, "[c]ontinue, [s]ession-continue, [ap]prove, a[b]ort? ")
	line, err := readLine(ctx, g.scanner())
	if err != nil {
		return EscalationResolution{Action: EscalationAbort}, nil
	}
	switch strings.ToLower(line) {
	case "s", "session", "continue_session":
		if event.SessionID == "" {
			return EscalationResolution{Action: EscalationContinue}, nil
		}
		action = "continue_session"
	case "ap", "approve":
		action = "approve"
	case "b", "abort":
		action = "abort"
	case "c", "continue":
		action = "continue"
	}
	fmt.Fprintf(g.Out, "Guidance (optional, as %s): ", currentUser())
	guidance, _ := readLine(ctx, g.scanner())
	return EscalationResolution{Action: EscalationAction(action), Guidance: guidance}, nil
}

func (g *StdioGates) ResumeGate(ctx context.Context, query ResumeQuery) (ResumeDecision, error) {
	fmt.Fprintf(g.Out, "Active run %s found at phase %s, state %s. [r]esume, [s]tart fresh, [a]bort? ", query.RunID, query.Phase, query.State)
	line, err := readLine(ctx, g.scanner())
	if err != nil {
		return ResumeAbort, nil
	}
	switch strings.ToLower(line) {
	case "s", "start-fresh", "fresh":
		return ResumeStartFresh, nil
	case "a", "abort":
		return ResumeAbort, nil
	default:
		return ResumeContinue, nil
	}
}
