// Package prompt renders the text sent to author and reviewer agents
// from text/template sources, adapted from the teacher's
// phasePrompts/retryPrompts maps in its phase-orchestration command.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// PhaseData is the substitution set for an initial author invocation.
type PhaseData struct {
	Phase         string
	Title         string
	Goal          string
	ContextBudget string
	PriorSummaries string
	// Guidance carries human direction recorded when an escalation was
	// resolved to continue; empty on a normal first invocation.
	Guidance string
}

// RetryData is the substitution set for an author retry after a quality
// or review failure.
type RetryData struct {
	Phase       string
	Title       string
	Goal        string
	Attempt     int
	MaxAttempts int
	Feedback    string
	// Guidance carries human direction recorded when an escalation was
	// resolved to continue; empty outside that path.
	Guidance string
}

// AddendumData is the substitution set for a short follow-up prompt
// continuing a prior session (reviewer same-phase continuation, or
// author escalation-resolved continuation).
type AddendumData struct {
	Commit     string
	ReviewPath string
	Guidance   string
}

// PlanReviewData is the substitution set for a plan-review reviewer
// invocation, which critiques the plan document itself rather than an
// implementation.
type PlanReviewData struct {
	Title      string
	Content    string
	ReviewPath string
}

const phaseTemplate = `Implement phase {{.Phase}}: {{.Title}}.

Goal: {{.Goal}}
{{- if .ContextBudget}}
Context budget: {{.ContextBudget}}
{{- end}}
{{- if .PriorSummaries}}

--- Context from prior phases ---
{{.PriorSummaries}}
{{- end}}
{{- if .Guidance}}

Guidance: {{.Guidance}}
{{- end}}

When finished, report your status as the structured result this session
expects: complete (with the commit hash), needs_human, or failed.`

const retryTemplate = `Phase {{.Phase}}: {{.Title}} needs another pass (attempt {{.Attempt}} of {{.MaxAttempts}}).

Goal: {{.Goal}}

Feedback from the prior attempt:
{{.Feedback}}
{{- if .Guidance}}

Guidance: {{.Guidance}}
{{- end}}

Address the feedback, then report your status as before.`

const addendumTemplate = `Follow-up on commit {{.Commit}} (review: {{.ReviewPath}}).
{{- if .Guidance}}

Guidance: {{.Guidance}}
{{- end}}`

const planReviewTemplate = `Review the plan document {{.Title}} for soundness: correct phase
ordering, no missing prerequisites, no scope gaps.

--- Plan ---
{{.Content}}
--- End plan ---

Write detailed feedback to {{.ReviewPath}}, then report your verdict as
the structured result this session expects.`

// RenderPhase builds the initial prompt for a phase's author invocation.
func RenderPhase(d PhaseData) (string, error) {
	return render("phase", phaseTemplate, d)
}

// RenderRetry builds a retry prompt after feedback (quality failure or
// review corrections).
func RenderRetry(d RetryData) (string, error) {
	return render("retry", retryTemplate, d)
}

// RenderAddendum builds the short continuation prompt used for both
// reviewer same-phase follow-ups and author escalation continuations.
func RenderAddendum(d AddendumData) (string, error) {
	return render("addendum", addendumTemplate, d)
}

// RenderPlanReview builds the reviewer prompt for a plan-review pass.
func RenderPlanReview(d PlanReviewData) (string, error) {
	return render("plan-review", planReviewTemplate, d)
}

func render(name, tmplStr string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("prompt: parse %s template: %w", name, err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
