package prompt

import (
	"strings"
	"testing"
)

func TestRenderPhase_IncludesGoalAndBudget(t *testing.T) {
	out, err := RenderPhase(PhaseData{Phase: "1", Title: "Scaffold", Goal: "set up the module", ContextBudget: "small"})
	if err != nil {
		t.Fatalf("RenderPhase: %v", err)
	}
	if !strings.Contains(out, "phase 1: Scaffold") {
		t.Errorf("expected phase/title in prompt, got: %s", out)
	}
	if !strings.Contains(out, "set up the module") {
		t.Errorf("expected goal in prompt, got: %s", out)
	}
	if !strings.Contains(out, "Context budget: small") {
		t.Errorf("expected context budget in prompt, got: %s", out)
	}
}

func TestRenderPhase_OmitsEmptyOptionalSections(t *testing.T) {
	out, err := RenderPhase(PhaseData{Phase: "1", Title: "Scaffold", Goal: "x"})
	if err != nil {
		t.Fatalf("RenderPhase: %v", err)
	}
	if strings.Contains(out, "Context budget:") {
		t.Errorf("expected no context budget line when empty, got: %s", out)
	}
	if strings.Contains(out, "prior phases") {
		t.Errorf("expected no prior-phases section when empty, got: %s", out)
	}
}

func TestRenderRetry_IncludesFeedbackAndAttempt(t *testing.T) {
	out, err := RenderRetry(RetryData{Phase: "2", Title: "Build", Goal: "x", Attempt: 2, MaxAttempts: 3, Feedback: "lint failed"})
	if err != nil {
		t.Fatalf("RenderRetry: %v", err)
	}
	if !strings.Contains(out, "attempt 2 of 3") {
		t.Errorf("expected attempt counter, got: %s", out)
	}
	if !strings.Contains(out, "lint failed") {
		t.Errorf("expected feedback, got: %s", out)
	}
}

func TestRenderAddendum_WithAndWithoutGuidance(t *testing.T) {
	out, err := RenderAddendum(AddendumData{Commit: "abc123", ReviewPath: "reviews/phase-2-review.md"})
	if err != nil {
		t.Fatalf("RenderAddendum: %v", err)
	}
	if strings.Contains(out, "Guidance:") {
		t.Errorf("expected no guidance section when empty, got: %s", out)
	}

	out, err = RenderAddendum(AddendumData{Commit: "abc123", ReviewPath: "reviews/phase-2-review.md", Guidance: "focus on error paths"})
	if err != nil {
		t.Fatalf("RenderAddendum: %v", err)
	}
	if !strings.Contains(out, "focus on error paths") {
		t.Errorf("expected guidance in prompt, got: %s", out)
	}
}

func TestRenderPlanReview_IncludesContentAndReviewPath(t *testing.T) {
	out, err := RenderPlanReview(PlanReviewData{Title: "plan.md", Content: "## Phase 1: Scaffold", ReviewPath: "reviews/plan-review.md"})
	if err != nil {
		t.Fatalf("RenderPlanReview: %v", err)
	}
	if !strings.Contains(out, "## Phase 1: Scaffold") {
		t.Errorf("expected plan content embedded, got: %s", out)
	}
	if !strings.Contains(out, "reviews/plan-review.md") {
		t.Errorf("expected review path referenced, got: %s", out)
	}
}
