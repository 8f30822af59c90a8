package orchestrator

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var phaseTokenSanitizer = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// phaseReviewPath computes the per-phase review file path:
// "<base>-phase-<phaseToken>-review.md" next to the plan file, where
// phaseToken is phase sanitized to [0-9A-Za-z._-].
func phaseReviewPath(planPath, phase string) string {
	dir := filepath.Dir(planPath)
	base := strings.TrimSuffix(filepath.Base(planPath), filepath.Ext(planPath))
	token := phaseTokenSanitizer.ReplaceAllString(phase, "-")
	return filepath.Join(dir, fmt.Sprintf("%s-phase-%s-review.md", base, token))
}

// withinDir reports whether candidate resolves to a path inside dir,
// rejecting any path that escapes it via "..". This is the containment
// check PlanReviewLoop applies to review paths read back from prior
// store runs before trusting them.
func withinDir(dir, candidate string) bool {
	rel, err := filepath.Rel(dir, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal: %w", err)
	}
	return string(b), nil
}
