// Package resume holds the small pieces of arithmetic and legacy-state
// mapping the orchestrator needs when deciding whether a found-active
// run continues, restarts, or falls through to a fresh one.
package resume

import "github.com/google/uuid"

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// legacyStateMap translates state names used by versions prior to the
// current state machine's naming. Deletable once no run persisted under
// an old binary is still expected to resume.
var legacyStateMap = map[string]string{
	"PARSE_AUTHOR_STATUS": "EXECUTE",
	"PARSE_VERDICT":       "REVIEW",
	"PARSE_FIX_STATUS":    "AUTO_FIX",
}

// NormalizeState maps a legacy persisted state name to its current
// equivalent, returning the input unchanged if it is not a legacy name.
func NormalizeState(state string) string {
	if mapped, ok := legacyStateMap[state]; ok {
		return mapped
	}
	return state
}

// IsLegacyState reports whether state is one of the old names
// NormalizeState knows how to translate.
func IsLegacyState(state string) bool {
	_, ok := legacyStateMap[state]
	return ok
}

// NextIteration computes the iteration number for the next agent
// invocation of a phase. Resuming from a legacy state takes the DB's
// max iteration directly (the legacy row already reflects the
// in-flight attempt); otherwise the next invocation is max+1.
func NextIteration(maxIteration int, fromLegacyState bool) int {
	if fromLegacyState {
		if maxIteration == 0 {
			return 1
		}
		return maxIteration
	}
	return maxIteration + 1
}

// IsTerminalPersistedState reports whether state is one the orchestrator
// treats as "this run is done, don't auto-resume into it" — ESCALATE and
// ABORTED. Auto mode starting fresh against a run in one of these states
// still emits auto_start_fresh against the old run rather than silently
// ignoring it.
func IsTerminalPersistedState(state string) bool {
	return state == "ESCALATE" || state == "ABORTED"
}
