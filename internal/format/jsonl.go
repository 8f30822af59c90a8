package format

import (
	"encoding/json"
	"io"
	"time"
)

// LogRecord is one structured ndjson log line (run, phase, role, event).
// The agent adapters do not write LogRecords: ClaudeCLIAdapter copies the
// CLI's raw stdout into its per-invocation log file instead.
type LogRecord struct {
	Time    time.Time      `json:"time"`
	RunID   string         `json:"run_id"`
	Phase   string         `json:"phase"`
	Role    string         `json:"role"`
	Event   string         `json:"event"`
	Detail  string         `json:"detail,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NDJSONWriter appends LogRecord values to a writer, one JSON object per
// line. It never escapes HTML entities, since log content frequently
// contains code with `<`, `>`, and `&`.
type NDJSONWriter struct {
	enc *json.Encoder
}

// NewNDJSONWriter wraps w for ndjson record appends.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{enc: enc}
}

// Write appends one record as a single JSON line.
func (n *NDJSONWriter) Write(rec LogRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return n.enc.Encode(rec)
}
