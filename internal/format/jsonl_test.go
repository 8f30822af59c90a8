package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNDJSONWriter_WritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	if err := w.Write(LogRecord{RunID: "r1", Phase: "1", Role: "author", Event: "invoke"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(LogRecord{RunID: "r1", Phase: "1", Role: "author", Event: "result"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		var rec LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		if rec.RunID != "r1" {
			t.Errorf("expected run_id r1, got %q", rec.RunID)
		}
	}
}

func TestNDJSONWriter_DoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	if err := w.Write(LogRecord{Event: "invoke", Detail: "if a < b && b > c"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.Contains(buf.String(), "\\u003c") {
		t.Errorf("expected raw '<' not escaped, got:\n%s", buf.String())
	}
}

func TestNDJSONWriter_FillsZeroTime(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	if err := w.Write(LogRecord{Event: "invoke"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var rec LogRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Time.IsZero() {
		t.Errorf("expected Time to be filled in, got zero value")
	}
}
