package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerConsoleLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Log(&MutationLog{
		RequestID:  "req-1",
		Kind:       "complete_order",
		DurationMs: 12,
		Success:    false,
		RolledBack: true,
		ErrorKind:  "NETWORK_FAILURE",
		Error:      "connection refused",
	})

	out := buf.String()
	if !strings.Contains(out, "FAILED req-1 complete_order 12ms [rolled back]") {
		t.Fatalf("unexpected console line: %q", out)
	}
	if !strings.Contains(out, "NETWORK_FAILURE: connection refused") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestLoggerJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutations.jsonl")
	l := NewLogger(nil)
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	l.Log(&MutationLog{RequestID: "req-2", Kind: "toggle_store", Success: true})
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec MutationLog
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.RequestID != "req-2" || !rec.Success || rec.Timestamp.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLoggerDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetEnabled(false)
	l.Log(&MutationLog{RequestID: "req-3"})
	if buf.Len() != 0 {
		t.Fatalf("disabled logger wrote %q", buf.String())
	}
}

func TestInitStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	InitStructured("json", "debug", &buf)
	defer InitStructured("text", "info", nil)

	Op().Debug("cache load", "key", "seller/orders/live")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
	if rec["key"] != "seller/orders/live" {
		t.Fatalf("unexpected record: %v", rec)
	}
}
