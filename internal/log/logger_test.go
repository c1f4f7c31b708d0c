package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON || ParseFormat("console") != FormatConsole || ParseFormat("x") != FormatText {
		t.Fatal("unexpected format mapping")
	}
}

func TestComponentIsNotRepeated(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Output: &buf, Component: ComponentHTTP})
	logger.WithComponent(ComponentSession).Info("hello", FieldReceiptID, 3)

	line := buf.String()
	if strings.Count(line, `"component"`) != 1 {
		t.Fatalf("expected one component attribute, got %s", line)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec[FieldComponent] != ComponentSession {
		t.Fatalf("component = %v", rec[FieldComponent])
	}
}

func TestConsoleFormatWrites(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: FormatConsole, Output: &buf}).Warn("careful")
	if !strings.Contains(buf.String(), "careful") {
		t.Fatalf("console handler wrote %q", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Output: &buf})

	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "inside")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("missing request id: %s", buf.String())
	}

	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: FormatJSON, Output: &buf}))

	sl.LogDraftSaved(context.Background(), "HH-1", 9, 3, "bills")
	sl.LogStaleResponse(context.Background(), OpSave, NewFields().WithReceipt(5, "", 0))

	out := buf.String()
	for _, want := range []string{`"receipt_id":9`, `"household":"HH-1"`, `"operation":"save"`, "Dropped stale response"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
