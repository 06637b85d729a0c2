package relayq

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info("request enqueued", "operation", "save", "attempt", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "request enqueued" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
	if entry["operation"] != "save" {
		t.Errorf("Expected operation field, got %v", entry["operation"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("Expected attempt field, got %v", entry["attempt"])
	}
	if entry["level"] != "info" {
		t.Errorf("Expected info level, got %v", entry["level"])
	}
}

func TestZerologAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Debug("d")
	logger.Warn("w")
	logger.Error("e")

	out := buf.String()
	for _, level := range []string{"debug", "warn", "error"} {
		if !strings.Contains(out, `"level":"`+level+`"`) {
			t.Errorf("Expected a %s entry in %q", level, out)
		}
	}
}

func TestSimpleLoggerDoesNotPanic(t *testing.T) {
	logger := NewSimpleLogger()
	logger.Debug("msg", "k", "v")
	logger.Info("msg", "k")
	logger.Warn("msg")
	logger.Error("msg", "k", "v", "extra")
}
