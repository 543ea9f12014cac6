package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWritesJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	log := setup(&buf, false, "warn", "pretty")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log.Info().Msg("dropped")
	log.Warn().Str("test_id", "t1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["service"] != Service || entry["message"] != "kept" || entry["test_id"] != "t1" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("caller missing")
	}
}

func TestSetupPrettyOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := setup(&buf, true, "info", "pretty")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log.Info().Msg("hello")
	if json.Valid(buf.Bytes()) || !strings.Contains(buf.String(), "hello") {
		t.Errorf("want console output, got %q", buf.String())
	}
}

func TestSetupUnknownLevelFallsBackToInfo(t *testing.T) {
	setup(&bytes.Buffer{}, false, "verbose", "json")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", zerolog.GlobalLevel())
	}
}

func TestSetupInstallsContextFallback(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, false, "info", "json")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	zerolog.Ctx(context.Background()).Info().Msg("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("context logger did not reach the process logger: %q", buf.String())
	}
}
