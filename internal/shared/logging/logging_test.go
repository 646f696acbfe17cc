package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "info")

	log.Info().Str("chunk", "1/3").Msg("chunk fetched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["chunk"] != "1/3" {
		t.Errorf("Expected chunk field, got %v", entry["chunk"])
	}
	if entry["message"] != "chunk fetched" {
		t.Errorf("Expected message field, got %v", entry["message"])
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "warn")

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %q", buf.String())
	}

	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("Expected warn to be written")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "verbose")

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("Expected one line, got %q", buf.String())
	}
}
