package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesChosenFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("table imported", "rows", 2)
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("json output: %v (%s)", err, buf.String())
	}
	if record["msg"] != "table imported" || record["service"] != "csvsql" || record["rows"] != float64(2) {
		t.Fatalf("unexpected record %v", record)
	}

	buf.Reset()
	New(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}
	New(&buf, "debug", "TEXT").Debug("kept", "table", "people")
	if got := buf.String(); !strings.Contains(got, "msg=kept") || !strings.Contains(got, "table=people") {
		t.Fatalf("unexpected text output %q", got)
	}
}
