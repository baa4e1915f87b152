package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewLogger(&Config{Level: level, Format: JSONFormat, Writer: buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("unexpected error creating logger: %v", err)
	}
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: *DefaultConfig()},
		{name: "bad level", config: Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, wantErr: true},
		{name: "bad format", config: Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, wantErr: true},
		{name: "file without path", config: Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, wantErr: true},
		{name: "writer overrides output", config: Config{Level: InfoLevel, Format: TextFormat, Writer: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWithFieldKeepsContext(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	l.WithComponent("ledger").WithField("reference", "QB-42").WithError(errors.New("boom")).Info("skipped")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["component"] != "ledger" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["reference"] != "QB-42" {
		t.Errorf("expected reference field, got %v", entry["reference"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Errorf("expected only the warning, got %v", lines)
	}
}

func TestProgressTracker(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	tracker := NewProgressTracker(ProgressConfig{Operation: "ledger", LogInterval: time.Hour, Logger: l})
	clock := time.Now()
	tracker.now = func() time.Time { return clock }

	tracker.Increment()
	tracker.Increment()
	if buf.Len() != 0 {
		t.Errorf("expected no progress output before interval, got %q", buf.String())
	}

	clock = clock.Add(2 * time.Hour)
	tracker.Increment()

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 progress line, got %d", len(lines))
	}
	if lines[0]["rows"] != float64(3) {
		t.Errorf("expected rows=3, got %v", lines[0]["rows"])
	}
	if tracker.Count() != 3 {
		t.Errorf("expected count 3, got %d", tracker.Count())
	}
}

func TestTimedPass(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	if err := TimedPass(l, "journal", "journal.csv", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := TimedPass(l, "balances", "ledger.csv", func() error { return errors.New("failed") })
	if err == nil || err.Error() != "failed" {
		t.Fatalf("expected the pass error to be returned, got %v", err)
	}

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 info-or-above lines, got %d", len(lines))
	}
	if lines[0]["pass"] != "journal" || lines[0]["msg"] != "Pass finished" || lines[0]["duration"] == nil {
		t.Errorf("unexpected success line: %v", lines[0])
	}
	if lines[1]["pass"] != "balances" || lines[1]["level"] != "error" || lines[1]["file_path"] != "ledger.csv" {
		t.Errorf("unexpected failure line: %v", lines[1])
	}
}
