package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantError bool
	}{
		{name: "default", config: DefaultConfig()},
		{name: "debug", config: DebugConfig()},
		{name: "bad level", config: &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, wantError: true},
		{name: "bad format", config: &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, wantError: true},
		{name: "file without path", config: &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{
		Level:            InfoLevel,
		Format:           JSONFormat,
		Output:           StderrOutput,
		DisableTimestamp: true,
		Writer:           &buf,
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.WithComponent("importer").
		WithField("invoice_number", "INV001").
		WithError(errors.New("boom")).
		Info("Imported invoice")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "importer" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["invoice_number"] != "INV001" {
		t.Errorf("expected invoice_number field, got %v", entry["invoice_number"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Output: StderrOutput, Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be written")
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "import", Total: 4, Logger: NewNop()})
	tracker.Increment()
	tracker.Add(2)

	stats := tracker.GetStats()
	if stats.Current != 3 {
		t.Errorf("expected 3 processed, got %d", stats.Current)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}
	tracker.Complete()
}

func TestTimedOperation(t *testing.T) {
	want := errors.New("failed")
	if got := TimedOperation("op", NewNop(), func() error { return want }); got != want {
		t.Errorf("expected error to pass through, got %v", got)
	}
	if got := TimedOperation("op", NewNop(), func() error { return nil }); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
