package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil || level != LevelDebug {
		t.Errorf("ParseLevel(debug) = %v, %v", level, err)
	}

	level, err = ParseLevel("")
	if err != nil || level != LevelInfo {
		t.Errorf("ParseLevel(\"\") = %v, %v", level, err)
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Info("test-subsystem", "test message %d", 42)

	output := buf.String()
	if !strings.Contains(output, "test message 42") {
		t.Errorf("Expected log message in CLI output, got %q", output)
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestInitForJSON(t *testing.T) {
	var buf bytes.Buffer
	InitForJSON(LevelDebug, &buf)

	Error("World", errors.New("boom"), "teardown of %s failed", "web")

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", buf.String(), err)
	}
	if record["subsystem"] != "World" {
		t.Errorf("subsystem = %v, want World", record["subsystem"])
	}
	if record["error"] != "boom" {
		t.Errorf("error = %v, want boom", record["error"])
	}
	if record["msg"] != "teardown of web failed" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestHooksReceiveEnabledEntries(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	var (
		mu      sync.Mutex
		entries []LogEntry
	)
	remove := AddHook(func(e LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
	})

	Debug("Runner", "filtered")
	Warn("Runner", "kept %s", "warning")
	remove()
	Info("Runner", "after removal")

	mu.Lock()
	defer mu.Unlock()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 hooked entry, got %d", len(entries))
	}
	if entries[0].Message != "kept warning" || entries[0].Level != LevelWarn || entries[0].Subsystem != "Runner" {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
}
