package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLevel verifies level names and their defaults.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestChildLoggers verifies the session and engine fields are attached.
func TestChildLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ForEngine(ForSession(ForComponent(zap.New(core), "session"), "id-1", "app"), "gdb")

	l.Warn("engine failed")

	entries := logs.FilterMessage("engine failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for key, want := range map[string]string{
		"component":  "session",
		"session_id": "id-1",
		"session":    "app",
		"engine":     "gdb",
	} {
		if fields[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, fields[key])
		}
	}
}

// TestNew_File verifies logs go to the configured file at the configured level.
func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debugctl.log")
	l, err := New(Config{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("unexpected log content: %s", data)
	}

	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
