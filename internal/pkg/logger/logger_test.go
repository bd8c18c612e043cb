package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "web.log")
	log, err := SetupLogger(Config{Level: slog.LevelInfo, LogFile: path, Format: "json"})
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	log.Info("hello", "component", "test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestSetupLoggerNoOutputs(t *testing.T) {
	log, err := SetupLogger(Config{Level: slog.LevelDebug})
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	log.Debug("discarded")
}
