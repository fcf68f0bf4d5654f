package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genrelay/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStandardStreams(t *testing.T) {
	for output, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(output)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", output, err)
		}
		if w != want {
			t.Errorf("openOutput(%q) returned the wrong stream", output)
		}
		_ = closer()
	}
}

func TestOpenOutputInvalidPath(t *testing.T) {
	if _, _, err := openOutput("/nonexistent/dir/log.txt"); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genrelay.log")

	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("filtered")
	log.Info("chain built", "size", 3)
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %s", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["msg"] != "chain built" || entry["service"] != "genrelay" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["size"] != float64(3) {
		t.Errorf("size = %v", entry["size"])
	}
}

func TestNewTextDebugAddsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("attempt failed")
	_ = closer()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "source=") {
		t.Errorf("debug logger should include source: %s", data)
	}
}

func TestNewInvalidOutput(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Level: "info", Format: "text", Output: "/nonexistent/dir/app.log"})
	if err == nil {
		t.Error("expected error for invalid output path")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nowhere")
}

func TestNewRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redact.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("notify sink configured", "token", "xoxb-123", "channel", "#ops")
	log.WithGroup("webhook").Info("headers", "Authorization", "Bearer abc")
	_ = closer()

	data, _ := os.ReadFile(path)
	out := string(data)
	for _, leaked := range []string{"xoxb-123", "Bearer abc"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "#ops") {
		t.Errorf("non-secret attribute missing: %s", out)
	}
	if strings.Count(out, "[REDACTED]") != 2 {
		t.Errorf("want 2 redactions: %s", out)
	}
}
