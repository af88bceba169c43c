package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q): got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWithFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("info", FormatJSON, &buf)
	log.Info("Cost refresh complete", "provider", "aws")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["provider"] != "aws" {
		t.Errorf("provider field: got %v, want aws", entry["provider"])
	}
}

func TestNewWithFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("info", FormatText, &buf)
	log.Info("hello", "provider", "gcp")

	if !strings.Contains(buf.String(), "provider=gcp") {
		t.Errorf("text output missing key=value pair: %q", buf.String())
	}
}

func TestNewWithFormat_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("error", FormatJSON, &buf)
	log.Info("should be dropped")

	if buf.Len() != 0 {
		t.Errorf("info record written at error level: %q", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("info", FormatJSON, &buf).WithFields("component", "collector")
	log.Info("started")

	if !strings.Contains(buf.String(), `"component":"collector"`) {
		t.Errorf("child logger missing field: %q", buf.String())
	}
}
