package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("datagram dropped", KeyPeer, "127.0.0.1:9001")

	output := buf.String()
	if !strings.Contains(output, "datagram dropped") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "peer=127.0.0.1:9001") {
		t.Errorf("expected output to contain peer attribute, got: %s", output)
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "JSON", &buf)

	logger.Info("engine started", KeyLocalAddr, "127.0.0.1:9001")

	output := buf.String()
	if !strings.Contains(output, `"msg":"engine started"`) {
		t.Errorf("expected JSON output with msg field, got: %s", output)
	}
	if !strings.Contains(output, `"local_addr":"127.0.0.1:9001"`) {
		t.Errorf("expected JSON output with local_addr field, got: %s", output)
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name         string
		configLevel  string
		logLevel     slog.Level
		shouldAppear bool
	}{
		{"debug at debug level", "debug", slog.LevelDebug, true},
		{"debug at info level", "info", slog.LevelDebug, false},
		{"info at warn level", "warn", slog.LevelInfo, false},
		{"error at warn level", "warn", slog.LevelError, true},
		{"warn at error level", "error", slog.LevelWarn, false},
		{"debug at unknown level", "loud", slog.LevelDebug, false},
		{"info at unknown level", "loud", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tc.configLevel, "text", &buf)

			logger.Log(context.Background(), tc.logLevel, "test message")

			if hasOutput := buf.Len() > 0; hasOutput != tc.shouldAppear {
				t.Errorf("level %s at config %s: expected shouldAppear=%v, got output=%v",
					tc.logLevel, tc.configLevel, tc.shouldAppear, hasOutput)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		ok       bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		lvl, ok := ParseLevel(tc.input)
		if lvl != tc.expected || ok != tc.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tc.input, lvl, ok, tc.expected, tc.ok)
		}
	}
}

func TestIsValidFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "Text"} {
		if !IsValidFormat(f) {
			t.Errorf("IsValidFormat(%q) = false", f)
		}
	}
	if IsValidFormat("xml") {
		t.Error("IsValidFormat(xml) = true")
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLoggerWithWriter("info", "text", &buf), "engine")
	logger.Info("hello")

	if !strings.Contains(buf.String(), "component=engine") {
		t.Errorf("expected component attribute, got: %s", buf.String())
	}

	// nil logger must not panic
	Component(nil, "engine").Info("discarded")
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger returned nil")
	}
	logger.Error("should not panic")
}
