package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rankforge/rsengine/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantLevel zerolog.Level
	}{
		{
			name: "debug level",
			cfg: &config.Config{
				Env:       "development",
				LogLevel:  "debug",
				LogFormat: "json",
			},
			wantLevel: zerolog.DebugLevel,
		},
		{
			name: "info level",
			cfg: &config.Config{
				Env:       "production",
				LogLevel:  "info",
				LogFormat: "json",
			},
			wantLevel: zerolog.InfoLevel,
		},
		{
			name: "warn level",
			cfg: &config.Config{
				Env:       "staging",
				LogLevel:  "warn",
				LogFormat: "json",
			},
			wantLevel: zerolog.WarnLevel,
		},
		{
			name: "console format",
			cfg: &config.Config{
				Env:       "development",
				LogLevel:  "error",
				LogFormat: "console",
			},
			wantLevel: zerolog.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.cfg)
			if logger == nil {
				t.Fatal("Expected logger to be created")
			}

			if zerolog.GlobalLevel() != tt.wantLevel {
				t.Errorf("Expected global level %v, got %v", tt.wantLevel, zerolog.GlobalLevel())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"invalid", zerolog.InfoLevel}, // Default
		{"", zerolog.InfoLevel},        // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func testLogger(buf *bytes.Buffer) *Logger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	return &Logger{zlog: zerolog.New(buf)}
}

func TestLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	tests := []struct {
		name      string
		logFunc   func()
		wantMsg   string
		wantLevel string
	}{
		{"debug", func() { logger.Debug("debug message") }, "debug message", "debug"},
		{"info", func() { logger.Info("info message") }, "info message", "info"},
		{"warn", func() { logger.Warn("warn message") }, "warn message", "warn"},
		{"error", func() { logger.Error("error message") }, "error message", "error"},
		{"infof", func() { logger.Infof("count %d", 3) }, "count 3", "info"},
		{"warnf", func() { logger.Warnf("retry %d", 2) }, "retry 2", "warn"},
		{"debugf", func() { logger.Debugf("step %s", "load") }, "step load", "debug"},
		{"errorf", func() { logger.Errorf("bad %s", "input") }, "bad input", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to parse log output: %v", err)
			}

			if entry["message"] != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, entry["message"])
			}

			if entry["level"] != tt.wantLevel {
				t.Errorf("Expected level %q, got %q", tt.wantLevel, entry["level"])
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	logger.WithFields(map[string]interface{}{
		"symbol": "AAPL",
		"bars":   10,
	}).Info("saved")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}

	if entry["symbol"] != "AAPL" {
		t.Errorf("Expected symbol field AAPL, got %v", entry["symbol"])
	}

	if entry["bars"] != float64(10) {
		t.Errorf("Expected bars field 10, got %v", entry["bars"])
	}
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	logger.WithField("task_id", "abc").Info("started")

	if !strings.Contains(buf.String(), `"task_id":"abc"`) {
		t.Errorf("Expected task_id field in output, got %s", buf.String())
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	logger.WithError(errors.New("connection refused")).Error("fetch failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}

	if entry["error"] != "connection refused" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Info("dropped")
	logger.WithError(errors.New("x")).Error("dropped too")
}
