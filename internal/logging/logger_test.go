package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("expected default level Info, got %v", logger.level)
	}
}

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected warn message in output, got: %s", buf.String())
	}
}

func TestLoggerKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("buffer drained", "index", 3, "bytes", 128)
	out := buf.String()
	if !strings.Contains(out, "index=3") || !strings.Contains(out, "bytes=128") {
		t.Errorf("expected key=value pairs in output, got: %s", out)
	}
}

func TestDefaultAndSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(NewLogger(nil))

	Info("routed through default")
	if !strings.Contains(buf.String(), "routed through default") {
		t.Errorf("expected message via package-level Info, got: %s", buf.String())
	}
}

func TestPrintfIsInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	logger.Printf("value=%d", 7)
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("expected Printf to log at info level, got: %s", buf.String())
	}
}
