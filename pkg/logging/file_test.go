package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestFileLogger(t *testing.T, format Format, level Level) (*FileLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "nested", "remotefs.log")
	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: format, Level: level})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	return logger, logPath
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// TestFileLogger_Levels tests that entries below the configured level are dropped
func TestFileLogger_Levels(t *testing.T) {
	tests := []struct {
		level Level
		want  int
	}{
		{DebugLevel, 4},
		{InfoLevel, 3},
		{WarnLevel, 2},
		{ErrorLevel, 1},
	}
	for _, tt := range tests {
		t.Run(LevelString(tt.level), func(t *testing.T) {
			logger, path := newTestFileLogger(t, FormatText, tt.level)
			ctx := context.Background()
			logger.Debug(ctx, "d", nil)
			logger.Info(ctx, "i", nil)
			logger.Warn(ctx, "w", nil)
			logger.Error(ctx, "e", nil, nil)
			logger.Close()

			if got := len(readLines(t, path)); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

// TestFileLogger_TextFormat tests the text line layout
func TestFileLogger_TextFormat(t *testing.T) {
	logger, path := newTestFileLogger(t, FormatText, InfoLevel)
	logger.Error(context.Background(), "transfer failed", errors.New("boom"), Fields{"path": "/a", "backend": "ftp"})
	logger.Close()

	line := readLines(t, path)[0]
	if !strings.Contains(line, "[ERROR] transfer failed") {
		t.Errorf("line missing level and message: %s", line)
	}
	if !strings.Contains(line, `error="boom"`) {
		t.Errorf("line missing error: %s", line)
	}
	// fields are sorted by key
	if !strings.HasSuffix(line, "backend=ftp path=/a") {
		t.Errorf("fields not in key order: %s", line)
	}
}

// TestFileLogger_JSONFormat tests the JSON line layout
func TestFileLogger_JSONFormat(t *testing.T) {
	logger, path := newTestFileLogger(t, FormatJSON, InfoLevel)
	logger.Info(context.Background(), "connected", Fields{"host": "example.com", "port": 21})
	logger.Close()

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["level"] != "INFO" || entry["message"] != "connected" {
		t.Errorf("entry = %v", entry)
	}
	if entry["host"] != "example.com" || entry["port"] != float64(21) {
		t.Errorf("fields missing: %v", entry)
	}
	if entry["timestamp"] == nil {
		t.Error("timestamp should be present")
	}
}

// TestFileLogger_WithFields tests that derived loggers share the file
func TestFileLogger_WithFields(t *testing.T) {
	logger, path := newTestFileLogger(t, FormatJSON, InfoLevel)
	derived := logger.WithFields(Fields{"backend": "sftp"})
	derived.Info(context.Background(), "first", Fields{"op": "getPath"})
	logger.Info(context.Background(), "second", nil)

	if err := derived.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// closing through any logger closes the shared file once
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["backend"] != "sftp" || entry["op"] != "getPath" {
		t.Errorf("entry = %v", entry)
	}
	if strings.Contains(lines[1], "sftp") {
		t.Error("base logger should not inherit derived fields")
	}
}

// TestFileLogger_Rotation tests size based rotation, including through derived loggers
func TestFileLogger_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "remotefs.log")
	logger, err := NewFileLogger(FileLoggerConfig{
		Path:       logPath,
		Format:     FormatText,
		Level:      InfoLevel,
		MaxSize:    100,
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	derived := logger.WithFields(Fields{"backend": "local"})

	for i := 0; i < 20; i++ {
		derived.Info(context.Background(), "a message long enough to push the file over its limit", nil)
	}
	logger.Close()

	for _, p := range []string{logPath, logPath + ".1", logPath + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

// TestFileLogger_ConcurrentWrites tests that lines never interleave
func TestFileLogger_ConcurrentWrites(t *testing.T) {
	logger, path := newTestFileLogger(t, FormatText, InfoLevel)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := logger.WithFields(Fields{"worker": id})
			for j := 0; j < 100; j++ {
				l.Info(context.Background(), "concurrent message", Fields{"iteration": j})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readLines(t, path)); got != 1000 {
		t.Errorf("expected 1000 log lines, got %d", got)
	}
}

// TestStreamLogger tests logging to an arbitrary writer
func TestStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(&buf, FormatText, DebugLevel)
	logger.Debug(context.Background(), "sent command", Fields{"cmd": "PWD"})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !strings.Contains(buf.String(), "[DEBUG] sent command cmd=PWD") {
		t.Errorf("output = %q", buf.String())
	}
}

// TestLineWriter tests splitting a byte stream into log entries
func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(&buf, FormatJSON, DebugLevel)
	w := NewLineWriter(logger, "ftp trace")

	w.Write([]byte("220 ready\r\nUSER an"))
	w.Write([]byte("onymous\r\n\r\n"))
	w.Write([]byte("PASS"))
	w.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d entries, want 3: %q", len(lines), buf.String())
	}
	want := []string{"220 ready", "USER anonymous", "PASS"}
	for i, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON log: %v", err)
		}
		if entry["line"] != want[i] || entry["message"] != "ftp trace" {
			t.Errorf("entry %d = %v", i, entry)
		}
	}
}

// TestNullLogger tests that the null logger accepts everything
func TestNullLogger(t *testing.T) {
	logger := NewNullLogger()
	ctx := context.Background()
	logger.Debug(ctx, "debug", nil)
	logger.Error(ctx, "error", errors.New("x"), nil)
	if logger.WithFields(Fields{"k": "v"}) == nil {
		t.Error("WithFields should return a logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// TestParseLevel tests level parsing with the info fallback
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DebugLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
