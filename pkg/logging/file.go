package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Format represents the log output format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FileLoggerConfig holds configuration for file logging
type FileLoggerConfig struct {
	// Path is the log file path
	Path string
	// Format is the output format (json or text)
	Format Format
	// Level is the minimum log level
	Level Level
	// MaxSize is the maximum size in bytes before rotation (0 = no rotation)
	MaxSize int64
	// MaxBackups is the maximum number of backup files to keep
	MaxBackups int
}

// sink is the destination shared by a logger and every logger derived from
// it with WithFields.
type sink struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	writer     io.Writer
	size       int64
	maxSize    int64
	maxBackups int
}

// FileLogger implements Logger with output to a file or any writer
type FileLogger struct {
	format Format
	level  Level
	out    *sink
	fields Fields
}

// NewFileLogger creates a new file logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &FileLogger{
		format: config.Format,
		level:  config.Level,
		out: &sink{
			path:       config.Path,
			file:       file,
			writer:     file,
			size:       info.Size(),
			maxSize:    config.MaxSize,
			maxBackups: config.MaxBackups,
		},
	}, nil
}

// NewStreamLogger creates a logger writing to w, typically os.Stderr.
// Closing it does not close w.
func NewStreamLogger(w io.Writer, format Format, level Level) *FileLogger {
	return &FileLogger{
		format: format,
		level:  level,
		out:    &sink{writer: w},
	}
}

// Debug logs a debug message
func (l *FileLogger) Debug(ctx context.Context, msg string, fields Fields) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, msg, nil, fields)
	}
}

// Info logs an info message
func (l *FileLogger) Info(ctx context.Context, msg string, fields Fields) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, msg, nil, fields)
	}
}

// Warn logs a warning message
func (l *FileLogger) Warn(ctx context.Context, msg string, fields Fields) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, msg, nil, fields)
	}
}

// Error logs an error message
func (l *FileLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	if l.level <= ErrorLevel {
		l.log(ErrorLevel, msg, err, fields)
	}
}

// WithFields returns a logger with additional fields
func (l *FileLogger) WithFields(fields Fields) Logger {
	return &FileLogger{
		format: l.format,
		level:  l.level,
		out:    l.out,
		fields: merge(l.fields, fields),
	}
}

// Close flushes and closes the logger
func (l *FileLogger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.file != nil {
		err := l.out.file.Close()
		l.out.file = nil
		l.out.writer = io.Discard
		return err
	}
	return nil
}

func (l *FileLogger) log(level Level, msg string, err error, fields Fields) {
	all := merge(l.fields, fields)

	var line []byte
	var fmtErr error
	if l.format == FormatJSON {
		line, fmtErr = formatJSON(level, msg, err, all)
	} else {
		line, fmtErr = formatText(level, msg, err, all)
	}
	if fmtErr != nil {
		return
	}

	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.maxSize > 0 && s.size >= s.maxSize {
		s.rotate()
	}
	n, _ := s.writer.Write(line)
	s.size += int64(n)
}

func merge(base, extra Fields) Fields {
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func formatJSON(level Level, msg string, err error, fields Fields) ([]byte, error) {
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     levelString(level),
		"message":   msg,
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		return nil, jsonErr
	}
	return append(data, '\n'), nil
}

// formatText writes fields in key order so lines are stable
func formatText(level Level, msg string, err error, fields Fields) ([]byte, error) {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	fmt.Fprintf(&b, " [%s] %s", levelString(level), msg)

	if err != nil {
		fmt.Fprintf(&b, " error=%q", err.Error())
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// rotate shifts backups and reopens the file; the caller holds mu.
func (s *sink) rotate() {
	s.file.Close()

	for i := s.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", s.path, i), fmt.Sprintf("%s.%d", s.path, i+1))
	}
	os.Rename(s.path, s.path+".1")
	if s.maxBackups > 0 {
		os.Remove(fmt.Sprintf("%s.%d", s.path, s.maxBackups+1))
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.file = nil
		s.writer = io.Discard
		return
	}
	s.file = file
	s.writer = file
	s.size = 0
}

// levelString returns the string representation of a log level
func levelString(level Level) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DebugLevel
	case "info", "INFO":
		return InfoLevel
	case "warn", "WARN", "warning", "WARNING":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LevelString returns level as string (exported version)
func LevelString(level Level) string {
	return levelString(level)
}
