package logging

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

// LineWriter turns a byte stream (e.g. a protocol trace from a third-party
// client) into one Debug entry per line.
type LineWriter struct {
	logger Logger
	msg    string
	mu     sync.Mutex
	buf    bytes.Buffer
}

// NewLineWriter creates a writer that logs each complete line under msg,
// with the line text in the "line" field
func NewLineWriter(logger Logger, msg string) *LineWriter {
	return &LineWriter{logger: logger, msg: msg}
}

// Write buffers p and emits every complete line
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf.Next(i+1)), "\r\n")
		if line != "" {
			w.logger.Debug(context.Background(), w.msg, Fields{"line": line})
		}
	}
	return len(p), nil
}

// Flush emits a trailing partial line, if any
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.logger.Debug(context.Background(), w.msg, Fields{"line": w.buf.String()})
		w.buf.Reset()
	}
}
