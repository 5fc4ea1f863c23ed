package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/ratelimit"
)

// Progress receives per-file transfer progress. Calls come from the
// goroutine running the transfer.
type Progress interface {
	// Start announces a file; total is -1 when unknown
	Start(path string, total int64)
	// Update reports the bytes copied so far
	Update(path string, current int64)
	// Done closes the file, err is nil on success
	Done(path string, err error)
}

// Progress reporting thresholds
const (
	progressReportInterval = 50 * time.Millisecond
	progressReportBytes    = 64 * 1024
)

// meter wraps the chunks of one file with rate limiting, byte counting and
// throttled progress reports
type meter struct {
	path           string
	read           int64
	lastReported   int64
	lastReportTime time.Time
	progress       Progress
}

func (e *Engine) meter(ctx context.Context, it *content.Iterator, p string, total int64) (*content.Iterator, *meter) {
	it = ratelimit.Chunks(ctx, it, e.options.Limiter)
	m := &meter{path: p, progress: e.options.Progress, lastReportTime: time.Now()}
	if m.progress != nil {
		m.progress.Start(p, total)
	}

	out := content.FromFunc(func() ([]byte, error) {
		chunk, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.report(true)
			}
			return nil, err
		}
		m.read += int64(len(chunk))
		e.bytes += int64(len(chunk))
		m.report(false)
		return chunk, nil
	})
	if it.Text() {
		out.MarkText()
	}
	return out.WithCloser(it), m
}

func (m *meter) report(final bool) {
	if m.progress == nil {
		return
	}
	if final ||
		m.read-m.lastReported >= progressReportBytes ||
		time.Since(m.lastReportTime) >= progressReportInterval {
		m.progress.Update(m.path, m.read)
		m.lastReported = m.read
		m.lastReportTime = time.Now()
	}
}

func (m *meter) done(err error) {
	if m.progress != nil {
		m.progress.Done(m.path, err)
	}
}
