package output

import (
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"
)

// Shown instead of the full bar when the size is unknown
const streamTemplate = `{{string . "prefix"}}{{counters . }} {{speed . }}`

// getUpdateInterval returns the progress refresh interval based on OS
// Windows terminals have higher latency with ANSI sequences
func getUpdateInterval() time.Duration {
	if runtime.GOOS == "windows" {
		return 300 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// Progress draws one bar per active file. A nil *Progress is valid and
// draws nothing.
type Progress struct {
	w    io.Writer
	mu   sync.Mutex
	bars map[string]*pb.ProgressBar
}

// NewProgress returns a progress display on w, or nil when w is not a
// terminal
func NewProgress(w io.Writer) *Progress {
	if !IsTerminal(w) {
		return nil
	}
	return newProgress(w)
}

func newProgress(w io.Writer) *Progress {
	return &Progress{w: w, bars: make(map[string]*pb.ProgressBar)}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start opens a bar for path; total is -1 when unknown
func (p *Progress) Start(path string, total int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if total < 0 {
		total = 0
	}
	bar := pb.New64(total)
	if total == 0 {
		bar.SetTemplateString(streamTemplate)
	} else {
		bar.SetTemplate(pb.Full)
	}
	bar.SetWriter(p.w)
	bar.SetRefreshRate(getUpdateInterval())
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", truncate(path, 40)+" ")
	bar.Start()
	p.bars[path] = bar
}

// Update moves the bar of path to current bytes
func (p *Progress) Update(path string, current int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[path]; ok {
		bar.SetCurrent(current)
	}
}

// Done finishes the bar of path
func (p *Progress) Done(path string, err error) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bar, ok := p.bars[path]
	if !ok {
		return
	}
	if err != nil {
		bar.Set("suffix", " failed")
	}
	bar.Finish()
	delete(p.bars, path)
}

// Active returns the number of open bars
func (p *Progress) Active() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bars)
}

// Hashing adapts the display to a comparator progress callback
func (p *Progress) Hashing(path string, current, total int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	_, open := p.bars[path]
	p.mu.Unlock()
	if !open {
		p.Start(path, total)
	}
	p.Update(path, current)
	if total > 0 && current >= total {
		p.Done(path, nil)
	}
}

// truncate keeps the tail of long paths
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "..." + string(r[len(r)-max+3:])
}
