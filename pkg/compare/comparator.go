package compare

import (
	"context"
	"fmt"
	"sort"

	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// Result represents the outcome of comparing two files
type Result string

const (
	// Same indicates files are identical
	Same Result = "same"
	// Different indicates files differ
	Different Result = "different"
	// SourceOnly indicates file exists only in source
	SourceOnly Result = "source_only"
	// DestOnly indicates file exists only in destination
	DestOnly Result = "dest_only"
	// Error indicates comparison failed
	Error Result = "error"
)

// Comparison holds the result of comparing two files
type Comparison struct {
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
	Result     Result `json:"result"`
	Reason     string `json:"reason"`
	Error      error  `json:"-"`
}

// Comparator defines the interface for file comparison algorithms. Source
// and destination may be the same client.
type Comparator interface {
	// Compare compares two files and returns the result
	Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error)

	// Name returns the name of the comparison method
	Name() string
}

// ChunkWrapper wraps the chunk stream of a file being read (e.g. for rate
// limiting)
type ChunkWrapper func(*content.Iterator) *content.Iterator

// ProgressFunc receives the bytes processed so far for path
type ProgressFunc func(path string, current, total int64)

var factories = map[string]func() Comparator{
	"md5":       func() Comparator { return NewMD5Comparator() },
	"sha256":    func() Comparator { return NewHashComparator() },
	"binary":    func() Comparator { return NewBinaryComparator() },
	"namesize":  func() Comparator { return NewNameSizeComparator() },
	"timestamp": func() Comparator { return NewTimestampComparator() },
}

// New returns the comparator registered under name
func New(name string) (Comparator, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown comparison method %q (valid: %v)", name, Methods())
	}
	return factory(), nil
}

// Methods lists the comparator names accepted by New
func Methods() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// statPair looks up both files. It returns a finished comparison when one
// side is missing; other lookup errors are returned as is.
func statPair(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (src, dst models.RemoteObject, done *Comparison, err error) {
	src, err = source.GetPath(ctx, sourcePath)
	srcMissing := models.IsNotFound(err)
	if err != nil && !srcMissing {
		return src, dst, nil, fmt.Errorf("failed to stat source: %w", err)
	}
	dst, err = dest.GetPath(ctx, destPath)
	dstMissing := models.IsNotFound(err)
	if err != nil && !dstMissing {
		return src, dst, nil, fmt.Errorf("failed to stat destination: %w", err)
	}

	result := &Comparison{SourcePath: sourcePath, DestPath: destPath}
	switch {
	case srcMissing && dstMissing:
		result.Result, result.Reason = Error, "file exists on neither side"
	case srcMissing:
		result.Result, result.Reason = DestOnly, "file exists only in destination"
	case dstMissing:
		result.Result, result.Reason = SourceOnly, "file exists only in source"
	case src.IsDir() || dst.IsDir():
		result.Result, result.Reason = Different, "directories are not compared"
	case src.HasLength() && dst.HasLength() && src.Length != dst.Length:
		result.Result, result.Reason = Different, fmt.Sprintf("size mismatch: source=%d, dest=%d", src.Length, dst.Length)
	default:
		return src, dst, nil, nil
	}
	return src, dst, result, nil
}
