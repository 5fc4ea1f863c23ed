package compare

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/sdejongh/remotefs/pkg/storage"
)

const (
	progressReportInterval = 50 * time.Millisecond
	progressReportBytes    = 64 * 1024
)

// HashComparator compares files by SHA-256 over their streamed contents.
// Unlike MD5Comparator it sees every chunk, so it honors the chunk wrapper
// and reports progress.
type HashComparator struct {
	progressReport ProgressFunc
	wrapper        ChunkWrapper
}

// NewHashComparator creates a new hash-based comparator
func NewHashComparator() *HashComparator {
	return &HashComparator{}
}

// SetProgressCallback sets the progress reporting callback
func (c *HashComparator) SetProgressCallback(callback ProgressFunc) {
	c.progressReport = callback
}

// SetChunkWrapper sets a function to wrap chunk streams (e.g., for rate limiting)
func (c *HashComparator) SetChunkWrapper(wrapper ChunkWrapper) {
	c.wrapper = wrapper
}

// Compare compares two files using SHA-256 hash
func (c *HashComparator) Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error) {
	src, dst, done, err := statPair(ctx, source, dest, sourcePath, destPath)
	if err != nil || done != nil {
		return done, err
	}

	sourceHash, err := c.computeHash(ctx, source, sourcePath, src.Length)
	if err != nil {
		return nil, fmt.Errorf("failed to compute source hash: %w", err)
	}
	destHash, err := c.computeHash(ctx, dest, destPath, dst.Length)
	if err != nil {
		return nil, fmt.Errorf("failed to compute destination hash: %w", err)
	}

	if sourceHash == destHash {
		return &Comparison{SourcePath: sourcePath, DestPath: destPath, Result: Same, Reason: "SHA-256 hashes match"}, nil
	}
	return &Comparison{SourcePath: sourcePath, DestPath: destPath, Result: Different, Reason: "SHA-256 hash mismatch"}, nil
}

// computeHash hashes the whole file with throttled progress reporting
func (c *HashComparator) computeHash(ctx context.Context, client *storage.Client, path string, size int64) (string, error) {
	it, err := client.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	defer it.Close()
	if c.wrapper != nil {
		it = c.wrapper(it)
	}

	hash := sha256.New()
	var bytesRead, lastReported int64
	var lastReportTime time.Time
	for chunk, err := range it.All() {
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hash.Write(chunk)
		bytesRead += int64(len(chunk))

		if c.progressReport != nil &&
			(bytesRead-lastReported >= progressReportBytes || time.Since(lastReportTime) >= progressReportInterval) {
			c.progressReport(path, bytesRead, size)
			lastReported, lastReportTime = bytesRead, time.Now()
		}
	}
	if c.progressReport != nil && bytesRead > lastReported {
		c.progressReport(path, bytesRead, size)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// Name returns the comparator name
func (c *HashComparator) Name() string {
	return "sha256"
}
