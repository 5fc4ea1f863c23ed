package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// BinaryComparator compares files byte-by-byte
// This is the most thorough comparison but also the slowest
// Useful for detecting exact byte offset where files differ
type BinaryComparator struct {
	bufferSize     int
	bufferPool     *sync.Pool
	progressReport ProgressFunc
	wrapper        ChunkWrapper
}

// NewBinaryComparator creates a new byte-by-byte comparator
func NewBinaryComparator() *BinaryComparator {
	const bufferSize = 32 * 1024
	return &BinaryComparator{
		bufferSize: bufferSize,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
	}
}

// SetProgressCallback sets the progress reporting callback
func (c *BinaryComparator) SetProgressCallback(callback ProgressFunc) {
	c.progressReport = callback
}

// SetChunkWrapper sets a function to wrap chunk streams (e.g., for rate limiting)
func (c *BinaryComparator) SetChunkWrapper(wrapper ChunkWrapper) {
	c.wrapper = wrapper
}

// Compare compares two files byte-by-byte
func (c *BinaryComparator) Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error) {
	src, _, done, err := statPair(ctx, source, dest, sourcePath, destPath)
	if err != nil || done != nil {
		return done, err
	}

	sourceIt, err := source.ReadFile(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceIt.Close()
	destIt, err := dest.ReadFile(ctx, destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination file: %w", err)
	}
	defer destIt.Close()

	sourceReader, destReader := c.reader(sourceIt), c.reader(destIt)

	sourceBufPtr := c.bufferPool.Get().(*[]byte)
	defer c.bufferPool.Put(sourceBufPtr)
	destBufPtr := c.bufferPool.Get().(*[]byte)
	defer c.bufferPool.Put(destBufPtr)
	sourceBuf, destBuf := *sourceBufPtr, *destBufPtr

	result := &Comparison{SourcePath: sourcePath, DestPath: destPath, Result: Different}
	var compared int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// ReadFull evens out the differing chunk sizes of the two backends
		sourceN, sourceErr := io.ReadFull(sourceReader, sourceBuf)
		destN, destErr := io.ReadFull(destReader, destBuf)
		if sourceErr != nil && !isEnd(sourceErr) {
			return nil, fmt.Errorf("failed to read source: %w", sourceErr)
		}
		if destErr != nil && !isEnd(destErr) {
			return nil, fmt.Errorf("failed to read destination: %w", destErr)
		}

		n := min(sourceN, destN)
		if !bytes.Equal(sourceBuf[:n], destBuf[:n]) {
			for i := 0; i < n; i++ {
				if sourceBuf[i] != destBuf[i] {
					result.Reason = fmt.Sprintf("binary content differs at byte offset %d", compared+int64(i))
					return result, nil
				}
			}
		}
		compared += int64(n)
		if c.progressReport != nil && n > 0 {
			c.progressReport(sourcePath, compared, src.Length)
		}

		switch {
		case sourceN < destN:
			result.Reason = fmt.Sprintf("source ended at %d but destination continues", compared)
			return result, nil
		case destN < sourceN:
			result.Reason = fmt.Sprintf("destination ended at %d but source continues", compared)
			return result, nil
		case sourceErr != nil:
			// both short reads of equal length: both ended
			result.Result = Same
			result.Reason = fmt.Sprintf("binary content matches (%d bytes)", compared)
			return result, nil
		}
	}
}

func (c *BinaryComparator) reader(it *content.Iterator) io.Reader {
	if c.wrapper != nil {
		it = c.wrapper(it)
	}
	return it.Reader()
}

func isEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Name returns the comparator name
func (c *BinaryComparator) Name() string {
	return "binary"
}
