// Package content normalizes write input into a lazy sequence of chunks.
//
// A scalar (string or []byte) is replayable and yields exactly one chunk.
// Generators, channels and readers are single-pass: once drained, the
// iterator stays empty.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

// DefaultChunkSize is the block size used for reader sources
const DefaultChunkSize = 8192

// Source classifies what an iterator was built from
type Source int

const (
	// SourceScalar is a single opaque string or byte slice
	SourceScalar Source = iota
	// SourceStream is a generator already producing chunks
	SourceStream
	// SourceReader is a file-like handle read in fixed blocks
	SourceReader
)

func (s Source) String() string {
	switch s {
	case SourceScalar:
		return "scalar"
	case SourceStream:
		return "stream"
	case SourceReader:
		return "reader"
	default:
		return "unknown"
	}
}

// Iterator is a lazy chunk sequence. It is not safe for concurrent use.
type Iterator struct {
	source Source
	text   bool

	scalar  []byte
	yielded bool

	next   func() ([]byte, error)
	closer io.Closer
	done   bool
	err    error
}

// New classifies v and wraps it. Unsupported input does not fail here; the
// first Next call reports it.
func New(v any) *Iterator {
	switch x := v.(type) {
	case nil:
		return FromBytes(nil)
	case *Iterator:
		return x
	case string:
		return FromString(x)
	case []byte:
		return FromBytes(x)
	case func() ([]byte, error):
		return FromFunc(x)
	case iter.Seq[[]byte]:
		return FromSeq(x)
	case <-chan []byte:
		return FromChannel(x)
	case chan []byte:
		return FromChannel(x)
	case io.Reader:
		return FromReader(x, DefaultChunkSize)
	default:
		return &Iterator{
			source: SourceStream,
			next: func() ([]byte, error) {
				return nil, fmt.Errorf("content: unsupported input type %T", v)
			},
		}
	}
}

// FromString wraps a string. The iterator is replayable and marked as text.
func FromString(s string) *Iterator {
	return &Iterator{source: SourceScalar, scalar: []byte(s), text: true}
}

// FromBytes wraps a byte slice. The iterator is replayable.
func FromBytes(b []byte) *Iterator {
	return &Iterator{source: SourceScalar, scalar: b}
}

// FromFunc wraps a generator that returns io.EOF when exhausted.
func FromFunc(fn func() ([]byte, error)) *Iterator {
	return &Iterator{source: SourceStream, next: fn}
}

// FromSeq wraps a range-over-func sequence.
func FromSeq(seq iter.Seq[[]byte]) *Iterator {
	pull, stop := iter.Pull(seq)
	return &Iterator{
		source: SourceStream,
		next: func() ([]byte, error) {
			chunk, ok := pull()
			if !ok {
				return nil, io.EOF
			}
			return chunk, nil
		},
		closer: closerFunc(func() error { stop(); return nil }),
	}
}

// FromChannel wraps a channel; a closed channel ends the sequence.
func FromChannel(ch <-chan []byte) *Iterator {
	return &Iterator{
		source: SourceStream,
		next: func() ([]byte, error) {
			chunk, ok := <-ch
			if !ok {
				return nil, io.EOF
			}
			return chunk, nil
		},
	}
}

// FromReader reads r in blocks of chunkSize bytes. If r is an io.Closer it is
// closed by Close.
func FromReader(r io.Reader, chunkSize int) *Iterator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	exhausted := false
	it := &Iterator{
		source: SourceReader,
		next: func() ([]byte, error) {
			if exhausted {
				return nil, io.EOF
			}
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				// a short read means the source hit EOF; never read it again
				if errors.Is(err, io.ErrUnexpectedEOF) {
					exhausted = true
					err = nil
				}
				return buf[:n], err
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return nil, err
		},
	}
	if c, ok := r.(io.Closer); ok {
		it.closer = c
	}
	return it
}

// WithCloser attaches a closer released by Close, e.g. the transfer holding
// the underlying handle.
func (it *Iterator) WithCloser(c io.Closer) *Iterator {
	if it.closer == nil {
		it.closer = c
		return it
	}
	prev := it.closer
	it.closer = closerFunc(func() error {
		err := prev.Close()
		if cerr := c.Close(); err == nil {
			err = cerr
		}
		return err
	})
	return it
}

// MapErrors rewrites every non-EOF error produced by the source.
func (it *Iterator) MapErrors(fn func(error) error) *Iterator {
	if it.next == nil {
		return it
	}
	next := it.next
	it.next = func() ([]byte, error) {
		chunk, err := next()
		if err != nil && !errors.Is(err, io.EOF) {
			err = fn(err)
		}
		return chunk, err
	}
	return it
}

// MarkText flags the chunks as text.
func (it *Iterator) MarkText() *Iterator {
	it.text = true
	return it
}

// Source returns how the iterator was classified
func (it *Iterator) Source() Source { return it.source }

// Replayable reports whether Rewind can restart the sequence
func (it *Iterator) Replayable() bool { return it.source == SourceScalar }

// Text reports whether chunks are text
func (it *Iterator) Text() bool { return it.text }

// Next returns the next chunk or io.EOF once the sequence is exhausted.
func (it *Iterator) Next() ([]byte, error) {
	if it.source == SourceScalar {
		if it.yielded {
			return nil, io.EOF
		}
		it.yielded = true
		return it.scalar, nil
	}
	if it.done {
		if it.err != nil {
			return nil, it.err
		}
		return nil, io.EOF
	}
	chunk, err := it.next()
	if err != nil {
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		if len(chunk) > 0 && errors.Is(err, io.EOF) {
			return chunk, nil
		}
		return nil, err
	}
	return chunk, nil
}

// Rewind restarts a replayable iterator. Streaming sources cannot be rewound.
func (it *Iterator) Rewind() bool {
	if !it.Replayable() {
		return false
	}
	it.yielded = false
	return true
}

// All ranges over the chunks; iteration stops at the first error, which is
// yielded with a nil chunk.
func (it *Iterator) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := it.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// ReadAll drains the iterator into one buffer.
func (it *Iterator) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	for chunk, err := range it.All() {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	if buf.Len() == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}

// Reader exposes the remaining chunks as an io.Reader.
func (it *Iterator) Reader() io.Reader {
	return &chunkReader{it: it}
}

// Close releases the underlying handle, if any. It is safe to call twice.
func (it *Iterator) Close() error {
	it.done = true
	if it.closer == nil {
		return nil
	}
	c := it.closer
	it.closer = nil
	return c.Close()
}

type chunkReader struct {
	it  *Iterator
	buf []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, err := r.it.Next()
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
