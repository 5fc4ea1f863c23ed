package content

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// MaxBoundaryExtension is how many extra bytes a text chunk may borrow from the
// next read when a character is split across the chunk boundary.
const MaxBoundaryExtension = 7

// DecodeError reports bytes that are not valid text
type DecodeError struct {
	Offset int64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid utf-8 sequence at byte offset %d", e.Offset)
}

// IsDecodeError reports whether err is a text decoding failure
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// FromTextReader reads r in blocks of chunkSize bytes and returns text chunks.
// When a block does not end on a character boundary it is extended one byte
// at a time, up to MaxBoundaryExtension bytes, until it decodes.
func FromTextReader(r io.Reader, chunkSize int) *Iterator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var offset int64
	one := make([]byte, 1)
	it := &Iterator{
		source: SourceReader,
		text:   true,
		next: func() ([]byte, error) {
			buf := make([]byte, chunkSize, chunkSize+MaxBoundaryExtension)
			n, err := io.ReadFull(r, buf)
			if n == 0 {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = io.EOF
				}
				return nil, err
			}
			buf = buf[:n]
			eof := err != nil
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				return nil, err
			}

			for extra := 0; !utf8.Valid(buf); extra++ {
				if eof || extra == MaxBoundaryExtension {
					return nil, &DecodeError{Offset: offset + int64(invalidAt(buf))}
				}
				m, rerr := r.Read(one)
				if m == 1 {
					buf = append(buf, one[0])
				}
				if rerr != nil {
					if !errors.Is(rerr, io.EOF) {
						return nil, rerr
					}
					eof = true
				}
			}
			offset += int64(len(buf))
			return buf, nil
		},
	}
	if c, ok := r.(io.Closer); ok {
		it.closer = c
	}
	return it
}

// invalidAt returns the offset of the first byte that does not start a valid
// character.
func invalidAt(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}

// Decoder wraps r so that it yields UTF-8 from the named charset. An empty name
// or any UTF-8 alias returns r unchanged.
func Decoder(r io.Reader, charset string) (io.Reader, error) {
	enc, err := lookup(charset)
	if err != nil || enc == nil {
		return r, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// Encoder wraps r so that UTF-8 input is converted to the named charset.
func Encoder(r io.Reader, charset string) (io.Reader, error) {
	enc, err := lookup(charset)
	if err != nil || enc == nil {
		return r, err
	}
	return transform.NewReader(r, enc.NewEncoder()), nil
}

func lookup(charset string) (encoding.Encoding, error) {
	if strings.TrimSpace(charset) == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", charset, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil, nil
	}
	return enc, nil
}
