package content

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTextReaderBoundary(t *testing.T) {
	t.Run("SplitCharacterIsKeptWhole", func(t *testing.T) {
		// "é" is two bytes; with a chunk size of 4 it straddles the first boundary.
		input := "abcé and more text"
		it := FromTextReader(strings.NewReader(input), 4)
		require.True(t, it.Text())

		var chunks []string
		for chunk, err := range it.All() {
			require.NoError(t, err)
			chunks = append(chunks, string(chunk))
		}
		assert.Equal(t, "abcé", chunks[0])
		assert.Equal(t, input, strings.Join(chunks, ""))
	})

	t.Run("FourByteCharacter", func(t *testing.T) {
		input := "a\U0001F600b"
		it := FromTextReader(strings.NewReader(input), 2)
		data, err := it.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, input, string(data))
	})

	t.Run("InvalidBytesFail", func(t *testing.T) {
		input := append([]byte("ok"), bytes.Repeat([]byte{0xff}, 20)...)
		it := FromTextReader(bytes.NewReader(input), 4)
		_, err := it.ReadAll()
		require.Error(t, err)
		assert.True(t, IsDecodeError(err))
		assert.Contains(t, err.Error(), "offset 2")
	})

	t.Run("TruncatedAtEOFFails", func(t *testing.T) {
		input := []byte{'a', 0xc3}
		it := FromTextReader(bytes.NewReader(input), 8)
		_, err := it.Next()
		assert.True(t, IsDecodeError(err))
	})

	t.Run("EmptyInput", func(t *testing.T) {
		it := FromTextReader(strings.NewReader(""), 4)
		_, err := it.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestCharsets(t *testing.T) {
	t.Run("UTF8Passthrough", func(t *testing.T) {
		r := strings.NewReader("abc")
		got, err := Decoder(r, "UTF-8")
		require.NoError(t, err)
		assert.Same(t, r, got)
	})

	t.Run("Latin1RoundTrip", func(t *testing.T) {
		enc, err := Encoder(strings.NewReader("café"), "iso-8859-1")
		require.NoError(t, err)
		raw, err := io.ReadAll(enc)
		require.NoError(t, err)
		assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, raw)

		dec, err := Decoder(bytes.NewReader(raw), "latin1")
		require.NoError(t, err)
		text, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.Equal(t, "café", string(text))
	})

	t.Run("UnknownCharset", func(t *testing.T) {
		_, err := Decoder(strings.NewReader(""), "klingon")
		assert.Error(t, err)
	})
}
