package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/models"
)

// drain discards the rest of an iterator, returning the first read error
func drain(it *content.Iterator) error {
	_, err := io.Copy(io.Discard, it.Reader())
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func newTestClient(t *testing.T, opts ...ClientOption) (*Client, string) {
	t.Helper()
	local, dir := newTestLocal(t)
	return NewClient(local, opts...), dir
}

func TestClientAbsPath(t *testing.T) {
	c, dir := newTestClient(t)

	assert.Equal(t, "/etc/hosts", c.AbsPath("/etc/hosts"))
	assert.Equal(t, dir+"/a/b", c.AbsPath("a/b"))
	assert.Equal(t, dir+"/b", c.AbsPath("a/../b"))
	assert.Equal(t, "/a/../b", c.AbsPath("/a/../b"), "absolute paths are returned unchanged")
	for _, p := range []string{"x", "/x/y/", "./z", "../up"} {
		once := c.AbsPath(p)
		assert.Equal(t, once, c.AbsPath(once), "AbsPath must be idempotent for %q", p)
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	inputs := map[string]any{
		"string": "plain text",
		"bytes":  []byte{0, 1, 2, 255},
		"reader": strings.NewReader(strings.Repeat("r", DefaultChunkSize*3+1)),
		"empty":  "",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var want []byte
			switch v := input.(type) {
			case string:
				want = []byte(v)
			case []byte:
				want = v
			case *strings.Reader:
				want = []byte(strings.Repeat("r", DefaultChunkSize*3+1))
			}
			_, err := c.WriteFile(ctx, name+".dat", input, WithOverwrite(true))
			require.NoError(t, err)

			got, err := c.ReadEntireFile(ctx, name+".dat")
			require.NoError(t, err)
			assert.Equal(t, len(want), len(got))
			assert.Equal(t, want, got)
		})
	}
}

func TestClientAppendFile(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	t.Run("FreshPath", func(t *testing.T) {
		_, err := c.AppendFile(ctx, "log.txt", "first,")
		require.NoError(t, err)
		_, err = c.AppendFile(ctx, "log.txt", []byte("second"))
		require.NoError(t, err)

		text, err := c.ReadEntireText(ctx, "log.txt")
		require.NoError(t, err)
		assert.Equal(t, "first,second", text)
	})

	t.Run("StreamingContents", func(t *testing.T) {
		ch := make(chan []byte, 2)
		ch <- []byte("a")
		ch <- []byte("b")
		close(ch)
		_, err := c.AppendFile(ctx, "stream.txt", ch)
		require.NoError(t, err)
		_, err = c.AppendFile(ctx, "stream.txt", "c")
		require.NoError(t, err)

		data, err := c.ReadEntireFile(ctx, "stream.txt")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
	})

	t.Run("OtherErrorsPropagate", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(c.Cwd(), "adir"), 0755))
		_, err := c.AppendFile(ctx, "adir", "x")
		assert.True(t, models.IsBadRequest(err), "got %v", err)
	})
}

func TestClientChecksumFile(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	data := strings.Repeat("checksum me ", 3000)
	_, err := c.WriteFile(ctx, "sum.txt", data)
	require.NoError(t, err)

	sum, err := c.ChecksumFile(ctx, "sum.txt")
	require.NoError(t, err)
	want := md5.Sum([]byte(data))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	_, err = c.ChecksumFile(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
}

func TestClientPredicates(t *testing.T) {
	ctx := context.Background()
	c, dir := newTestClient(t)
	_, err := c.WriteFile(ctx, "f", "x")
	require.NoError(t, err)
	require.NoError(t, os.Symlink("f", filepath.Join(dir, "l")))

	exists, err := c.PathExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = c.PathExists(ctx, "f")
	require.NoError(t, err)
	assert.True(t, exists)

	isFile, err := c.PathIsFile(ctx, "f")
	require.NoError(t, err)
	assert.True(t, isFile)

	isDir, err := c.PathIsDirectory(ctx, ".")
	require.NoError(t, err)
	assert.True(t, isDir)

	isLink, err := c.PathIsLink(ctx, "l")
	require.NoError(t, err)
	assert.True(t, isLink)

	// only PathExists swallows NotFound
	_, err = c.PathIsFile(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
	_, err = c.PathIsDirectory(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
	_, err = c.PathIsLink(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
}

func buildTree(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()
	for p, data := range map[string]string{
		"src/a.txt":       "a",
		"src/b.txt":       "bb",
		"src/sub/c.txt":   "ccc",
		"src/sub/d/e.txt": "eeee",
	} {
		_, err := c.WriteFile(ctx, p, data)
		require.NoError(t, err)
	}
	_, err := c.SetPathPermission(ctx, "src/sub", 750)
	require.NoError(t, err)
}

func TestClientCopyPath(t *testing.T) {
	ctx := context.Background()

	t.Run("File", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.WriteFile(ctx, "one.txt", "payload", WithPermission(640))
		require.NoError(t, err)

		obj, err := c.CopyPath(ctx, "one.txt", "two.txt")
		require.NoError(t, err)
		assert.Equal(t, models.Permission(640), obj.Permission)

		src, _ := c.ReadEntireFile(ctx, "one.txt")
		dst, _ := c.ReadEntireFile(ctx, "two.txt")
		assert.Equal(t, "payload", string(src))
		assert.Equal(t, src, dst)
	})

	t.Run("FileIntoDirectory", func(t *testing.T) {
		c, dir := newTestClient(t)
		_, err := c.WriteFile(ctx, "one.txt", "payload")
		require.NoError(t, err)
		_, err = c.MakeDirectory(ctx, "target")
		require.NoError(t, err)

		obj, err := c.CopyPath(ctx, "one.txt", "target")
		require.NoError(t, err)
		assert.Equal(t, dir+"/target/one.txt", obj.Path)
	})

	t.Run("NoOverwriteKeepsDestination", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, _ = c.WriteFile(ctx, "src.txt", "new")
		_, _ = c.WriteFile(ctx, "dst.txt", "old")

		_, err := c.CopyPath(ctx, "src.txt", "dst.txt")
		require.NoError(t, err)
		data, _ := c.ReadEntireFile(ctx, "dst.txt")
		assert.Equal(t, "old", string(data))

		_, err = c.CopyPath(ctx, "src.txt", "dst.txt", WithOverwrite(true))
		require.NoError(t, err)
		data, _ = c.ReadEntireFile(ctx, "dst.txt")
		assert.Equal(t, "new", string(data))
	})

	t.Run("DirectoryRecursive", func(t *testing.T) {
		c, _ := newTestClient(t)
		buildTree(t, c)

		_, err := c.CopyPath(ctx, "src", "dst")
		require.NoError(t, err)

		for _, p := range []string{"a.txt", "b.txt", "sub/c.txt", "sub/d/e.txt"} {
			want, err := c.ReadEntireFile(ctx, "src/"+p)
			require.NoError(t, err)
			got, err := c.ReadEntireFile(ctx, "dst/"+p)
			require.NoError(t, err, "missing copy of %s", p)
			assert.Equal(t, want, got)
		}
		sub, err := c.GetPath(ctx, "dst/sub")
		require.NoError(t, err)
		assert.Equal(t, models.Permission(750), sub.Permission)
	})

	t.Run("DirectoryLegacyFirstEntryOnly", func(t *testing.T) {
		c, _ := newTestClient(t, WithLegacyDirectoryCopy())
		buildTree(t, c)

		_, err := c.CopyPath(ctx, "src", "dst")
		require.NoError(t, err)
		entries, err := c.ListDirectory(ctx, "dst")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.txt", entries[0].Basename())
	})

	t.Run("DirectoryIntoItself", func(t *testing.T) {
		c, _ := newTestClient(t)
		buildTree(t, c)
		_, err := c.CopyPath(ctx, "src", "src/sub/inner")
		assert.True(t, models.IsBadRequest(err), "got %v", err)
	})

	t.Run("FollowsLinks", func(t *testing.T) {
		c, dir := newTestClient(t)
		_, _ = c.WriteFile(ctx, "real.txt", "linked content")
		require.NoError(t, os.Symlink("real.txt", filepath.Join(dir, "hop1")))
		require.NoError(t, os.Symlink(dir+"/hop1", filepath.Join(dir, "hop2")))

		obj, err := c.CopyPath(ctx, "hop2", "copy.txt")
		require.NoError(t, err)
		assert.True(t, obj.IsFile())
		data, _ := c.ReadEntireFile(ctx, "copy.txt")
		assert.Equal(t, "linked content", string(data))
	})

	t.Run("LinkCycle", func(t *testing.T) {
		c, dir := newTestClient(t)
		require.NoError(t, os.Symlink("b", filepath.Join(dir, "a")))
		require.NoError(t, os.Symlink("a", filepath.Join(dir, "b")))

		_, err := c.CopyPath(ctx, "a", "out")
		assert.True(t, models.IsBadRequest(err), "got %v", err)
	})

	t.Run("MissingSource", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.CopyPath(ctx, "nothing", "out")
		assert.True(t, models.IsNotFound(err))
	})
}

func TestClientBackslashNames(t *testing.T) {
	if filepath.Separator == '\\' {
		t.Skip("backslash is the path separator on this platform")
	}
	ctx := context.Background()
	c, dir := newTestClient(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", `a\b.txt`), []byte("odd"), 0o644))

	entries, err := c.ListDirectory(ctx, "src")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dir+`/src/a\b.txt`, entries[0].Path)

	obj, err := c.GetPath(ctx, entries[0].Path)
	require.NoError(t, err)
	assert.True(t, obj.IsFile())

	_, err = c.CopyPath(ctx, "src", "dst")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "dst", `a\b.txt`))
	require.NoError(t, err)
	assert.Equal(t, "odd", string(data))

	deleted, err := c.DeletePath(ctx, "src")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestClientMovePath(t *testing.T) {
	ctx := context.Background()

	t.Run("File", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.WriteFile(ctx, "from.txt", "moving")
		require.NoError(t, err)

		_, err = c.MovePath(ctx, "from.txt", "to.txt")
		require.NoError(t, err)

		exists, _ := c.PathExists(ctx, "from.txt")
		assert.False(t, exists)
		exists, _ = c.PathExists(ctx, "to.txt")
		assert.True(t, exists)
		data, _ := c.ReadEntireFile(ctx, "to.txt")
		assert.Equal(t, "moving", string(data))
	})

	t.Run("Directory", func(t *testing.T) {
		c, _ := newTestClient(t)
		buildTree(t, c)
		_, err := c.MovePath(ctx, "src", "moved")
		require.NoError(t, err)

		_, err = c.GetPath(ctx, "src/sub/c.txt")
		assert.True(t, models.IsNotFound(err))
		data, err := c.ReadEntireFile(ctx, "moved/sub/d/e.txt")
		require.NoError(t, err)
		assert.Equal(t, "eeee", string(data))
	})

	t.Run("MissingSource", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.MovePath(ctx, "ghost", "anywhere")
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("ExistingTarget", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.WriteFile(ctx, "new.txt", "new")
		require.NoError(t, err)
		_, err = c.WriteFile(ctx, "box/new.txt", "old")
		require.NoError(t, err)

		for _, dest := range []string{"box/new.txt", "box"} {
			_, err = c.MovePath(ctx, "new.txt", dest)
			assert.True(t, models.IsBadRequest(err), "dest %s: got %v", dest, err)
		}
		data, err := c.ReadEntireFile(ctx, "new.txt")
		require.NoError(t, err, "source must survive a refused move")
		assert.Equal(t, "new", string(data))

		_, err = c.MovePath(ctx, "new.txt", "box", WithOverwrite(true))
		require.NoError(t, err)
		data, err = c.ReadEntireFile(ctx, "box/new.txt")
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("OntoOwnDirectory", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.WriteFile(ctx, "d/f.txt", "stay")
		require.NoError(t, err)

		_, err = c.MovePath(ctx, "d/f.txt", "d", WithOverwrite(true))
		require.NoError(t, err)
		data, err := c.ReadEntireFile(ctx, "d/f.txt")
		require.NoError(t, err)
		assert.Equal(t, "stay", string(data))
	})
}

func TestClientReadFileStreams(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	_, err := c.WriteFile(ctx, "s.txt", strings.Repeat("x", DefaultChunkSize+1))
	require.NoError(t, err)

	it, err := c.ReadFile(ctx, "s.txt")
	require.NoError(t, err)
	defer it.Close()
	assert.False(t, it.Replayable())

	first, err := it.Next()
	require.NoError(t, err)
	assert.Len(t, first, DefaultChunkSize)
	require.NoError(t, drain(it))
	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientWriteIterator(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	n := 0
	gen := content.FromFunc(func() ([]byte, error) {
		if n == 3 {
			return nil, io.EOF
		}
		n++
		return []byte{byte('0' + n)}, nil
	})
	_, err := c.WriteFile(ctx, "gen.txt", gen)
	require.NoError(t, err)
	data, _ := c.ReadEntireFile(ctx, "gen.txt")
	assert.Equal(t, "123", string(data))
}
