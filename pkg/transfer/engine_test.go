package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/ratelimit"
	"github.com/sdejongh/remotefs/pkg/storage"
)

func newClient(t *testing.T) (*storage.Client, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	local := storage.NewLocal(storage.LocalConfig{Cwd: dir})
	require.NoError(t, local.Configure(context.Background()))
	t.Cleanup(func() { local.Close() })
	return storage.NewClient(local), dir
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

func operation(action models.Action, src, dest string) *models.TransferOperation {
	return &models.TransferOperation{
		ID:         uuid.NewString(),
		Action:     action,
		SourcePath: src,
		DestPath:   dest,
		Overwrite:  true,
		ChunkSize:  storage.DefaultChunkSize,
	}
}

type recorder struct {
	started []string
	done    []string
	last    map[string]int64
}

func (r *recorder) Start(p string, total int64) { r.started = append(r.started, p) }
func (r *recorder) Update(p string, current int64) {
	if r.last == nil {
		r.last = map[string]int64{}
	}
	r.last[p] = current
}
func (r *recorder) Done(p string, err error) {
	if err == nil {
		r.done = append(r.done, p)
	}
}

func TestEngineCopyAcrossClients(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{
		"tree/a.txt":         "alpha",
		"tree/sub/b.txt":     "bravo",
		"tree/sub/skip.tmp":  "junk",
		"tree/.git/config":   "x",
		"tree/sub/deep/c.go": "package c",
	})

	rec := &recorder{}
	e := NewEngine(src, dst, nil, Options{Exclude: []string{"*.tmp", ".git/"}, Progress: rec})
	op := operation(models.ActionCopy, "tree", "copy")
	op.Verify = true

	report, err := e.Run(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, report.Status)
	assert.True(t, report.Verified)
	assert.Equal(t, 3, report.FilesTransferred)
	assert.Equal(t, 2, report.FilesExcluded)
	assert.Equal(t, int64(len("alpha")+len("bravo")+len("package c")), report.BytesTransferred)
	assert.Len(t, rec.done, 3)
	assert.Equal(t, int64(5), rec.last[srcDir+"/tree/a.txt"])

	data, err := os.ReadFile(filepath.Join(dstDir, "copy", "sub", "deep", "c.go"))
	require.NoError(t, err)
	assert.Equal(t, "package c", string(data))
	_, err = os.Stat(filepath.Join(dstDir, "copy", "sub", "skip.tmp"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dstDir, "copy", ".git"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngineFileOntoDirectory(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{"report.csv": "1,2,3"})
	require.NoError(t, os.Mkdir(filepath.Join(dstDir, "inbox"), 0o755))

	op := operation(models.ActionUpload, "report.csv", "inbox")
	op.Verify = true
	report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, op)
	require.NoError(t, err)
	require.NotNil(t, report.Result)
	assert.Equal(t, dstDir+"/inbox/report.csv", report.Result.Path)
	sum := md5.Sum([]byte("1,2,3"))
	assert.Equal(t, hex.EncodeToString(sum[:]), report.Checksum)
}

func TestEngineMove(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{"dir/x": "x", "dir/y": "y"})

	report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, operation(models.ActionMove, "dir", "moved"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesTransferred)

	_, err = os.Stat(filepath.Join(srcDir, "dir"))
	assert.True(t, os.IsNotExist(err), "source should be gone after move")
	data, err := os.ReadFile(filepath.Join(dstDir, "moved", "y"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
}

func TestEngineLinksKeepTheirName(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{"site/releases/v1.txt": "release one"})
	require.NoError(t, os.Symlink("releases/v1.txt", filepath.Join(srcDir, "site", "current")))

	op := operation(models.ActionCopy, "site", "out")
	op.Verify = true
	report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, report.Status)
	assert.Equal(t, 2, report.FilesTransferred)

	data, err := os.ReadFile(filepath.Join(dstDir, "out", "current"))
	require.NoError(t, err)
	assert.Equal(t, "release one", string(data))
	_, err = os.Stat(filepath.Join(dstDir, "out", "v1.txt"))
	assert.True(t, os.IsNotExist(err), "link target name must not appear at the destination root")
}

func TestEngineNoClobber(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{"dir/keep": "new keep", "dir/fresh": "fresh"})
	writeTree(t, dstDir, map[string]string{"moved/keep": "old keep"})

	t.Run("Copy", func(t *testing.T) {
		op := operation(models.ActionCopy, "dir", "moved")
		op.Overwrite = false
		op.Verify = true
		report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, op)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, report.Status)
		assert.Equal(t, 1, report.FilesTransferred)
		assert.Equal(t, 1, report.FilesSkipped)

		data, err := os.ReadFile(filepath.Join(dstDir, "moved", "keep"))
		require.NoError(t, err)
		assert.Equal(t, "old keep", string(data))
	})

	t.Run("MoveKeepsSource", func(t *testing.T) {
		op := operation(models.ActionMove, "dir", "moved")
		op.Overwrite = false
		report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, op)
		require.NoError(t, err)
		assert.Equal(t, 2, report.FilesSkipped)

		data, err := os.ReadFile(filepath.Join(srcDir, "dir", "keep"))
		require.NoError(t, err, "source must survive a move that skipped files")
		assert.Equal(t, "new keep", string(data))
	})
}

func TestEngineSameClient(t *testing.T) {
	ctx := context.Background()
	c, dir := newClient(t)
	writeTree(t, dir, map[string]string{"d/f": "f"})

	_, err := NewEngine(c, c, nil, Options{}).Run(ctx, operation(models.ActionCopy, "d", "d/inner"))
	assert.True(t, models.IsBadRequest(err), "got %v", err)

	report, err := NewEngine(c, c, nil, Options{}).Run(ctx, operation(models.ActionCopy, "d/f", "d/f"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesTransferred)
}

func TestEngineAppend(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, dstDir := newClient(t)
	writeTree(t, srcDir, map[string]string{"tail.log": "two\n"})
	writeTree(t, dstDir, map[string]string{"all.log": "one\n"})

	report, err := NewEngine(src, dst, nil, Options{}).Run(ctx, operation(models.ActionAppend, "tail.log", "all.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.BytesTransferred)
	data, err := os.ReadFile(filepath.Join(dstDir, "all.log"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestEngineDelete(t *testing.T) {
	ctx := context.Background()
	c, dir := newClient(t)
	writeTree(t, dir, map[string]string{"gone/a": "a"})

	op := operation(models.ActionDelete, "gone", "")
	report, err := NewEngine(c, nil, nil, Options{}).Run(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, report.Status)
	_, err = os.Stat(filepath.Join(dir, "gone"))
	assert.True(t, os.IsNotExist(err))

	report, err = NewEngine(c, nil, nil, Options{}).Run(ctx, op)
	assert.True(t, models.IsNotFound(err), "got %v", err)
	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Equal(t, 2, report.Status.ExitCode())
}

type alwaysDifferent struct{}

func (alwaysDifferent) Name() string { return "never" }
func (alwaysDifferent) Compare(ctx context.Context, source, dest *storage.Client, s, d string) (*compare.Comparison, error) {
	return &compare.Comparison{SourcePath: s, DestPath: d, Result: compare.Different, Reason: "forced"}, nil
}

func TestEngineVerifyMismatch(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newClient(t)
	dst, _ := newClient(t)
	writeTree(t, srcDir, map[string]string{"m/a": "a"})

	op := operation(models.ActionMove, "m", "m")
	op.Verify = true
	report, err := NewEngine(src, dst, nil, Options{Verifier: alwaysDifferent{}}).Run(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMismatch, report.Status)
	assert.False(t, report.Verified)
	require.Len(t, report.Mismatches, 1)
	assert.True(t, strings.HasSuffix(report.Mismatches[0], "/m/a"))

	// A failed verification keeps the source of a move
	_, err = os.Stat(filepath.Join(srcDir, "m", "a"))
	assert.NoError(t, err)
}

func TestEngineRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src, srcDir := newClient(t)
	dst, _ := newClient(t)
	writeTree(t, srcDir, map[string]string{"big": strings.Repeat("z", 256*1024)})

	cancel()
	_, err := NewEngine(src, dst, nil, Options{Limiter: ratelimit.NewLimiter(1024)}).Run(ctx, operation(models.ActionCopy, "big", "big"))
	assert.Error(t, err)
}

func TestEngineInvalidOperation(t *testing.T) {
	c, _ := newClient(t)
	_, err := NewEngine(c, c, nil, Options{}).Run(context.Background(), &models.TransferOperation{Action: models.ActionCopy})
	assert.Error(t, err)
}
