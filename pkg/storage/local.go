package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// LocalConfig holds the local backend settings
type LocalConfig struct {
	// Cwd is the initial working directory (defaults to the process one)
	Cwd string `yaml:"cwd,omitempty"`
	// ChunkSize is the read block size
	ChunkSize int `yaml:"chunk_size,omitempty"`
}

// Local is a filesystem-based storage backend. Calls made with AsUser for
// another account run in a disposable worker process.
type Local struct {
	state
	config LocalConfig
	logger logging.Logger
}

// NewLocal creates a new local filesystem backend
func NewLocal(config LocalConfig, opts ...BackendOption) *Local {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	s := newBackendSettings("local", opts)
	return &Local{config: config, logger: s.logger}
}

// Name returns "local"
func (l *Local) Name() string { return "local" }

// Configure resolves and checks the working directory
func (l *Local) Configure(ctx context.Context) error {
	wd, err := os.Getwd()
	if err != nil {
		return models.Configuration("configure", err, "failed to resolve working directory: %v", err)
	}
	cwd := wd
	if l.config.Cwd != "" {
		cwd = platform.LocalAbs(wd, l.config.Cwd)
	}

	info, err := os.Stat(cwd)
	if err != nil {
		return models.Configuration("configure", err, "failed to access working directory: %v", err)
	}
	if !info.IsDir() {
		return models.Configuration("configure", nil, "working directory is not a directory: %s", cwd)
	}

	l.cwd = filepath.ToSlash(cwd)
	l.configured = true
	l.logger.Debug(ctx, "local backend configured", logging.Fields{"cwd": l.cwd})
	return nil
}

// Cwd returns the working directory
func (s *state) Cwd() string { return s.cwd }

// Close releases resources (no-op for local filesystem)
func (l *Local) Close() error {
	l.configured = false
	return nil
}

// prepare validates the call and reports whether it must run in a worker
func (l *Local) prepare(op, path string, opts []Option) (string, Options, *identity, error) {
	p, err := l.checkPath(op, filepath.ToSlash(path))
	if err != nil {
		return "", Options{}, nil, err
	}
	o := applyOptions(opts)
	id, err := isolationFor(op, p, o.User)
	if err != nil {
		return "", Options{}, nil, err
	}
	return p, o, id, nil
}

// GetPath returns the object at path without following a final link
func (l *Local) GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, o, id, err := l.prepare("getPath", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if id != nil {
		resp, err := l.isolated(ctx, id, workerRequest{Op: opGetPath, Path: p}, o, nil)
		return resp.object(), err
	}
	return l.getPath(p)
}

// ListDirectory returns the entries of a directory
func (l *Local) ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error) {
	p, o, id, err := l.prepare("listDirectory", path, opts)
	if err != nil {
		return nil, err
	}
	if id != nil {
		resp, err := l.isolated(ctx, id, workerRequest{Op: opListDirectory, Path: p}, o, nil)
		return resp.Objects, err
	}
	return l.listDirectory(p)
}

// MakeDirectory creates a directory and its parents
func (l *Local) MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, o, id, err := l.prepare("makeDirectory", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if id != nil {
		resp, err := l.isolated(ctx, id, workerRequest{Op: opMakeDirectory, Path: p}, o, nil)
		return resp.object(), err
	}
	return l.makeDirectory(ctx, p, o)
}

// WriteFile stores contents at path, creating parent directories
func (l *Local) WriteFile(ctx context.Context, path string, contents *content.Iterator, opts ...Option) (models.RemoteObject, error) {
	p, o, id, err := l.prepare("writeFile", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	r, err := writeReader("writeFile", p, contents, o)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if id != nil {
		o.Encoding = ""
		resp, err := l.isolated(ctx, id, workerRequest{Op: opWriteFile, Path: p}, o, r)
		return resp.object(), err
	}
	return l.writeFile(ctx, p, r, o)
}

// ReadFile returns the chunks of a file
func (l *Local) ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error) {
	p, o, id, err := l.prepare("readFile", path, opts)
	if err != nil {
		return nil, err
	}
	if id != nil {
		resp, err := l.isolated(ctx, id, workerRequest{Op: opReadFile, Path: p}, o, nil)
		if err != nil {
			return nil, err
		}
		it := content.FromBytes(resp.Data)
		if o.Text {
			it.MarkText()
		}
		return it, nil
	}
	return l.readFile(p, o)
}

// DeletePath removes a file, link or directory tree
func (l *Local) DeletePath(ctx context.Context, path string, opts ...Option) (bool, error) {
	p, o, id, err := l.prepare("deletePath", path, opts)
	if err != nil {
		return false, err
	}
	if id != nil {
		resp, err := l.isolated(ctx, id, workerRequest{Op: opDeletePath, Path: p}, o, nil)
		return resp.Deleted, err
	}
	return l.deletePath(p)
}

// SetPathPermission changes the permission bits
func (l *Local) SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error) {
	p, o, id, err := l.prepare("setPathPermission", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if id != nil {
		o.Permission = perm
		resp, err := l.isolated(ctx, id, workerRequest{Op: opSetPathPermission, Path: p}, o, nil)
		return resp.object(), err
	}
	return l.setPathPermission(p, perm)
}

// SetPathOwner changes owner and/or group
func (l *Local) SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error) {
	p, o, id, err := l.prepare("setPathOwner", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if id != nil {
		o.Owner, o.Group = owner, group
		resp, err := l.isolated(ctx, id, workerRequest{Op: opSetPathOwner, Path: p}, o, nil)
		return resp.object(), err
	}
	return l.setPathOwner(p, owner, group)
}

// ChangeDirectory sets the working directory
func (l *Local) ChangeDirectory(ctx context.Context, path string) error {
	p, err := l.checkPath("changeDirectory", filepath.ToSlash(path))
	if err != nil {
		return err
	}
	obj, err := l.getPath(p)
	if err != nil {
		return err
	}
	if !obj.IsDir() {
		return models.BadRequest("changeDirectory", p, nil, "changeDirectory: not a directory: %s", p)
	}
	l.cwd = p
	return nil
}

func native(p string) string {
	return filepath.FromSlash(p)
}

func (l *Local) getPath(p string) (models.RemoteObject, error) {
	info, err := os.Lstat(native(p))
	if err != nil {
		return models.RemoteObject{}, translateLocal("getPath", p, err)
	}
	return localObject(p, info)
}

func localObject(p string, info fs.FileInfo) (models.RemoteObject, error) {
	kind := models.KindFile
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		kind = models.KindLink
	case info.IsDir():
		kind = models.KindDirectory
	}

	obj := models.NewObject(kind, p)
	obj.Length = info.Size()
	obj.Permission = models.PermissionFromMode(info.Mode())
	obj.ModificationTime = info.ModTime()
	obj.AccessTime = accessTime(info)
	obj.Owner, obj.Group, obj.Details = ownership(info)

	if kind == models.KindLink {
		target, err := os.Readlink(native(p))
		if err != nil {
			return models.RemoteObject{}, translateLocal("getPath", p, err)
		}
		obj.Reference = filepath.ToSlash(target)
	}
	return obj, nil
}

func (l *Local) listDirectory(p string) ([]models.RemoteObject, error) {
	dir, err := l.getPath(p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, models.BadRequest("listDirectory", p, nil, "listDirectory: not a directory: %s", p)
	}

	entries, err := os.ReadDir(native(p))
	if err != nil {
		return nil, translateLocal("listDirectory", p, err)
	}
	objects := make([]models.RemoteObject, 0, len(entries))
	for _, entry := range entries {
		child := platform.Join(p, entry.Name())
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, translateLocal("listDirectory", child, err)
		}
		obj, err := localObject(child, info)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (l *Local) makeDirectory(ctx context.Context, p string, o Options) (models.RemoteObject, error) {
	obj, err := l.getPath(p)
	switch {
	case err == nil && !obj.IsDir():
		return models.RemoteObject{}, models.BadRequest("makeDirectory", p, nil, "makeDirectory: path exists and is not a directory: %s", p)
	case models.IsNotFound(err):
		if err := os.MkdirAll(native(p), 0755); err != nil {
			return models.RemoteObject{}, translateLocal("makeDirectory", p, err)
		}
		l.logger.Debug(ctx, "created directory", logging.Fields{"path": p})
		if obj, err = l.getPath(p); err != nil {
			return models.RemoteObject{}, err
		}
	case err != nil:
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, l, obj, o, nil)
}

func (l *Local) writeFile(ctx context.Context, p string, r io.Reader, o Options) (models.RemoteObject, error) {
	existing, err := l.getPath(p)
	switch {
	case err == nil && existing.IsDir():
		return models.RemoteObject{}, models.BadRequest("writeFile", p, nil, "writeFile: path is a directory: %s", p)
	case err == nil && !o.Overwrite:
		l.logger.Debug(ctx, "target exists, not overwriting", logging.Fields{"path": p})
		return existing, nil
	case err != nil && !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}

	if err := os.MkdirAll(filepath.Dir(native(p)), 0755); err != nil {
		return models.RemoteObject{}, translateLocal("writeFile", p, err)
	}
	file, err := os.OpenFile(native(p), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return models.RemoteObject{}, translateLocal("writeFile", p, err)
	}
	written, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		return models.RemoteObject{}, translateLocal("writeFile", p, err)
	}
	if err := file.Close(); err != nil {
		return models.RemoteObject{}, translateLocal("writeFile", p, err)
	}
	l.logger.Debug(ctx, "wrote file", logging.Fields{"path": p, "bytes": written})

	obj, err := l.getPath(p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, l, obj, o, nil)
}

func (l *Local) readFile(p string, o Options) (*content.Iterator, error) {
	obj, err := l.getPath(p)
	if err != nil {
		return nil, err
	}
	if obj.IsDir() {
		return nil, models.BadRequest("readFile", p, nil, "readFile: path is a directory: %s", p)
	}
	file, err := os.Open(native(p))
	if err != nil {
		return nil, translateLocal("readFile", p, err)
	}
	return readIterator("readFile", p, file, l.config.ChunkSize, o, func(err error) error {
		return translateLocal("readFile", p, err)
	})
}

func (l *Local) deletePath(p string) (bool, error) {
	if _, err := os.Lstat(native(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, translateLocal("deletePath", p, err)
	}
	if err := os.RemoveAll(native(p)); err != nil {
		return false, translateLocal("deletePath", p, err)
	}
	return true, nil
}

func (l *Local) setPathPermission(p string, perm models.Permission) (models.RemoteObject, error) {
	mode, err := perm.FileMode()
	if err != nil {
		return models.RemoteObject{}, models.BadRequest("setPathPermission", p, err, "%v", err)
	}
	if err := os.Chmod(native(p), mode); err != nil {
		return models.RemoteObject{}, translateLocal("setPathPermission", p, err)
	}
	return l.getPath(p)
}

func (l *Local) setPathOwner(p, owner, group string) (models.RemoteObject, error) {
	if owner == "" && group == "" {
		return models.RemoteObject{}, models.BadRequest("setPathOwner", p, nil, "setPathOwner: owner or group is required")
	}
	uid, gid, err := resolveIDs("setPathOwner", p, owner, group)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if err := os.Lchown(native(p), uid, gid); err != nil {
		return models.RemoteObject{}, translateLocal("setPathOwner", p, err)
	}
	return l.getPath(p)
}

// translateLocal maps an OS error onto the error taxonomy
func translateLocal(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if models.IsCoded(err) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return models.NotFound(op, p, err)
	case errors.Is(err, fs.ErrPermission):
		return models.PermissionDenied(op, p, err)
	case errors.Is(err, syscall.ENOTDIR):
		return models.BadRequest(op, p, err, "%s: not a directory: %s", op, p)
	case errors.Is(err, syscall.EISDIR):
		return models.BadRequest(op, p, err, "%s: is a directory: %s", op, p)
	default:
		return models.BadRequest(op, p, err, "%s failed: %v", op, err)
	}
}
