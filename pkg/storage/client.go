package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// MaxLinkHops bounds how many links CopyPath follows before giving up
const MaxLinkHops = 40

// Client implements the composite operations on top of a single backend.
// It is not safe for concurrent use; neither is the backend it wraps.
type Client struct {
	backend    Backend
	logger     logging.Logger
	legacyCopy bool
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger for composite operations
func WithClientLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLegacyDirectoryCopy makes CopyPath copy only the first entry of a
// directory, as older releases did.
func WithLegacyDirectoryCopy() ClientOption {
	return func(c *Client) { c.legacyCopy = true }
}

// NewClient wraps a backend
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{backend: backend, logger: logging.NewNullLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the wrapped backend
func (c *Client) Backend() Backend { return c.backend }

// Configure opens the backend connection
func (c *Client) Configure(ctx context.Context) error { return c.backend.Configure(ctx) }

// Close releases the backend connection
func (c *Client) Close() error { return c.backend.Close() }

// Cwd returns the working directory
func (c *Client) Cwd() string { return c.backend.Cwd() }

// ChangeDirectory sets the working directory
func (c *Client) ChangeDirectory(ctx context.Context, path string) error {
	return c.backend.ChangeDirectory(ctx, path)
}

// GetPath returns the object at path
func (c *Client) GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	return c.backend.GetPath(ctx, path, opts...)
}

// ListDirectory returns the entries of a directory
func (c *Client) ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error) {
	return c.backend.ListDirectory(ctx, path, opts...)
}

// MakeDirectory creates a directory
func (c *Client) MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	return c.backend.MakeDirectory(ctx, path, opts...)
}

// WriteFile stores contents, which may be a string, []byte, io.Reader,
// generator or *content.Iterator
func (c *Client) WriteFile(ctx context.Context, path string, contents any, opts ...Option) (models.RemoteObject, error) {
	it := content.New(contents)
	defer it.Close()
	return c.backend.WriteFile(ctx, path, it, opts...)
}

// ReadFile returns the chunks of a file
func (c *Client) ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error) {
	return c.backend.ReadFile(ctx, path, opts...)
}

// DeletePath removes a path
func (c *Client) DeletePath(ctx context.Context, path string, opts ...Option) (bool, error) {
	return c.backend.DeletePath(ctx, path, opts...)
}

// SetPathPermission changes permission bits
func (c *Client) SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error) {
	return c.backend.SetPathPermission(ctx, path, perm, opts...)
}

// SetPathOwner changes owner and group
func (c *Client) SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error) {
	return c.backend.SetPathOwner(ctx, path, owner, group, opts...)
}

// AbsPath returns path unchanged if absolute, else joined under the
// working directory
func (c *Client) AbsPath(path string) string {
	if platform.IsAbsolute(path) {
		return path
	}
	return platform.Abs(c.backend.Cwd(), path)
}

// abs is AbsPath in the cleaned form backends report object paths in
func (c *Client) abs(path string) string {
	return platform.Abs(c.backend.Cwd(), path)
}

// AppendFile writes the existing contents of path followed by contents.
// A missing file counts as empty.
func (c *Client) AppendFile(ctx context.Context, path string, contents any, opts ...Option) (models.RemoteObject, error) {
	existing, err := c.ReadEntireFile(ctx, path, opts...)
	switch {
	case models.IsNotFound(err):
		existing = nil
	case err != nil:
		return models.RemoteObject{}, err
	}

	tail := content.New(contents)
	defer tail.Close()

	head := true
	merged := content.FromFunc(func() ([]byte, error) {
		if head {
			head = false
			if len(existing) > 0 {
				return existing, nil
			}
		}
		return tail.Next()
	})
	if tail.Text() {
		merged.MarkText()
	}

	c.logger.Debug(ctx, "appending to file", logging.Fields{"path": path, "existing_bytes": len(existing)})
	return c.backend.WriteFile(ctx, path, merged, append(opts, WithOverwrite(true))...)
}

// ReadEntireFile drains ReadFile into one buffer
func (c *Client) ReadEntireFile(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	it, err := c.backend.ReadFile(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return it.ReadAll()
}

// ReadEntireText drains ReadFile as text
func (c *Client) ReadEntireText(ctx context.Context, path string, opts ...Option) (string, error) {
	data, err := c.ReadEntireFile(ctx, path, append(opts, AsText())...)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ChecksumFile computes the MD5 of a file one chunk at a time and returns it
// as lowercase hex
func (c *Client) ChecksumFile(ctx context.Context, path string, opts ...Option) (string, error) {
	it, err := c.backend.ReadFile(ctx, path, opts...)
	if err != nil {
		return "", err
	}
	defer it.Close()

	hash := md5.New()
	for chunk, err := range it.All() {
		if err != nil {
			return "", err
		}
		hash.Write(chunk)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// CopyPath copies src to dest on the same backend. Links are followed,
// directories are copied recursively and a file copied onto a directory
// lands inside it.
func (c *Client) CopyPath(ctx context.Context, src, dest string, opts ...Option) (models.RemoteObject, error) {
	obj, err := c.Resolve(ctx, src, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}

	dest = c.abs(dest)
	if obj.IsDir() {
		return c.copyDirectory(ctx, obj, dest, opts)
	}
	return c.copyFile(ctx, obj, dest, opts)
}

// Resolve returns the object at path with links followed to their target
func (c *Client) Resolve(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	obj, err := c.backend.GetPath(ctx, path, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return c.followLinks(ctx, obj, opts)
}

func (c *Client) followLinks(ctx context.Context, obj models.RemoteObject, opts []Option) (models.RemoteObject, error) {
	start := obj.Path
	for hops := 0; obj.IsLink(); hops++ {
		if hops == MaxLinkHops {
			return models.RemoteObject{}, models.BadRequest("copyPath", start, nil, "copyPath: too many levels of symbolic links: %s", start)
		}
		target := platform.Resolve(obj.Path, obj.Reference)
		c.logger.Debug(ctx, "following link", logging.Fields{"link": obj.Path, "target": target})

		var err error
		obj, err = c.backend.GetPath(ctx, target, opts...)
		if err != nil {
			return models.RemoteObject{}, err
		}
	}
	return obj, nil
}

func (c *Client) copyDirectory(ctx context.Context, src models.RemoteObject, dest string, opts []Option) (models.RemoteObject, error) {
	if dest == src.Path || strings.HasPrefix(dest, strings.TrimSuffix(src.Path, "/")+"/") {
		return models.RemoteObject{}, models.BadRequest("copyPath", dest, nil, "copyPath: cannot copy directory %s into itself", src.Path)
	}

	dir, err := c.backend.MakeDirectory(ctx, dest, append(opts, attributeOptions(src)...)...)
	if err != nil {
		return models.RemoteObject{}, err
	}

	children, err := c.backend.ListDirectory(ctx, src.Path, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}
	for _, child := range children {
		target := platform.Join(dest, child.Basename())
		if _, err := c.CopyPath(ctx, child.Path, target, opts...); err != nil {
			return models.RemoteObject{}, err
		}
		if c.legacyCopy {
			break
		}
	}
	return dir, nil
}

func (c *Client) copyFile(ctx context.Context, src models.RemoteObject, dest string, opts []Option) (models.RemoteObject, error) {
	existing, err := c.backend.GetPath(ctx, dest, opts...)
	switch {
	case err == nil && existing.IsDir():
		dest = platform.Join(dest, src.Basename())
	case err != nil && !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}
	if dest == src.Path {
		return src, nil
	}

	it, err := c.backend.ReadFile(ctx, src.Path, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}
	defer it.Close()

	c.logger.Debug(ctx, "copying file", logging.Fields{"src": src.Path, "dest": dest})
	return c.backend.WriteFile(ctx, dest, it, append(opts, attributeOptions(src)...)...)
}

// MovePath copies src to dest then deletes src. Without WithOverwrite an
// existing target fails with BadRequest and src is left in place.
func (c *Client) MovePath(ctx context.Context, src, dest string, opts ...Option) (models.RemoteObject, error) {
	obj, err := c.backend.GetPath(ctx, src, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}
	target, exists, err := c.moveTarget(ctx, obj, dest, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if target == obj.Path {
		return obj, nil
	}
	if exists && !applyOptions(opts).Overwrite {
		return models.RemoteObject{}, models.BadRequest("movePath", target, nil, "movePath: destination exists: %s", target)
	}

	moved, err := c.CopyPath(ctx, src, dest, opts...)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if _, err := c.backend.DeletePath(ctx, obj.Path, opts...); err != nil {
		return models.RemoteObject{}, err
	}
	return moved, nil
}

// moveTarget returns where CopyPath would put src and whether something
// already exists there
func (c *Client) moveTarget(ctx context.Context, src models.RemoteObject, dest string, opts []Option) (string, bool, error) {
	target := c.abs(dest)
	if target == src.Path {
		return target, true, nil
	}
	resolved, err := c.followLinks(ctx, src, opts)
	if err != nil {
		return "", false, err
	}
	existing, err := c.backend.GetPath(ctx, target, opts...)
	switch {
	case models.IsNotFound(err):
		return target, false, nil
	case err != nil:
		return "", false, err
	case !existing.IsDir() || resolved.IsDir():
		return target, true, nil
	}

	target = platform.Join(target, resolved.Basename())
	if target == src.Path || target == resolved.Path {
		return src.Path, true, nil
	}
	_, err = c.backend.GetPath(ctx, target, opts...)
	switch {
	case models.IsNotFound(err):
		return target, false, nil
	case err != nil:
		return "", false, err
	}
	return target, true, nil
}

// PathExists reports whether path exists. It is the only predicate that
// turns NotFound into false.
func (c *Client) PathExists(ctx context.Context, path string, opts ...Option) (bool, error) {
	_, err := c.backend.GetPath(ctx, path, opts...)
	if models.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// PathIsFile reports whether path is a regular file
func (c *Client) PathIsFile(ctx context.Context, path string, opts ...Option) (bool, error) {
	return c.pathIs(ctx, path, models.KindFile, opts)
}

// PathIsDirectory reports whether path is a directory
func (c *Client) PathIsDirectory(ctx context.Context, path string, opts ...Option) (bool, error) {
	return c.pathIs(ctx, path, models.KindDirectory, opts)
}

// PathIsLink reports whether path is a symbolic link
func (c *Client) PathIsLink(ctx context.Context, path string, opts ...Option) (bool, error) {
	return c.pathIs(ctx, path, models.KindLink, opts)
}

func (c *Client) pathIs(ctx context.Context, path string, kind models.Kind, opts []Option) (bool, error) {
	obj, err := c.backend.GetPath(ctx, path, opts...)
	if err != nil {
		return false, err
	}
	return obj.Kind == kind, nil
}
