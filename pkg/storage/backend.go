package storage

import (
	"context"
	"io"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// DefaultChunkSize is the transfer block size used when a backend config
// leaves it unset
const DefaultChunkSize = content.DefaultChunkSize

// Backend defines the primitive operations every storage variant implements.
// Paths are slash separated; relative paths resolve against Cwd.
// Implementations include local filesystem, FTP(S), SFTP and MinIO.
//
// Every error returned carries one of the codes in pkg/models.
type Backend interface {
	// Name identifies the backend variant ("local", "ftp", ...)
	Name() string

	// Configure opens the connection. Every other operation except Close
	// fails with a Configuration error until it succeeds.
	Configure(ctx context.Context) error

	// GetPath returns the object at path; NotFound if absent
	GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error)

	// ListDirectory returns the entries of a directory; BadRequest if path is not one
	ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error)

	// MakeDirectory creates a directory and its parents
	MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error)

	// WriteFile stores contents at path. Without WithOverwrite an existing
	// target is returned untouched.
	WriteFile(ctx context.Context, path string, contents *content.Iterator, opts ...Option) (models.RemoteObject, error)

	// ReadFile returns a lazy chunk sequence; the caller must Close it
	ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error)

	// DeletePath removes a file, link or directory tree. It reports false
	// when there was nothing to delete.
	DeletePath(ctx context.Context, path string, opts ...Option) (bool, error)

	// SetPathPermission changes the permission bits
	SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error)

	// SetPathOwner changes owner and/or group; BadRequest if both are empty
	SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error)

	// ChangeDirectory sets the working directory
	ChangeDirectory(ctx context.Context, path string) error

	// Cwd returns the working directory
	Cwd() string

	// Close releases the connection
	Close() error
}

// BackendOption configures a backend at construction
type BackendOption func(*backendSettings)

type backendSettings struct {
	logger logging.Logger
}

// WithLogger sets the logger a backend reports wire activity to
func WithLogger(logger logging.Logger) BackendOption {
	return func(s *backendSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newBackendSettings(name string, opts []BackendOption) backendSettings {
	s := backendSettings{logger: logging.NewNullLogger()}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.WithFields(logging.Fields{"backend": name})
	return s
}

// state tracks the Unconfigured/Configured lifecycle and the working
// directory shared by every remote backend.
type state struct {
	configured bool
	cwd        string
}

func (s *state) require(op string) error {
	if !s.configured {
		return models.Configuration(op, nil, "%s: backend is not configured", op)
	}
	return nil
}

func (s *state) abs(p string) string {
	return platform.Abs(s.cwd, p)
}

// checkPath validates p and resolves it against the working directory.
func (s *state) checkPath(op, p string) (string, error) {
	if err := s.require(op); err != nil {
		return "", err
	}
	if err := platform.ValidatePath(p); err != nil {
		return "", models.BadRequest(op, p, err, "%v", err)
	}
	return s.abs(p), nil
}

// applyAttributes sets the permission, owner and group requested in o on an
// object that was just created, skipping values it already has.
func applyAttributes(ctx context.Context, b Backend, obj models.RemoteObject, o Options, opts []Option) (models.RemoteObject, error) {
	var err error
	if o.Permission.IsSet() && o.Permission != obj.Permission {
		obj, err = b.SetPathPermission(ctx, obj.Path, o.Permission, opts...)
		if err != nil {
			return models.RemoteObject{}, err
		}
	}
	owner, group := o.Owner, o.Group
	if owner == obj.Owner || owner == obj.Detail("uid") {
		owner = ""
	}
	if group == obj.Group || group == obj.Detail("gid") {
		group = ""
	}
	if owner != "" || group != "" {
		obj, err = b.SetPathOwner(ctx, obj.Path, owner, group, opts...)
		if err != nil {
			return models.RemoteObject{}, err
		}
	}
	return obj, nil
}

// readIterator wraps a read handle according to the text and encoding
// options, translating decode failures to BadRequest.
func readIterator(op, path string, rc io.ReadCloser, chunkSize int, o Options, translate func(error) error) (*content.Iterator, error) {
	if !o.Text && o.Encoding == "" {
		return content.FromReader(rc, chunkSize).MapErrors(translate), nil
	}
	r, err := content.Decoder(rc, o.Encoding)
	if err != nil {
		rc.Close()
		return nil, models.BadRequest(op, path, err, "%v", err)
	}
	it := content.FromTextReader(r, chunkSize).MapErrors(func(err error) error {
		if content.IsDecodeError(err) {
			return models.BadRequest(op, path, err, "failed to decode text: %v", err)
		}
		return translate(err)
	})
	if r != io.Reader(rc) {
		it.WithCloser(rc)
	}
	return it, nil
}

// writeReader returns the bytes to store for contents, encoded to the
// requested charset when one is set.
func writeReader(op, path string, contents *content.Iterator, o Options) (io.Reader, error) {
	r := contents.Reader()
	if o.Encoding == "" {
		return r, nil
	}
	enc, err := content.Encoder(r, o.Encoding)
	if err != nil {
		return nil, models.BadRequest(op, path, err, "%v", err)
	}
	return enc, nil
}
