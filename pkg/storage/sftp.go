package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// SFTP is a storage backend over an SSH connection. Owners and groups are
// reported as the numeric ids the protocol carries.
type SFTP struct {
	state
	config SFTPConfig
	logger logging.Logger

	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTP creates an unconfigured SFTP backend
func NewSFTP(config SFTPConfig, opts ...BackendOption) *SFTP {
	if config.Port == 0 {
		config.Port = DefaultSFTPPort
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	s := newBackendSettings("sftp", opts)
	return &SFTP{config: config, logger: s.logger}
}

// Name returns "sftp"
func (s *SFTP) Name() string { return "sftp" }

// Configure dials the server and opens the SFTP subsystem
func (s *SFTP) Configure(ctx context.Context) error {
	if s.client != nil {
		s.Close()
	}
	cfg, release, err := s.config.clientConfig(ctx, s.logger)
	if err != nil {
		return err
	}
	defer release()

	addr := s.config.address()
	sshc, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return models.Authentication("configure", err, "ssh dial %s: %v", addr, err)
	}
	client, err := sftp.NewClient(sshc)
	if err != nil {
		sshc.Close()
		return models.Authentication("configure", err, "sftp session on %s: %v", addr, err)
	}
	s.ssh, s.client = sshc, client

	cwd := s.config.Cwd
	if cwd == "" {
		if cwd, err = client.Getwd(); err != nil {
			s.Close()
			return models.Configuration("configure", err, "failed to resolve working directory: %v", err)
		}
	}
	s.cwd = platform.Abs("/", cwd)
	s.configured = true
	s.logger.Debug(ctx, "sftp backend configured", logging.Fields{"address": addr, "cwd": s.cwd})
	return nil
}

// Close ends the SFTP session and the SSH connection
func (s *SFTP) Close() error {
	s.configured = false
	if s.client == nil {
		return nil
	}
	s.client.Close()
	err := s.ssh.Close()
	s.client, s.ssh = nil, nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug(context.Background(), "closing ssh connection", logging.Fields{"error": err.Error()})
	}
	return nil
}

func (s *SFTP) begin(op, path string, opts []Option) (string, Options, error) {
	p, err := s.checkPath(op, path)
	if err != nil {
		return "", Options{}, err
	}
	o := applyOptions(opts)
	if err := rejectUser(op, p, o); err != nil {
		return "", Options{}, err
	}
	return p, o, nil
}

// GetPath returns the object at path without following a final link
func (s *SFTP) GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, _, err := s.begin("getPath", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return s.stat("getPath", p)
}

// ListDirectory returns the entries of a directory
func (s *SFTP) ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error) {
	p, _, err := s.begin("listDirectory", path, opts)
	if err != nil {
		return nil, err
	}
	dir, err := s.stat("listDirectory", p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, models.BadRequest("listDirectory", p, nil, "listDirectory: not a directory: %s", p)
	}
	return s.list("listDirectory", p)
}

// MakeDirectory creates a directory and its parents
func (s *SFTP) MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	const op = "makeDirectory"
	p, o, err := s.begin(op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	obj, err := s.stat(op, p)
	switch {
	case err == nil && !obj.IsDir():
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "makeDirectory: path exists and is not a directory: %s", p)
	case models.IsNotFound(err):
		if err := s.client.MkdirAll(p); err != nil {
			return models.RemoteObject{}, translateSFTP(op, p, err)
		}
		s.logger.Debug(ctx, "created directory", logging.Fields{"path": p})
		if obj, err = s.stat(op, p); err != nil {
			return models.RemoteObject{}, err
		}
	case err != nil:
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, s, obj, o, nil)
}

// WriteFile stores contents at path, creating parent directories
func (s *SFTP) WriteFile(ctx context.Context, path string, contents *content.Iterator, opts ...Option) (models.RemoteObject, error) {
	const op = "writeFile"
	p, o, err := s.begin(op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	r, err := writeReader(op, p, contents, o)
	if err != nil {
		return models.RemoteObject{}, err
	}

	existing, err := s.stat(op, p)
	switch {
	case err == nil && existing.IsDir():
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "writeFile: path is a directory: %s", p)
	case err == nil && !o.Overwrite:
		s.logger.Debug(ctx, "target exists, not overwriting", logging.Fields{"path": p})
		return existing, nil
	case err != nil && !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}

	if err := s.client.MkdirAll(platform.Dir(p)); err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	file, err := s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	written, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	if err := file.Close(); err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	s.logger.Debug(ctx, "wrote file", logging.Fields{"path": p, "bytes": written})

	obj, err := s.stat(op, p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, s, obj, o, nil)
}

// ReadFile returns the chunks of a file. Text reads extend a chunk by up to
// seven bytes when it ends inside a character.
func (s *SFTP) ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error) {
	const op = "readFile"
	p, o, err := s.begin(op, path, opts)
	if err != nil {
		return nil, err
	}
	obj, err := s.stat(op, p)
	if err != nil {
		return nil, err
	}
	if obj.IsDir() {
		return nil, models.BadRequest(op, p, nil, "readFile: path is a directory: %s", p)
	}
	file, err := s.client.Open(p)
	if err != nil {
		return nil, translateSFTP(op, p, err)
	}
	return readIterator(op, p, file, s.config.ChunkSize, o, func(err error) error {
		return translateSFTP(op, p, err)
	})
}

// DeletePath removes a file, link or directory tree
func (s *SFTP) DeletePath(ctx context.Context, path string, opts ...Option) (bool, error) {
	p, _, err := s.begin("deletePath", path, opts)
	if err != nil {
		return false, err
	}
	obj, err := s.stat("deletePath", p)
	if models.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.remove(obj); err != nil {
		return false, err
	}
	s.logger.Debug(ctx, "deleted path", logging.Fields{"path": p})
	return true, nil
}

// SetPathPermission changes the permission bits
func (s *SFTP) SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error) {
	const op = "setPathPermission"
	p, _, err := s.begin(op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	mode, err := perm.FileMode()
	if err != nil {
		return models.RemoteObject{}, models.BadRequest(op, p, err, "%v", err)
	}
	if err := s.client.Chmod(p, mode); err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	return s.stat(op, p)
}

// SetPathOwner changes owner and/or group. Names are resolved with getent
// on the server.
func (s *SFTP) SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error) {
	const op = "setPathOwner"
	p, _, err := s.begin(op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if owner == "" && group == "" {
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "setPathOwner: owner or group is required")
	}
	current, err := s.stat(op, p)
	if err != nil {
		return models.RemoteObject{}, err
	}

	uid, _ := strconv.Atoi(current.Detail("uid"))
	gid, _ := strconv.Atoi(current.Detail("gid"))
	if owner != "" {
		if uid, err = s.resolveUID(ctx, op, p, owner); err != nil {
			return models.RemoteObject{}, err
		}
	}
	if group != "" {
		if gid, err = s.resolveGID(ctx, op, p, group); err != nil {
			return models.RemoteObject{}, err
		}
	}
	if err := s.client.Chown(p, uid, gid); err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	return s.stat(op, p)
}

// ChangeDirectory sets the working directory
func (s *SFTP) ChangeDirectory(ctx context.Context, path string) error {
	p, _, err := s.begin("changeDirectory", path, nil)
	if err != nil {
		return err
	}
	obj, err := s.stat("changeDirectory", p)
	if err != nil {
		return err
	}
	if !obj.IsDir() {
		return models.BadRequest("changeDirectory", p, nil, "changeDirectory: not a directory: %s", p)
	}
	s.cwd = p
	return nil
}

func (s *SFTP) stat(op, p string) (models.RemoteObject, error) {
	info, err := s.client.Lstat(p)
	if err != nil {
		return models.RemoteObject{}, translateSFTP(op, p, err)
	}
	return s.object(op, p, info)
}

func (s *SFTP) object(op, p string, info fs.FileInfo) (models.RemoteObject, error) {
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
	if st, ok := info.Sys().(*sftp.FileStat); ok {
		obj.AccessTime = time.Unix(int64(st.Atime), 0)
		obj.Owner = strconv.FormatUint(uint64(st.UID), 10)
		obj.Group = strconv.FormatUint(uint64(st.GID), 10)
		obj.Details = map[string]string{"uid": obj.Owner, "gid": obj.Group}
	}

	if kind == models.KindLink {
		target, err := s.client.ReadLink(p)
		if err != nil {
			return models.RemoteObject{}, translateSFTP(op, p, err)
		}
		obj.Reference = target
	}
	return obj, nil
}

func (s *SFTP) list(op, p string) ([]models.RemoteObject, error) {
	infos, err := s.client.ReadDir(p)
	if err != nil {
		return nil, translateSFTP(op, p, err)
	}
	objects := make([]models.RemoteObject, 0, len(infos))
	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		obj, err := s.object(op, platform.Join(p, info.Name()), info)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (s *SFTP) remove(obj models.RemoteObject) error {
	if !obj.IsDir() {
		if err := s.client.Remove(obj.Path); err != nil {
			return translateSFTP("deletePath", obj.Path, err)
		}
		return nil
	}
	children, err := s.list("deletePath", obj.Path)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.remove(child); err != nil {
			return err
		}
	}
	if err := s.client.RemoveDirectory(obj.Path); err != nil {
		return translateSFTP("deletePath", obj.Path, err)
	}
	return nil
}

// translateSFTP maps SFTP status codes and normalized errors to the
// storage error codes
func translateSFTP(op, p string, err error) error {
	if models.IsCoded(err) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return models.NotFound(op, p, err)
	case errors.Is(err, fs.ErrPermission):
		return models.PermissionDenied(op, p, err)
	}
	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return models.NotFound(op, p, err)
		case sftp.ErrSSHFxPermissionDenied:
			return models.PermissionDenied(op, p, err)
		}
	}
	return models.BadRequest(op, p, err, "%s: %v", op, err)
}
