package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// DefaultPartSize is the multipart chunk used for uploads of unknown length
const DefaultPartSize = 16 << 20

// MinIOConfig holds the object storage backend settings
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	// Prefix namespaces every key, like a chroot
	Prefix    string `yaml:"prefix,omitempty"`
	ChunkSize int    `yaml:"chunk_size,omitempty"`
	PartSize  uint64 `yaml:"part_size,omitempty"`
}

// MinIO is a storage backend over an S3-compatible bucket. Directories are
// key prefixes, made visible by zero-length "dir/" marker objects.
// Objects have no permission, owner or group.
type MinIO struct {
	state
	config MinIOConfig
	logger logging.Logger
	client *minio.Client
}

// NewMinIO creates an unconfigured object storage backend
func NewMinIO(config MinIOConfig, opts ...BackendOption) *MinIO {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.PartSize == 0 {
		config.PartSize = DefaultPartSize
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	s := newBackendSettings("minio", opts)
	return &MinIO{config: config, logger: s.logger}
}

// Name returns "minio"
func (m *MinIO) Name() string { return "minio" }

// Configure creates the client and checks the bucket
func (m *MinIO) Configure(ctx context.Context) error {
	if m.config.Endpoint == "" {
		return models.Configuration("configure", nil, "minio: endpoint is required")
	}
	if m.config.Bucket == "" {
		return models.Configuration("configure", nil, "minio: bucket is required")
	}
	client, err := minio.New(m.config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.config.AccessKey, m.config.SecretKey, ""),
		Secure: m.config.UseSSL,
		Region: m.config.Region,
	})
	if err != nil {
		return models.Configuration("configure", err, "failed to create minio client: %v", err)
	}
	exists, err := client.BucketExists(ctx, m.config.Bucket)
	if err != nil {
		if e := translateMinio("configure", m.config.Bucket, err); models.IsPermissionDenied(e) || models.IsAuthentication(e) {
			return e
		}
		return models.Authentication("configure", err, "minio %s: %v", m.config.Endpoint, err)
	}
	if !exists {
		return models.Configuration("configure", nil, "minio: bucket %q does not exist", m.config.Bucket)
	}

	m.client = client
	m.cwd = "/"
	m.configured = true
	m.logger.Debug(ctx, "minio backend configured", logging.Fields{"endpoint": m.config.Endpoint, "bucket": m.config.Bucket})
	return nil
}

// Close forgets the client; minio keeps no session open
func (m *MinIO) Close() error {
	m.configured = false
	m.client = nil
	return nil
}

func (m *MinIO) begin(op, path string, opts []Option) (string, Options, error) {
	p, err := m.checkPath(op, path)
	if err != nil {
		return "", Options{}, err
	}
	o := applyOptions(opts)
	if err := rejectUser(op, p, o); err != nil {
		return "", Options{}, err
	}
	if o.Permission.IsSet() || o.Owner != "" || o.Group != "" {
		return "", Options{}, models.BadRequest(op, p, nil, "%s: object storage has no permissions or owners", op)
	}
	return p, o, nil
}

// key maps an absolute path to its object key, without trailing slash
func (m *MinIO) key(p string) string {
	k := strings.TrimPrefix(platform.Clean(p), "/")
	if m.config.Prefix == "" {
		return k
	}
	if k == "" {
		return m.config.Prefix
	}
	return m.config.Prefix + "/" + k
}

// dirKey is the marker key of a directory, also the listing prefix
func (m *MinIO) dirKey(p string) string {
	k := m.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// GetPath returns the object or directory at path
func (m *MinIO) GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, _, err := m.begin("getPath", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return m.stat(ctx, "getPath", p)
}

// ListDirectory returns the objects and sub-prefixes directly under path
func (m *MinIO) ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error) {
	const op = "listDirectory"
	p, _, err := m.begin(op, path, opts)
	if err != nil {
		return nil, err
	}
	dir, err := m.stat(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, models.BadRequest(op, p, nil, "listDirectory: not a directory: %s", p)
	}

	prefix := m.dirKey(p)
	var objects []models.RemoteObject
	for info := range m.client.ListObjects(ctx, m.config.Bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, translateMinio(op, p, info.Err)
		}
		name := strings.TrimPrefix(info.Key, prefix)
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "/") {
			obj := models.NewObject(models.KindDirectory, platform.Join(p, strings.TrimSuffix(name, "/")))
			objects = append(objects, obj)
			continue
		}
		objects = append(objects, m.object(platform.Join(p, name), info))
	}
	return objects, nil
}

// MakeDirectory writes marker objects for path and its missing parents
func (m *MinIO) MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, _, err := m.begin("makeDirectory", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if err := m.mkdirAll(ctx, "makeDirectory", p); err != nil {
		return models.RemoteObject{}, err
	}
	return m.stat(ctx, "makeDirectory", p)
}

// WriteFile uploads contents, streaming in parts when the length is unknown
func (m *MinIO) WriteFile(ctx context.Context, path string, contents *content.Iterator, opts ...Option) (models.RemoteObject, error) {
	const op = "writeFile"
	p, o, err := m.begin(op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	r, err := writeReader(op, p, contents, o)
	if err != nil {
		return models.RemoteObject{}, err
	}

	existing, err := m.stat(ctx, op, p)
	switch {
	case err == nil && existing.IsDir():
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "writeFile: path is a directory: %s", p)
	case err == nil && !o.Overwrite:
		m.logger.Debug(ctx, "target exists, not overwriting", logging.Fields{"path": p})
		return existing, nil
	case err != nil && !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}
	if err := m.mkdirAll(ctx, op, platform.Dir(p)); err != nil {
		return models.RemoteObject{}, err
	}

	var size int64 = -1
	if contents.Replayable() && o.Encoding == "" {
		data, err := io.ReadAll(r)
		if err != nil {
			return models.RemoteObject{}, models.BadRequest(op, p, err, "%v", err)
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}
	info, err := m.client.PutObject(ctx, m.config.Bucket, m.key(p), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    m.config.PartSize,
	})
	if err != nil {
		return models.RemoteObject{}, translateMinio(op, p, err)
	}
	m.logger.Debug(ctx, "uploaded object", logging.Fields{"path": p, "bytes": info.Size, "etag": info.ETag})
	return m.stat(ctx, op, p)
}

// ReadFile streams the object body
func (m *MinIO) ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error) {
	const op = "readFile"
	p, o, err := m.begin(op, path, opts)
	if err != nil {
		return nil, err
	}
	obj, err := m.stat(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if obj.IsDir() {
		return nil, models.BadRequest(op, p, nil, "readFile: path is a directory: %s", p)
	}
	body, err := m.client.GetObject(ctx, m.config.Bucket, m.key(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinio(op, p, err)
	}
	return readIterator(op, p, body, m.config.ChunkSize, o, func(err error) error {
		return translateMinio(op, p, err)
	})
}

// DeletePath removes an object, or every key under a directory prefix
func (m *MinIO) DeletePath(ctx context.Context, path string, opts ...Option) (bool, error) {
	const op = "deletePath"
	p, _, err := m.begin(op, path, opts)
	if err != nil {
		return false, err
	}
	obj, err := m.stat(ctx, op, p)
	if models.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !obj.IsDir() {
		if err := m.client.RemoveObject(ctx, m.config.Bucket, m.key(p), minio.RemoveObjectOptions{}); err != nil {
			return false, translateMinio(op, p, err)
		}
		return true, nil
	}
	if m.dirKey(p) == m.dirKey("/") {
		return false, models.BadRequest(op, p, nil, "deletePath: refusing to delete the root")
	}

	count := 0
	for info := range m.client.ListObjects(ctx, m.config.Bucket, minio.ListObjectsOptions{Prefix: m.dirKey(p), Recursive: true}) {
		if info.Err != nil {
			return false, translateMinio(op, p, info.Err)
		}
		if err := m.client.RemoveObject(ctx, m.config.Bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
			return false, translateMinio(op, p, err)
		}
		count++
	}
	m.logger.Debug(ctx, "deleted prefix", logging.Fields{"path": p, "objects": count})
	return true, nil
}

// SetPathPermission always fails: objects carry no permission bits
func (m *MinIO) SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error) {
	p, _, err := m.begin("setPathPermission", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return models.RemoteObject{}, models.BadRequest("setPathPermission", p, nil, "setPathPermission: not supported by object storage")
}

// SetPathOwner always fails: objects carry no owner
func (m *MinIO) SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error) {
	p, _, err := m.begin("setPathOwner", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return models.RemoteObject{}, models.BadRequest("setPathOwner", p, nil, "setPathOwner: not supported by object storage")
}

// ChangeDirectory sets the working directory to an existing prefix
func (m *MinIO) ChangeDirectory(ctx context.Context, path string) error {
	p, _, err := m.begin("changeDirectory", path, nil)
	if err != nil {
		return err
	}
	obj, err := m.stat(ctx, "changeDirectory", p)
	if err != nil {
		return err
	}
	if !obj.IsDir() {
		return models.BadRequest("changeDirectory", p, nil, "changeDirectory: not a directory: %s", p)
	}
	m.cwd = p
	return nil
}

func (m *MinIO) stat(ctx context.Context, op, p string) (models.RemoteObject, error) {
	if m.key(p) == m.key("/") {
		return models.NewObject(models.KindDirectory, p), nil
	}
	info, err := m.client.StatObject(ctx, m.config.Bucket, m.key(p), minio.StatObjectOptions{})
	if err == nil {
		return m.object(p, info), nil
	}
	if err := translateMinio(op, p, err); !models.IsNotFound(err) {
		return models.RemoteObject{}, err
	}

	// a directory exists while any key, marker included, has its prefix
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for info := range m.client.ListObjects(listCtx, m.config.Bucket, minio.ListObjectsOptions{Prefix: m.dirKey(p), Recursive: true, MaxKeys: 1}) {
		if info.Err != nil {
			return models.RemoteObject{}, translateMinio(op, p, info.Err)
		}
		obj := models.NewObject(models.KindDirectory, p)
		if strings.HasSuffix(info.Key, "/") && info.Key == m.dirKey(p) {
			obj.ModificationTime = info.LastModified
		}
		return obj, nil
	}
	return models.RemoteObject{}, models.NotFound(op, p, nil)
}

func (m *MinIO) object(p string, info minio.ObjectInfo) models.RemoteObject {
	obj := models.NewObject(models.KindFile, p)
	obj.Length = info.Size
	obj.ModificationTime = info.LastModified
	obj.Details = map[string]string{"etag": info.ETag}
	if info.ContentType != "" {
		obj.Details["content_type"] = info.ContentType
	}
	return obj
}

// mkdirAll writes the markers of p and every missing parent, failing when a
// component is a file
func (m *MinIO) mkdirAll(ctx context.Context, op, p string) error {
	if m.key(p) == m.key("/") {
		return nil
	}
	obj, err := m.stat(ctx, op, p)
	switch {
	case err == nil && obj.IsDir():
		return nil
	case err == nil:
		return models.BadRequest(op, p, nil, "%s: path exists and is not a directory: %s", op, p)
	case !models.IsNotFound(err):
		return err
	}
	if err := m.mkdirAll(ctx, op, platform.Dir(p)); err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.config.Bucket, m.dirKey(p), bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return translateMinio(op, p, err)
	}
	m.logger.Debug(ctx, "created directory marker", logging.Fields{"path": p})
	return nil
}

// translateMinio maps S3 error codes to the storage error codes
func translateMinio(op, p string, err error) error {
	if models.IsCoded(err) {
		return err
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return models.NotFound(op, p, err)
	case "AccessDenied":
		return models.PermissionDenied(op, p, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken", "ExpiredToken":
		return models.Authentication(op, err, "%s: %v", op, err)
	}
	return models.BadRequest(op, p, err, "%s: %v", op, err)
}
