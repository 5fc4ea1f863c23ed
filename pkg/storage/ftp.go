package storage

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/secsy/goftp"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// DefaultFTPPort is used when FTPConfig.Port is zero
const DefaultFTPPort = 21

// FTPConfig holds the FTP backend settings
type FTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Account is sent with ACCT after login when set
	Account string `yaml:"account,omitempty"`

	// Secure wraps the control and data channels in implicit TLS
	Secure                bool   `yaml:"secure,omitempty"`
	TLSKeyFile            string `yaml:"tls_key_file,omitempty"`
	TLSCertFile           string `yaml:"tls_cert_file,omitempty"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify,omitempty"`

	ChunkSize int           `yaml:"chunk_size,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

func (c FTPConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// tlsConfig builds the client TLS settings, or nil for plain FTP
func (c FTPConfig) tlsConfig() (*tls.Config, error) {
	if !c.Secure {
		if c.TLSCertFile != "" || c.TLSKeyFile != "" {
			return nil, models.Configuration("configure", nil, "tls_cert_file and tls_key_file require secure to be enabled")
		}
		return nil, nil
	}

	cfg := &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: c.TLSInsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
		// many servers require the data channel to resume the control session
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}
	switch {
	case c.TLSCertFile != "" && c.TLSKeyFile != "":
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, models.Configuration("configure", err, "failed to load TLS client certificate: %v", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case c.TLSCertFile != "" || c.TLSKeyFile != "":
		return nil, models.Configuration("configure", nil, "tls_cert_file and tls_key_file must be set together")
	}
	return cfg, nil
}

// FTP is a storage backend speaking FTP or implicit FTPS over a single
// control connection. Metadata comes from MLST/MLSD.
type FTP struct {
	state
	config FTPConfig
	logger logging.Logger
	trace  *logging.LineWriter

	client *goftp.Client
	conn   goftp.RawConn
	// pending is the RETR whose data connection is still open
	pending *ftpTransfer
}

// NewFTP creates an unconfigured FTP backend
func NewFTP(config FTPConfig, opts ...BackendOption) *FTP {
	if config.Port == 0 {
		config.Port = DefaultFTPPort
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	s := newBackendSettings("ftp", opts)
	return &FTP{
		config: config,
		logger: s.logger,
		trace:  logging.NewLineWriter(s.logger, "ftp protocol"),
	}
}

// Name returns "ftp"
func (f *FTP) Name() string { return "ftp" }

// Configure connects, logs in and selects the MLST facts
func (f *FTP) Configure(ctx context.Context) error {
	if f.conn != nil {
		f.Close()
	}
	if f.config.Host == "" {
		return models.Configuration("configure", nil, "ftp: host is required")
	}
	tlsConfig, err := f.config.tlsConfig()
	if err != nil {
		return err
	}

	user, password := f.config.Username, f.config.Password
	if user == "" {
		user, password = "anonymous", "anonymous@"
	}
	cfg := goftp.Config{
		User:               user,
		Password:           password,
		ConnectionsPerHost: 1,
		Timeout:            f.config.Timeout,
		TLSConfig:          tlsConfig,
		Logger:             f.trace,
	}
	if tlsConfig != nil {
		cfg.TLSMode = goftp.TLSImplicit
	}

	addr := f.config.address()
	client, err := goftp.DialConfig(cfg, addr)
	if err != nil {
		return models.Authentication("configure", err, "failed to connect to %s: %v", addr, err)
	}
	conn, err := client.OpenRawConn()
	if err != nil {
		client.Close()
		return models.Authentication("configure", err, "failed to log in to %s as %s: %v", addr, user, err)
	}
	f.client, f.conn = client, conn

	if f.config.Account != "" {
		code, msg, err := f.conn.SendCommand("ACCT %s", f.config.Account)
		if err == nil && code/100 != 2 {
			err = &ftpReply{code: code, msg: msg}
		}
		if err != nil {
			f.Close()
			return models.Authentication("configure", err, "account %q rejected: %v", f.config.Account, err)
		}
	}

	code, msg, err := f.command(ctx, "configure", "", "OPTS MLST %s", mlstFacts)
	if err != nil {
		f.Close()
		return err
	}
	if code/100 != 2 {
		f.logger.Warn(ctx, "server rejected MLST fact selection", logging.Fields{"code": code, "reply": msg})
	}

	cwd, err := f.pwd(ctx, "configure")
	if err != nil {
		f.Close()
		return err
	}
	f.cwd = cwd
	f.configured = true
	f.logger.Debug(ctx, "ftp backend configured", logging.Fields{"address": addr, "cwd": cwd, "tls": tlsConfig != nil})
	return nil
}

// Close ends the session. A transfer still in progress is abandoned.
func (f *FTP) Close() error {
	f.configured = false
	if f.conn == nil {
		return nil
	}
	if f.pending != nil {
		f.pending.Close()
	}
	if err := f.conn.Close(); err != nil {
		f.logger.Debug(context.Background(), "closing control connection", logging.Fields{"error": err.Error()})
	}
	f.client.Close()
	f.trace.Flush()
	f.conn, f.client = nil, nil
	return nil
}

// begin validates a call and frees the control connection
func (f *FTP) begin(ctx context.Context, op, path string, opts []Option) (string, Options, error) {
	p, err := f.checkPath(op, path)
	if err != nil {
		return "", Options{}, err
	}
	o := applyOptions(opts)
	if err := rejectUser(op, p, o); err != nil {
		return "", Options{}, err
	}
	f.settle(ctx)
	return p, o, nil
}

// GetPath returns the object at path from its MLST facts
func (f *FTP) GetPath(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, _, err := f.begin(ctx, "getPath", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return f.stat(ctx, "getPath", p)
}

// ListDirectory returns the MLSD entries of a directory
func (f *FTP) ListDirectory(ctx context.Context, path string, opts ...Option) ([]models.RemoteObject, error) {
	p, _, err := f.begin(ctx, "listDirectory", path, opts)
	if err != nil {
		return nil, err
	}
	dir, err := f.stat(ctx, "listDirectory", p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, models.BadRequest("listDirectory", p, nil, "listDirectory: not a directory: %s", p)
	}
	return f.list(ctx, "listDirectory", p)
}

// MakeDirectory creates a directory and its missing parents
func (f *FTP) MakeDirectory(ctx context.Context, path string, opts ...Option) (models.RemoteObject, error) {
	p, o, err := f.begin(ctx, "makeDirectory", path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	obj, err := f.mkdirAll(ctx, "makeDirectory", p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, f, obj, o, nil)
}

// WriteFile stores contents with STOR in binary mode
func (f *FTP) WriteFile(ctx context.Context, path string, contents *content.Iterator, opts ...Option) (models.RemoteObject, error) {
	const op = "writeFile"
	p, o, err := f.begin(ctx, op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	r, err := writeReader(op, p, contents, o)
	if err != nil {
		return models.RemoteObject{}, err
	}

	existing, err := f.stat(ctx, op, p)
	switch {
	case err == nil && existing.IsDir():
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "writeFile: path is a directory: %s", p)
	case err == nil && !o.Overwrite:
		f.logger.Debug(ctx, "target exists, not overwriting", logging.Fields{"path": p})
		return existing, nil
	case err != nil && !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}
	if _, err := f.mkdirAll(ctx, op, platform.Dir(p)); err != nil {
		return models.RemoteObject{}, err
	}

	data, err := f.openData(ctx, op, p, "STOR %s", p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	buf := make([]byte, f.config.ChunkSize)
	written, copyErr := io.CopyBuffer(struct{ io.Writer }{data}, r, buf)
	closeErr := f.closeData(ctx, op, p, data, true)
	if copyErr != nil {
		if models.IsCoded(copyErr) {
			return models.RemoteObject{}, copyErr
		}
		return models.RemoteObject{}, models.BadRequest(op, p, copyErr, "writeFile: transfer failed: %v", copyErr)
	}
	if closeErr != nil {
		return models.RemoteObject{}, closeErr
	}
	f.logger.Debug(ctx, "stored file", logging.Fields{"path": p, "bytes": written})

	obj, err := f.stat(ctx, op, p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	return applyAttributes(ctx, f, obj, o, nil)
}

// ReadFile starts a RETR and streams the data connection. The transfer is
// spooled to a temporary file if another command is issued before the
// iterator is drained.
func (f *FTP) ReadFile(ctx context.Context, path string, opts ...Option) (*content.Iterator, error) {
	const op = "readFile"
	p, o, err := f.begin(ctx, op, path, opts)
	if err != nil {
		return nil, err
	}
	obj, err := f.stat(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if obj.IsDir() {
		return nil, models.BadRequest(op, p, nil, "readFile: path is a directory: %s", p)
	}

	data, err := f.openData(ctx, op, p, "RETR %s", p)
	if err != nil {
		return nil, err
	}
	t := &ftpTransfer{f: f, ctx: ctx, path: p, data: data, src: data}
	f.pending = t
	return readIterator(op, p, t, f.config.ChunkSize, o, func(err error) error {
		if models.IsCoded(err) {
			return err
		}
		return models.BadRequest(op, p, err, "readFile: transfer failed: %v", err)
	})
}

// DeletePath removes a file, or a directory tree depth first
func (f *FTP) DeletePath(ctx context.Context, path string, opts ...Option) (bool, error) {
	p, _, err := f.begin(ctx, "deletePath", path, opts)
	if err != nil {
		return false, err
	}
	obj, err := f.stat(ctx, "deletePath", p)
	if models.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := f.remove(ctx, obj); err != nil {
		return false, err
	}
	return true, nil
}

// SetPathPermission sends SITE CHMOD
func (f *FTP) SetPathPermission(ctx context.Context, path string, perm models.Permission, opts ...Option) (models.RemoteObject, error) {
	const op = "setPathPermission"
	p, _, err := f.begin(ctx, op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	bits, err := perm.Bits()
	if err != nil {
		return models.RemoteObject{}, models.BadRequest(op, p, err, "%v", err)
	}
	if _, err := f.expect(ctx, op, p, 2, "SITE CHMOD %o %s", bits, p); err != nil {
		return models.RemoteObject{}, err
	}
	return f.stat(ctx, op, p)
}

// SetPathOwner sends SITE CHOWN and SITE CHGRP
func (f *FTP) SetPathOwner(ctx context.Context, path, owner, group string, opts ...Option) (models.RemoteObject, error) {
	const op = "setPathOwner"
	p, _, err := f.begin(ctx, op, path, opts)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if owner == "" && group == "" {
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "setPathOwner: owner or group is required")
	}
	if owner != "" {
		if _, err := f.expect(ctx, op, p, 2, "SITE CHOWN %s %s", owner, p); err != nil {
			return models.RemoteObject{}, err
		}
	}
	if group != "" {
		if _, err := f.expect(ctx, op, p, 2, "SITE CHGRP %s %s", group, p); err != nil {
			return models.RemoteObject{}, err
		}
	}
	return f.stat(ctx, op, p)
}

// ChangeDirectory sends CWD and records the directory the server reports
func (f *FTP) ChangeDirectory(ctx context.Context, path string) error {
	p, _, err := f.begin(ctx, "changeDirectory", path, nil)
	if err != nil {
		return err
	}
	if _, err := f.expect(ctx, "changeDirectory", p, 2, "CWD %s", p); err != nil {
		return err
	}
	cwd, err := f.pwd(ctx, "changeDirectory")
	if err != nil {
		return err
	}
	f.cwd = cwd
	return nil
}

// command sends one command. Only transport failures are errors here.
func (f *FTP) command(ctx context.Context, op, path, format string, args ...interface{}) (int, string, error) {
	code, msg, err := f.conn.SendCommand(format, args...)
	if err != nil {
		return 0, "", models.Authentication(op, err, "%s: connection to %s lost: %v", op, f.config.Host, err)
	}
	verb, _, _ := strings.Cut(format, " ")
	f.logger.Debug(ctx, "ftp command", logging.Fields{"command": verb, "path": path, "code": code})
	return code, msg, nil
}

// expect sends a command and fails unless the reply is in the given class
// (1 preliminary, 2 completion, 3 intermediate)
func (f *FTP) expect(ctx context.Context, op, path string, class int, format string, args ...interface{}) (string, error) {
	code, msg, err := f.command(ctx, op, path, format, args...)
	if err != nil {
		return "", err
	}
	if code/100 != class {
		return msg, replyError(op, path, code, msg)
	}
	return msg, nil
}

func (f *FTP) pwd(ctx context.Context, op string) (string, error) {
	msg, err := f.expect(ctx, op, "", 2, "PWD")
	if err != nil {
		return "", err
	}
	start, end := strings.IndexByte(msg, '"'), strings.LastIndexByte(msg, '"')
	if start < 0 || end <= start {
		return "", models.BadRequest(op, "", nil, "%s: unparsable PWD reply %q", op, msg)
	}
	return platform.Clean(strings.ReplaceAll(msg[start+1:end], `""`, `"`)), nil
}

func (f *FTP) stat(ctx context.Context, op, p string) (models.RemoteObject, error) {
	msg, err := f.expect(ctx, op, p, 2, "MLST %s", p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	fl, err := parseMLST(msg)
	if err != nil {
		return models.RemoteObject{}, models.BadRequest(op, p, err, "%s: %v", op, err)
	}
	obj, err := fl.object(p)
	if err != nil {
		return models.RemoteObject{}, models.BadRequest(op, p, err, "%s: %v", op, err)
	}
	return obj, nil
}

func (f *FTP) list(ctx context.Context, op, p string) ([]models.RemoteObject, error) {
	data, err := f.openData(ctx, op, p, "MLSD %s", p)
	if err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	scanErr := scanner.Err()
	if err := f.closeData(ctx, op, p, data, false); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, models.BadRequest(op, p, scanErr, "%s: failed to read listing: %v", op, scanErr)
	}

	objects := make([]models.RemoteObject, 0, len(lines))
	for _, line := range lines {
		fl, err := parseFactLine(line)
		if err != nil {
			return nil, models.BadRequest(op, p, err, "%s: %v", op, err)
		}
		if fl.isDots() {
			continue
		}
		obj, err := fl.object(childPath(p, fl.name))
		if err != nil {
			return nil, models.BadRequest(op, p, err, "%s: %v", op, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (f *FTP) mkdirAll(ctx context.Context, op, p string) (models.RemoteObject, error) {
	obj, err := f.stat(ctx, op, p)
	switch {
	case err == nil && !obj.IsDir():
		return models.RemoteObject{}, models.BadRequest(op, p, nil, "%s: path exists and is not a directory: %s", op, p)
	case err == nil:
		return obj, nil
	case !models.IsNotFound(err):
		return models.RemoteObject{}, err
	}

	if parent := platform.Dir(p); parent != p {
		if _, err := f.mkdirAll(ctx, op, parent); err != nil {
			return models.RemoteObject{}, err
		}
	}
	if _, err := f.expect(ctx, op, p, 2, "MKD %s", p); err != nil {
		return models.RemoteObject{}, err
	}
	return f.stat(ctx, op, p)
}

func (f *FTP) remove(ctx context.Context, obj models.RemoteObject) error {
	if !obj.IsDir() {
		_, err := f.expect(ctx, "deletePath", obj.Path, 2, "DELE %s", obj.Path)
		return err
	}
	children, err := f.list(ctx, "deletePath", obj.Path)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := f.remove(ctx, child); err != nil {
			return err
		}
	}
	_, err = f.expect(ctx, "deletePath", obj.Path, 2, "RMD %s", obj.Path)
	return err
}

// openData switches to binary mode, sends a transfer command and connects
// the data channel
func (f *FTP) openData(ctx context.Context, op, p, format string, args ...interface{}) (net.Conn, error) {
	if _, err := f.expect(ctx, op, p, 2, "TYPE I"); err != nil {
		return nil, err
	}
	dial, err := f.conn.PrepareDataConn()
	if err != nil {
		return nil, models.BadRequest(op, p, err, "%s: failed to open data connection: %v", op, err)
	}
	code, msg, err := f.command(ctx, op, p, format, args...)
	if err != nil {
		return nil, err
	}
	if code/100 != 1 {
		return nil, replyError(op, p, code, msg)
	}
	data, err := dial()
	if err != nil {
		f.conn.ReadResponse()
		return nil, models.BadRequest(op, p, err, "%s: failed to connect data channel: %v", op, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		data.SetDeadline(deadline)
	}
	return data, nil
}

// closeData shuts the data channel down and reads the transfer reply. After
// an upload the TLS layer is closed for writing first so the server sees
// close_notify before the socket goes away.
func (f *FTP) closeData(ctx context.Context, op, p string, data net.Conn, wrote bool) error {
	if wrote {
		if cw, ok := data.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}
	data.Close()

	code, msg, err := f.conn.ReadResponse()
	if err != nil {
		return models.Authentication(op, err, "%s: connection to %s lost: %v", op, f.config.Host, err)
	}
	f.logger.Debug(ctx, "ftp transfer finished", logging.Fields{"path": p, "code": code})
	if code/100 != 2 {
		return replyError(op, p, code, msg)
	}
	return nil
}

// settle completes the pending RETR so the control connection is free.
// A spooling failure surfaces on the transfer's next read.
func (f *FTP) settle(ctx context.Context) {
	t := f.pending
	if t == nil {
		return
	}
	f.logger.Debug(ctx, "spooling unread transfer", logging.Fields{"path": t.path})
	t.spool()
}

// ftpReply is a negative server reply
type ftpReply struct {
	code int
	msg  string
}

func (r *ftpReply) Error() string {
	return fmt.Sprintf("%d %s", r.code, strings.TrimSpace(r.msg))
}

func replyError(op, path string, code int, msg string) error {
	reply := &ftpReply{code: code, msg: msg}
	switch code {
	case 450, 550:
		return models.NotFound(op, path, reply)
	case 530, 532:
		return models.Authentication(op, reply, "%s: not logged in: %v", op, reply)
	default:
		return models.BadRequest(op, path, reply, "%s: server replied %v", op, reply)
	}
}

// ftpTransfer is a RETR in progress. It reads the data connection until the
// control connection is needed again, then from a spool file.
type ftpTransfer struct {
	f    *FTP
	ctx  context.Context
	path string

	data      net.Conn
	src       io.Reader
	spoolFile *os.File
	err       error
	done      bool
}

func (t *ftpTransfer) Read(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	n, err := t.src.Read(p)
	if errors.Is(err, io.EOF) {
		if t.data != nil {
			if ferr := t.finish(); ferr != nil {
				t.err = ferr
				return n, ferr
			}
		}
		t.err = io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func (t *ftpTransfer) finish() error {
	data := t.data
	t.data = nil
	if t.f.pending == t {
		t.f.pending = nil
	}
	return t.f.closeData(t.ctx, "readFile", t.path, data, false)
}

func (t *ftpTransfer) spool() {
	if t.data == nil {
		return
	}
	file, err := os.CreateTemp("", "remotefs-ftp-*")
	if err == nil {
		t.spoolFile = file
		_, err = io.Copy(file, t.data)
	}
	if err != nil {
		t.abandon()
		t.err = models.BadRequest("readFile", t.path, err, "readFile: failed to spool transfer: %v", err)
		return
	}
	if err := t.finish(); err != nil {
		t.err = err
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		t.err = models.BadRequest("readFile", t.path, err, "readFile: failed to rewind spool: %v", err)
		return
	}
	t.src = file
}

// abandon drops the data connection and consumes the transfer reply,
// usually 426
func (t *ftpTransfer) abandon() {
	if t.data == nil {
		return
	}
	t.data.Close()
	t.data = nil
	if t.f.pending == t {
		t.f.pending = nil
	}
	if t.f.conn != nil {
		t.f.conn.ReadResponse()
	}
}

func (t *ftpTransfer) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	t.abandon()
	if t.spoolFile != nil {
		t.spoolFile.Close()
		os.Remove(t.spoolFile.Name())
	}
	return nil
}
