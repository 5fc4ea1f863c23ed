package storage

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// DefaultSFTPPort is used when SFTPConfig.Port is zero
const DefaultSFTPPort = 22

// defaultKeyNames are tried in order under ~/.ssh when no key is configured
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// SFTPConfig holds the SFTP backend settings
type SFTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// PrivateKeyFile and PrivateKey (PEM text) are alternatives; the file
	// wins when both are set
	PrivateKeyFile       string `yaml:"private_key_file,omitempty"`
	PrivateKey           string `yaml:"private_key,omitempty"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase,omitempty"`

	// KnownHostsFile defaults to ~/.ssh/known_hosts
	KnownHostsFile        string `yaml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`
	// UseAgent adds the keys of the agent at $SSH_AUTH_SOCK
	UseAgent bool `yaml:"use_agent,omitempty"`

	Cwd       string        `yaml:"cwd,omitempty"`
	ChunkSize int           `yaml:"chunk_size,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

func (c SFTPConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// clientConfig assembles the SSH client settings. Key and password are
// tried in that order when both are available. release frees the agent
// connection once the handshake is over.
func (c SFTPConfig) clientConfig(ctx context.Context, logger logging.Logger) (cfg *ssh.ClientConfig, release func(), err error) {
	release = func() {}
	if c.Host == "" {
		return nil, release, models.Configuration("configure", nil, "sftp: host is required")
	}
	username := c.Username
	if username == "" {
		username = os.Getenv("USER")
	}
	if username == "" {
		return nil, release, models.Configuration("configure", nil, "sftp: username is required")
	}

	signer, err := c.signer(ctx, logger)
	if err != nil {
		return nil, release, err
	}
	var methods []ssh.AuthMethod
	var names []string
	if signer != nil {
		methods = append(methods, ssh.PublicKeys(signer))
		names = append(names, "publickey")
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password), ssh.KeyboardInteractive(c.answerPassword))
		names = append(names, "password")
	}
	if c.UseAgent {
		if conn := dialAgent(ctx, logger); conn != nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			names = append(names, "agent")
			release = func() { conn.Close() }
		}
	}
	if len(methods) == 0 {
		return nil, release, models.Configuration("configure", nil, "sftp: a password or private key is required")
	}

	hostKey, err := c.hostKeyCallback()
	if err != nil {
		release()
		return nil, func() {}, err
	}
	logger.Debug(ctx, "ssh authentication methods", logging.Fields{"methods": names, "user": username})
	return &ssh.ClientConfig{
		User:            username,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, release, nil
}

// answerPassword answers every keyboard-interactive prompt with the password
func (c SFTPConfig) answerPassword(user, instruction string, questions []string, echos []bool) ([]string, error) {
	answers := make([]string, len(questions))
	for i := range answers {
		answers[i] = c.Password
	}
	return answers, nil
}

// signer loads the configured private key, or the first default key found
// under ~/.ssh. It returns nil when there is none.
func (c SFTPConfig) signer(ctx context.Context, logger logging.Logger) (ssh.Signer, error) {
	switch {
	case c.PrivateKeyFile != "":
		pem, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, models.Configuration("configure", err, "failed to read private key: %v", err)
		}
		return c.parseKey(pem)
	case c.PrivateKey != "":
		return c.parseKey([]byte(c.PrivateKey))
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	for _, name := range defaultKeyNames {
		path := filepath.Join(home, ".ssh", name)
		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := c.parseKey(pem)
		if err != nil {
			logger.Warn(ctx, "skipping unusable default key", logging.Fields{"path": path, "error": err.Error()})
			continue
		}
		logger.Debug(ctx, "using default private key", logging.Fields{"path": path})
		return signer, nil
	}
	return nil, nil
}

func (c SFTPConfig) parseKey(pem []byte) (ssh.Signer, error) {
	var signer ssh.Signer
	var err error
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, models.Configuration("configure", err, "private key is encrypted: set private_key_passphrase")
	}
	if err != nil {
		return nil, models.Configuration("configure", err, "failed to parse private key: %v", err)
	}
	return signer, nil
}

// hostKeyCallback verifies the server against known_hosts
func (c SFTPConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := c.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, models.Configuration("configure", err, "cannot locate known_hosts: %v", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.Configuration("configure", err, "known hosts file %s not found: set known_hosts_file or insecure_ignore_host_key", path)
	}
	if err != nil {
		return nil, models.Configuration("configure", err, "failed to load known hosts: %v", err)
	}
	return cb, nil
}

// dialAgent connects to the running SSH agent, or returns nil when none is
// reachable
func dialAgent(ctx context.Context, logger logging.Logger) net.Conn {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		logger.Warn(ctx, "ssh agent unreachable", logging.Fields{"socket": sock, "error": err.Error()})
		return nil
	}
	return conn
}
