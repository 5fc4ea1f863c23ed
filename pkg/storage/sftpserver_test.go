package storage

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// fakeSSH is an in-process SSH server exposing the local filesystem over
// the sftp subsystem and answering exec requests from a fixed table.
type fakeSSH struct {
	t       *testing.T
	ln      net.Listener
	hostKey ssh.Signer
	user    string
	pass    string

	mu         sync.Mutex
	authorized ssh.PublicKey
	methods    []string
	execs      map[string]fakeExec
	commands   []string
	noExec     bool
}

type fakeExec struct {
	stdout string
	status uint32
}

func newFakeSSH(t *testing.T) *fakeSSH {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeSSH{t: t, ln: ln, hostKey: hostKey, user: "tester", pass: "secret", execs: map[string]fakeExec{}}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c)
		}
	}()
	return s
}

// config returns settings trusting the server through a known_hosts file
// in a fresh HOME without default keys or agent
func (s *fakeSSH) config(t *testing.T) SFTPConfig {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SSH_AUTH_SOCK", "")
	require := func(err error) {
		if err != nil {
			t.Fatalf("failed to prepare home: %v", err)
		}
	}
	require(os.MkdirAll(filepath.Join(home, ".ssh"), 0o700))
	line := knownhosts.Line([]string{knownhosts.Normalize(s.ln.Addr().String())}, s.hostKey.PublicKey())
	require(os.WriteFile(filepath.Join(home, ".ssh", "known_hosts"), []byte(line+"\n"), 0o600))

	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	root, err := filepath.EvalSymlinks(t.TempDir())
	require(err)
	return SFTPConfig{
		Host:     host,
		Port:     p,
		Username: s.user,
		Password: s.pass,
		Cwd:      filepath.ToSlash(root),
		Timeout:  5 * time.Second,
	}
}

// authorize accepts key for public key authentication
func (s *fakeSSH) authorize(key ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = key
}

func (s *fakeSSH) onExec(cmd, stdout string, status uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[cmd] = fakeExec{stdout: stdout, status: status}
}

func (s *fakeSSH) disableExec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noExec = true
}

func (s *fakeSSH) authMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *fakeSSH) execHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeSSH) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, method)
}

func (s *fakeSSH) serverConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			s.record("password")
			if c.User() == s.user && string(pass) == s.pass {
				return nil, nil
			}
			return nil, errAuthRejected
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.record("publickey")
			s.mu.Lock()
			ok := s.authorized != nil && string(s.authorized.Marshal()) == string(key.Marshal())
			s.mu.Unlock()
			if ok && c.User() == s.user {
				return nil, nil
			}
			return nil, errAuthRejected
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

var errAuthRejected = errors.New("rejected")

func (s *fakeSSH) serve(c net.Conn) {
	defer c.Close()
	conn, chans, reqs, err := ssh.NewServerConn(c, s.serverConfig())
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *fakeSSH) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "subsystem":
			if payloadString(req.Payload) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
			return
		case "exec":
			s.mu.Lock()
			noExec := s.noExec
			cmd := payloadString(req.Payload)
			s.commands = append(s.commands, cmd)
			reply, ok := s.execs[cmd]
			s.mu.Unlock()
			if noExec {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			if !ok {
				reply = fakeExec{status: 127}
			}
			io.WriteString(ch, reply.stdout)
			status := make([]byte, 4)
			binary.BigEndian.PutUint32(status, reply.status)
			ch.SendRequest("exit-status", false, status)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

// payloadString decodes the leading SSH string of a request payload
func payloadString(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > len(b)-4 {
		return ""
	}
	return string(b[4 : 4+n])
}

// newClientKey returns a fresh ed25519 signer and its OpenSSH PEM encoding
func newClientKey(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	return signer, pem.EncodeToMemory(block)
}
