package storage

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeFTP is an in-memory FTP server speaking just enough of RFC 959 and
// RFC 3659 for the backend: login, FEAT, MLST/MLSD, EPSV/PASV transfers,
// MKD/RMD/DELE and SITE CHMOD/CHOWN/CHGRP.
type fakeFTP struct {
	t         *testing.T
	ln        net.Listener
	tlsConfig *tls.Config
	user      string
	pass      string

	// noSiteOwner makes SITE CHOWN/CHGRP unsupported
	noSiteOwner bool

	mu       sync.Mutex
	entries  map[string]*fakeEntry
	commands []string
}

type fakeEntry struct {
	dir   bool
	data  []byte
	mode  uint32
	owner string
	group string
	raw   string // replaces the fact line when set
}

var fakeModTime = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

func newFakeFTP(t *testing.T, secure bool) *fakeFTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeFTP{
		t:       t,
		ln:      ln,
		user:    "tester",
		pass:    "secret",
		entries: map[string]*fakeEntry{"/": {dir: true, mode: 0o755, owner: "ftp", group: "ftp"}},
	}
	if secure {
		s.tlsConfig = selfSignedTLS(t)
		s.ln = tls.NewListener(ln, s.tlsConfig)
	}
	t.Cleanup(func() { s.ln.Close() })

	go func() {
		for {
			c, err := s.ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c)
		}
	}()
	return s
}

func (s *fakeFTP) config() FTPConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	cfg := FTPConfig{Host: host, Port: p, Username: s.user, Password: s.pass, Timeout: 5 * time.Second}
	if s.tlsConfig != nil {
		cfg.Secure = true
		cfg.TLSInsecureSkipVerify = true
	}
	return cfg
}

func (s *fakeFTP) put(p string, e *fakeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.owner == "" {
		e.owner, e.group = "ftp", "ftp"
	}
	s.entries[p] = e
}

func (s *fakeFTP) get(p string) (*fakeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	return e, ok
}

func (s *fakeFTP) disableSiteOwner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSiteOwner = true
}

func (s *fakeFTP) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeFTP) children(dir string) []string {
	var names []string
	for p := range s.entries {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}

func (e *fakeEntry) facts(kind string) string {
	if e.raw != "" {
		return e.raw
	}
	if kind == "" {
		kind = "file"
		if e.dir {
			kind = "dir"
		}
	}
	size := len(e.data)
	if e.dir {
		size = 4096
	}
	return fmt.Sprintf("type=%s;size=%d;perm=adfrw;modify=%s;unix.mode=0%o;unix.owner=%s;unix.group=%s;",
		kind, size, fakeModTime.Format("20060102150405"), e.mode, e.owner, e.group)
}

func (s *fakeFTP) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	reply := func(format string, args ...interface{}) {
		fmt.Fprintf(c, format+"\r\n", args...)
	}
	reply("220 fake ftp ready")

	var (
		loggedIn bool
		user     string
		cwd      = "/"
		pasv     net.Listener
	)
	defer func() {
		if pasv != nil {
			pasv.Close()
		}
	}()
	abs := func(p string) string {
		if !strings.HasPrefix(p, "/") {
			p = path.Join(cwd, p)
		}
		return path.Clean(p)
	}
	// transfer sends 150, accepts the data connection and runs fn on it
	transfer := func(fn func(net.Conn)) {
		if pasv == nil {
			reply("425 use EPSV first")
			return
		}
		reply("150 opening data connection")
		dc, err := pasv.Accept()
		pasv.Close()
		pasv = nil
		if err != nil {
			reply("425 cannot open data connection")
			return
		}
		fn(dc)
		dc.Close()
		reply("226 transfer complete")
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		s.mu.Lock()
		if verb != "PASS" {
			s.commands = append(s.commands, line)
		}
		s.mu.Unlock()

		if !loggedIn {
			switch verb {
			case "USER", "PASS", "FEAT", "QUIT", "AUTH":
			default:
				reply("530 please log in")
				continue
			}
		}

		switch verb {
		case "USER":
			user = arg
			reply("331 password required")
		case "PASS":
			if user == s.user && arg == s.pass {
				loggedIn = true
				reply("230 logged in")
			} else {
				reply("530 login incorrect")
			}
		case "FEAT":
			reply("211-Features:")
			reply(" MLST type*;size*;modify*;perm*;unix.mode*;unix.owner*;unix.group*;")
			reply(" EPSV")
			reply(" PASV")
			reply("211 End")
		case "OPTS", "PBSZ", "PROT", "TYPE", "NOOP":
			reply("200 OK")
		case "ACCT":
			reply("202 account not needed")
		case "SYST":
			reply("215 UNIX Type: L8")
		case "PWD":
			reply(`257 "%s" is the current directory`, strings.ReplaceAll(cwd, `"`, `""`))
		case "CWD":
			p := abs(arg)
			if e, ok := s.get(p); ok && e.dir {
				cwd = p
				reply("250 directory changed")
			} else {
				reply("550 no such directory")
			}
		case "EPSV", "PASV":
			if pasv != nil {
				pasv.Close()
			}
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot listen")
				continue
			}
			if s.tlsConfig != nil {
				ln = tls.NewListener(ln, s.tlsConfig)
			}
			pasv = ln
			port := ln.Addr().(*net.TCPAddr).Port
			if verb == "EPSV" {
				reply("229 Entering Extended Passive Mode (|||%d|)", port)
			} else {
				reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
			}
		case "MLST":
			p := abs(arg)
			e, ok := s.get(p)
			if !ok {
				reply("550 %s: no such file or directory", p)
				continue
			}
			reply("250- Listing %s", p)
			reply(" %s %s", e.facts(""), p)
			reply("250 End")
		case "MLSD":
			p := abs(arg)
			e, ok := s.get(p)
			if !ok || !e.dir {
				reply("550 not a directory")
				continue
			}
			transfer(func(dc net.Conn) {
				fmt.Fprintf(dc, "%s .\r\n", e.facts("cdir"))
				s.mu.Lock()
				names := s.children(p)
				lines := make([]string, 0, len(names))
				for _, name := range names {
					lines = append(lines, fmt.Sprintf("%s %s\r\n", s.entries[path.Join(p, name)].facts(""), name))
				}
				s.mu.Unlock()
				for _, l := range lines {
					io.WriteString(dc, l)
				}
			})
		case "RETR":
			p := abs(arg)
			e, ok := s.get(p)
			if !ok || e.dir {
				reply("550 no such file")
				continue
			}
			transfer(func(dc net.Conn) { dc.Write(e.data) })
		case "STOR":
			p := abs(arg)
			if parent, ok := s.get(path.Dir(p)); !ok || !parent.dir {
				reply("550 no such directory")
				continue
			}
			transfer(func(dc net.Conn) {
				data, _ := io.ReadAll(dc)
				s.put(p, &fakeEntry{data: data, mode: 0o644})
			})
		case "MKD":
			p := abs(arg)
			if _, exists := s.get(p); exists {
				reply("550 already exists")
				continue
			}
			if parent, ok := s.get(path.Dir(p)); !ok || !parent.dir {
				reply("550 no such directory")
				continue
			}
			s.put(p, &fakeEntry{dir: true, mode: 0o755})
			reply(`257 "%s" created`, p)
		case "RMD":
			p := abs(arg)
			s.mu.Lock()
			e, ok := s.entries[p]
			empty := len(s.children(p)) == 0
			if ok && e.dir && empty {
				delete(s.entries, p)
			}
			s.mu.Unlock()
			switch {
			case !ok || !e.dir:
				reply("550 no such directory")
			case !empty:
				reply("550 directory not empty")
			default:
				reply("250 removed")
			}
		case "DELE":
			p := abs(arg)
			s.mu.Lock()
			e, ok := s.entries[p]
			if ok && !e.dir {
				delete(s.entries, p)
			}
			s.mu.Unlock()
			if !ok || e.dir {
				reply("550 no such file")
			} else {
				reply("250 deleted")
			}
		case "SITE":
			s.site(arg, abs, reply)
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 %s not implemented", verb)
		}
	}
}

func (s *fakeFTP) site(arg string, abs func(string) string, reply func(string, ...interface{})) {
	fields := strings.SplitN(arg, " ", 3)
	if len(fields) != 3 {
		reply("501 syntax error")
		return
	}
	sub, value, p := strings.ToUpper(fields[0]), fields[1], abs(fields[2])

	s.mu.Lock()
	defer s.mu.Unlock()
	if (sub == "CHOWN" || sub == "CHGRP") && s.noSiteOwner {
		reply("502 SITE %s not supported", sub)
		return
	}
	e, ok := s.entries[p]
	if !ok {
		reply("550 no such file")
		return
	}
	switch sub {
	case "CHMOD":
		mode, err := strconv.ParseUint(value, 8, 32)
		if err != nil {
			reply("501 bad mode")
			return
		}
		e.mode = uint32(mode)
	case "CHOWN":
		e.owner = value
	case "CHGRP":
		e.group = value
	default:
		reply("502 SITE %s not supported", sub)
		return
	}
	reply("200 SITE %s command successful", sub)
}

func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}
