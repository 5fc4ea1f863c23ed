package storage

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/moby/sys/user"
	"golang.org/x/crypto/ssh"

	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// getentNotFound is the exit status of getent for an unknown key
const getentNotFound = 2

// exec runs one command on an ad-hoc session and returns its stdout
func (s *SFTP) exec(ctx context.Context, op, p, cmd string) ([]byte, error) {
	session, err := s.ssh.NewSession()
	if err != nil {
		return nil, models.BadRequest(op, p, err, "%s: cannot open exec channel: %v", op, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(cmd)
	s.logger.Debug(ctx, "ssh exec", logging.Fields{"command": cmd, "stderr": strings.TrimSpace(stderr.String())})
	return stdout.Bytes(), err
}

// resolveUID returns owner as a uid, asking the server's passwd database
// for names
func (s *SFTP) resolveUID(ctx context.Context, op, p, owner string) (int, error) {
	if id, err := strconv.Atoi(owner); err == nil {
		return id, nil
	}
	out, err := s.getent(ctx, op, p, "passwd", owner)
	if err != nil {
		return 0, err
	}
	users, err := user.ParsePasswdFilter(bytes.NewReader(out), func(u user.User) bool { return u.Name == owner })
	if err != nil || len(users) == 0 {
		return 0, models.BadRequest(op, p, err, "%s: unparsable passwd entry for %q", op, owner)
	}
	return users[0].Uid, nil
}

// resolveGID returns group as a gid, asking the server's group database
// for names
func (s *SFTP) resolveGID(ctx context.Context, op, p, group string) (int, error) {
	if id, err := strconv.Atoi(group); err == nil {
		return id, nil
	}
	out, err := s.getent(ctx, op, p, "group", group)
	if err != nil {
		return 0, err
	}
	groups, err := user.ParseGroupFilter(bytes.NewReader(out), func(g user.Group) bool { return g.Name == group })
	if err != nil || len(groups) == 0 {
		return 0, models.BadRequest(op, p, err, "%s: unparsable group entry for %q", op, group)
	}
	return groups[0].Gid, nil
}

func (s *SFTP) getent(ctx context.Context, op, p, database, key string) ([]byte, error) {
	out, err := s.exec(ctx, op, p, "getent "+database+" "+shellQuote(key))
	var exit *ssh.ExitError
	switch {
	case errors.As(err, &exit) && exit.ExitStatus() == getentNotFound:
		return nil, models.BadRequest(op, p, err, "%s: unknown %s entry %q", op, database, key)
	case err != nil:
		return nil, models.BadRequest(op, p, err, "%s: cannot resolve %q on the server: %v", op, key, err)
	}
	return out, nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!#&|;(){}[]<>?*~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
