//go:build unix

package storage

import (
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/moby/sys/user"

	"github.com/sdejongh/remotefs/pkg/models"
)

// Account databases consulted for AsUser; tests point these elsewhere.
var (
	passwdPath = "/etc/passwd"
	groupPath  = "/etc/group"
)

// identity is the account a worker process runs as
type identity struct {
	Name   string
	Uid    int
	Gid    int
	Groups []int
}

// ownership returns owner and group names with the numeric ids as details.
// Unknown ids are reported numerically.
func ownership(info fs.FileInfo) (string, string, map[string]string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", "", nil
	}
	uid, gid := int(st.Uid), int(st.Gid)
	owner, group := strconv.Itoa(uid), strconv.Itoa(gid)
	if u, err := user.LookupUid(uid); err == nil {
		owner = u.Name
	}
	if g, err := user.LookupGid(gid); err == nil {
		group = g.Name
	}
	return owner, group, map[string]string{
		"uid":   strconv.Itoa(uid),
		"gid":   strconv.Itoa(gid),
		"inode": strconv.FormatUint(uint64(st.Ino), 10),
		"nlink": strconv.FormatUint(uint64(st.Nlink), 10),
	}
}

// resolveIDs turns owner and group names or numeric ids into ids for chown;
// an empty value becomes -1 (unchanged).
func resolveIDs(op, p, owner, group string) (int, int, error) {
	uid, gid := -1, -1
	if owner != "" {
		if n, err := strconv.Atoi(owner); err == nil {
			uid = n
		} else {
			u, err := user.LookupUser(owner)
			if err != nil {
				return 0, 0, models.BadRequest(op, p, err, "%s: unknown user %q", op, owner)
			}
			uid = u.Uid
		}
	}
	if group != "" {
		if n, err := strconv.Atoi(group); err == nil {
			gid = n
		} else {
			g, err := user.LookupGroup(group)
			if err != nil {
				return 0, 0, models.BadRequest(op, p, err, "%s: unknown group %q", op, group)
			}
			gid = g.Gid
		}
	}
	return uid, gid, nil
}

// isolationFor returns the identity a call must run as, or nil when name is
// empty or already the effective user.
func isolationFor(op, p, name string) (*identity, error) {
	if name == "" {
		return nil, nil
	}
	eu, err := user.GetExecUserPath(name, nil, passwdPath, groupPath)
	if err != nil {
		return nil, models.BadRequest(op, p, err, "%s: unknown user %q", op, name)
	}
	if eu.Uid == os.Geteuid() {
		return nil, nil
	}
	return &identity{Name: name, Uid: eu.Uid, Gid: eu.Gid, Groups: eu.Sgids}, nil
}

// runAs makes cmd start under id. The kernel applies the credential between
// fork and exec, so the parent keeps its own identity.
func runAs(cmd *exec.Cmd, id *identity) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	groups := make([]uint32, 0, len(id.Groups))
	for _, g := range id.Groups {
		groups = append(groups, uint32(g))
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{
		Uid:    uint32(id.Uid),
		Gid:    uint32(id.Gid),
		Groups: groups,
	}
}
