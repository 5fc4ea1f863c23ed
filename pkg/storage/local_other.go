//go:build !unix

package storage

import (
	"io/fs"
	"os/exec"

	"github.com/sdejongh/remotefs/pkg/models"
)

type identity struct {
	Name   string
	Uid    int
	Gid    int
	Groups []int
}

func ownership(info fs.FileInfo) (string, string, map[string]string) {
	return "", "", nil
}

func resolveIDs(op, p, owner, group string) (int, int, error) {
	return 0, 0, models.BadRequest(op, p, nil, "%s: ownership is not supported on this platform", op)
}

func isolationFor(op, p, name string) (*identity, error) {
	if name == "" {
		return nil, nil
	}
	return nil, models.BadRequest(op, p, nil, "%s: running as another user is not supported on this platform", op)
}

func runAs(cmd *exec.Cmd, id *identity) {}
