package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/models"
)

// mlstFacts is the fact set requested with OPTS MLST
const mlstFacts = "type;size;perm;modify;unix.mode;unix.owner;unix.group;"

// mlstTimeLayout is the YYYYMMDDhhmmss form of the modify fact; servers may
// append fractional seconds
const mlstTimeLayout = "20060102150405"

// factLine is one parsed MLST/MLSD entry
type factLine struct {
	facts map[string]string
	name  string
}

// parseFactLine splits "type=file;size=3;... name" into facts and pathname.
// Fact names are case-insensitive and stored lower case.
func parseFactLine(line string) (factLine, error) {
	line = strings.TrimLeft(strings.TrimRight(line, "\r\n"), " ")
	sp := strings.IndexByte(line, ' ')
	if sp <= 0 || !strings.Contains(line[:sp], "=") {
		return factLine{}, fmt.Errorf("malformed fact line %q", line)
	}

	fl := factLine{facts: map[string]string{}, name: line[sp+1:]}
	for _, fact := range strings.Split(line[:sp], ";") {
		if fact == "" {
			continue
		}
		key, value, ok := strings.Cut(fact, "=")
		if !ok {
			return factLine{}, fmt.Errorf("malformed fact %q", fact)
		}
		fl.facts[strings.ToLower(key)] = value
	}
	if _, ok := fl.facts["type"]; !ok {
		return factLine{}, fmt.Errorf("fact line without type: %q", line)
	}
	return fl, nil
}

// parseMLST extracts the fact line from a multi-line MLST reply. The fact
// line is normally indented by a space, but some servers drop it.
func parseMLST(reply string) (factLine, error) {
	var lastErr error
	for _, line := range strings.Split(reply, "\n") {
		fl, err := parseFactLine(line)
		if err == nil {
			return fl, nil
		}
		if strings.HasPrefix(line, " ") {
			lastErr = err
		}
	}
	if lastErr != nil {
		return factLine{}, lastErr
	}
	return factLine{}, fmt.Errorf("no fact line in MLST reply %q", reply)
}

// isDots reports whether the entry describes the listed directory or its parent
func (fl factLine) isDots() bool {
	t := strings.ToLower(fl.facts["type"])
	return t == "cdir" || t == "pdir" || fl.name == "." || fl.name == ".."
}

// object converts the facts into a RemoteObject at path p
func (fl factLine) object(p string) (models.RemoteObject, error) {
	kind, ref := models.KindFile, ""
	t := strings.ToLower(fl.facts["type"])
	switch {
	case t == "dir" || t == "cdir" || t == "pdir":
		kind = models.KindDirectory
	case t == "file":
	case strings.HasPrefix(t, "os.unix=slink"), strings.HasPrefix(t, "os.unix=symlink"):
		kind = models.KindLink
		if _, target, ok := strings.Cut(fl.facts["type"], ":"); ok {
			ref = target
		}
	default:
		return models.RemoteObject{}, fmt.Errorf("unknown entry type %q", fl.facts["type"])
	}

	obj := models.NewObject(kind, p)
	obj.Reference = ref
	if size, ok := fl.facts["size"]; ok {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return models.RemoteObject{}, fmt.Errorf("invalid size fact %q", size)
		}
		obj.Length = n
	}
	if mode, ok := fl.facts["unix.mode"]; ok {
		bits, err := strconv.ParseUint(strings.TrimPrefix(mode, "0o"), 8, 32)
		if err != nil {
			return models.RemoteObject{}, fmt.Errorf("invalid unix.mode fact %q", mode)
		}
		obj.Permission = models.PermissionFromBits(uint32(bits))
	}
	if modify, ok := fl.facts["modify"]; ok {
		ts, err := parseMLSTTime(modify)
		if err != nil {
			return models.RemoteObject{}, err
		}
		obj.ModificationTime = ts
	}
	obj.Owner = fl.facts["unix.owner"]
	obj.Group = fl.facts["unix.group"]
	if perm, ok := fl.facts["perm"]; ok {
		obj.Details = map[string]string{"perm": perm}
	}
	return obj, nil
}

func parseMLSTTime(s string) (time.Time, error) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	ts, err := time.ParseInLocation(mlstTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid modify fact %q", s)
	}
	return ts, nil
}

// childPath returns the absolute path of an MLSD entry under dir. Entry
// names are usually bare, but some servers send full paths.
func childPath(dir, name string) string {
	if platform.IsAbsolute(name) {
		return platform.Clean(name)
	}
	return platform.Join(dir, name)
}
