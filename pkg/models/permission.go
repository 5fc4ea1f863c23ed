package models

import (
	"fmt"
	"io/fs"
	"strconv"
)

// Permission is a permission written the way people type it: the decimal
// digits read as octal, so Permission(755) means mode 0o755.
type Permission int

// NoPermission marks an unknown or unspecified permission
const NoPermission Permission = -1

// ParsePermission parses "755", "0755" or "0o755".
func ParsePermission(s string) (Permission, error) {
	if len(s) > 2 && (s[:2] == "0o" || s[:2] == "0O") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return NoPermission, fmt.Errorf("invalid permission %q", s)
	}
	if v > 0o7777 {
		return NoPermission, fmt.Errorf("invalid permission %q: out of range", s)
	}
	return PermissionFromBits(uint32(v)), nil
}

// PermissionFromMode converts OS mode bits into the octal-looking form.
// Setuid, setgid and sticky bits map to the leading digit.
func PermissionFromMode(mode fs.FileMode) Permission {
	bits := uint64(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	v, _ := strconv.Atoi(strconv.FormatUint(bits, 8))
	return Permission(v)
}

// PermissionFromBits converts raw unix mode bits (e.g. 0o100644 from a wire
// attribute) into the octal-looking form, dropping the file type bits.
func PermissionFromBits(bits uint32) Permission {
	v, _ := strconv.Atoi(strconv.FormatUint(uint64(bits&0o7777), 8))
	return Permission(v)
}

// IsSet reports whether the permission carries a value
func (p Permission) IsSet() bool { return p >= 0 }

// Validate checks that every digit is octal and the value fits 0o7777
func (p Permission) Validate() error {
	if !p.IsSet() {
		return fmt.Errorf("permission is not set")
	}
	_, err := ParsePermission(strconv.Itoa(int(p)))
	return err
}

// Bits returns the numeric unix mode bits (755 -> 0o755).
func (p Permission) Bits() (uint32, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strconv.Itoa(int(p)), 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// FileMode returns the Go file mode for the permission.
func (p Permission) FileMode() (fs.FileMode, error) {
	bits, err := p.Bits()
	if err != nil {
		return 0, err
	}
	mode := fs.FileMode(bits & 0o777)
	if bits&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if bits&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if bits&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode, nil
}

// String renders the permission as three or four octal digits
func (p Permission) String() string {
	if !p.IsSet() {
		return "-"
	}
	return fmt.Sprintf("%03d", int(p))
}
