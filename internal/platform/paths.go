package platform

import (
	"path"
	"path/filepath"
	"strings"
)

// Remote paths (FTP, SFTP, object keys) always use forward slashes,
// regardless of the platform the client runs on.

// Clean normalizes a remote path. An empty path becomes ".". A backslash
// is an ordinary filename byte here.
func Clean(p string) string {
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// IsAbsolute checks if a remote path is absolute
func IsAbsolute(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Join joins remote path elements with forward slashes
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Base returns the last element of a remote path
func Base(p string) string {
	return path.Base(p)
}

// Dir returns all but the last element of a remote path
func Dir(p string) string {
	return path.Dir(p)
}

// Abs resolves p against cwd unless it is already absolute.
// The result is cleaned, so Abs(cwd, Abs(cwd, p)) == Abs(cwd, p).
func Abs(cwd, p string) string {
	if IsAbsolute(p) {
		return Clean(p)
	}
	if cwd == "" {
		cwd = "/"
	}
	return Clean(Join(cwd, p))
}

// Resolve resolves a link target relative to the directory holding the link.
func Resolve(linkPath, target string) string {
	if IsAbsolute(target) {
		return Clean(target)
	}
	return Clean(Join(Dir(linkPath), target))
}

// LocalAbs resolves p against cwd using the native separator.
func LocalAbs(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}

// ValidatePath checks if a path is usable by a backend
func ValidatePath(p string) error {
	if p == "" {
		return &PathError{Path: p, Message: "path is empty"}
	}
	if strings.ContainsRune(p, 0) {
		return &PathError{Path: p, Message: "path contains NUL byte"}
	}
	if strings.ContainsAny(p, "\r\n") {
		return &PathError{Path: p, Message: "path contains a line break"}
	}
	return nil
}

// PathError represents a path validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}
