package models

import (
	"path"
	"time"
)

// Kind is the type of a filesystem entry
type Kind string

const (
	// KindDirectory is a directory
	KindDirectory Kind = "directory"
	// KindFile is a regular file
	KindFile Kind = "file"
	// KindLink is a symbolic link
	KindLink Kind = "link"
)

// UnknownLength marks an object whose size the backend did not report
const UnknownLength int64 = -1

// RemoteObject describes one filesystem entry as reported by a backend.
// It is a value: backends hand out copies and never do I/O through it.
type RemoteObject struct {
	// Kind is fixed at construction
	Kind Kind `json:"kind"`
	// Path is the absolute path of the entry
	Path string `json:"path"`
	// Reference is the link target, set only for KindLink
	Reference string `json:"reference,omitempty"`

	Length           int64      `json:"length"`
	Owner            string     `json:"owner,omitempty"`
	Group            string     `json:"group,omitempty"`
	Permission       Permission `json:"permission"`
	AccessTime       time.Time  `json:"access_time,omitempty"`
	ModificationTime time.Time  `json:"modification_time,omitempty"`

	// Details holds backend-specific extras (raw facts, uid/gid, etag, ...)
	Details map[string]string `json:"details,omitempty"`
}

// NewObject creates an object with every optional field marked unknown.
func NewObject(kind Kind, p string) RemoteObject {
	return RemoteObject{
		Kind:       kind,
		Path:       p,
		Length:     UnknownLength,
		Permission: NoPermission,
	}
}

// Basename returns the last element of the object path
func (o RemoteObject) Basename() string {
	return path.Base(o.Path)
}

// IsDir reports whether the object is a directory
func (o RemoteObject) IsDir() bool { return o.Kind == KindDirectory }

// IsFile reports whether the object is a regular file
func (o RemoteObject) IsFile() bool { return o.Kind == KindFile }

// IsLink reports whether the object is a symbolic link
func (o RemoteObject) IsLink() bool { return o.Kind == KindLink }

// HasLength reports whether the backend reported a size
func (o RemoteObject) HasLength() bool { return o.Length >= 0 }

// Same compares two objects by path and kind.
func (o RemoteObject) Same(other RemoteObject) bool {
	return o.Path == other.Path && o.Kind == other.Kind
}

// Detail returns a backend-specific extra, or "" when absent.
func (o RemoteObject) Detail(key string) string {
	if o.Details == nil {
		return ""
	}
	return o.Details[key]
}
