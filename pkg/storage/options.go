package storage

import (
	"github.com/sdejongh/remotefs/pkg/models"
)

// Options holds the optional parameters of a primitive call
type Options struct {
	Permission models.Permission
	Owner      string
	Group      string
	Overwrite  bool
	// User runs the call as another OS account (local backend only)
	User string
	// Text makes ReadFile yield chunks that end on character boundaries
	Text bool
	// Encoding names the charset of the stored text; implies Text
	Encoding string
}

// Option sets one optional parameter
type Option func(*Options)

// WithPermission sets the permission of a created object, e.g. 755
func WithPermission(p models.Permission) Option {
	return func(o *Options) { o.Permission = p }
}

// WithOwner sets the owner of a created object, by name or numeric id
func WithOwner(owner string) Option {
	return func(o *Options) { o.Owner = owner }
}

// WithGroup sets the group of a created object, by name or numeric id
func WithGroup(group string) Option {
	return func(o *Options) { o.Group = group }
}

// WithOverwrite allows WriteFile and CopyPath to replace an existing target
func WithOverwrite(overwrite bool) Option {
	return func(o *Options) { o.Overwrite = overwrite }
}

// AsUser runs the call under another OS user
func AsUser(name string) Option {
	return func(o *Options) { o.User = name }
}

// AsText requests text chunks
func AsText() Option {
	return func(o *Options) { o.Text = true }
}

// WithEncoding sets the charset used to decode reads and encode writes
func WithEncoding(charset string) Option {
	return func(o *Options) {
		o.Encoding = charset
		o.Text = true
	}
}

func applyOptions(opts []Option) Options {
	o := Options{Permission: models.NoPermission}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// rejectUser fails calls that request another identity on a backend that
// cannot switch users.
func rejectUser(op, path string, o Options) error {
	if o.User != "" {
		return models.BadRequest(op, path, nil, "%s: running as user %q is only supported by the local backend", op, o.User)
	}
	return nil
}

// attributeOptions returns the options that carry obj's permission, owner
// and group.
func attributeOptions(obj models.RemoteObject) []Option {
	opts := []Option{WithPermission(obj.Permission)}
	if obj.Owner != "" {
		opts = append(opts, WithOwner(obj.Owner))
	}
	if obj.Group != "" {
		opts = append(opts, WithGroup(obj.Group))
	}
	return opts
}
