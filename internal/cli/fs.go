package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// attrFlags are the attribute options shared by write commands
type attrFlags struct {
	permission string
	owner      string
	group      string
	asUser     string
	text       bool
	encoding   string
}

func (f *attrFlags) register(cmd *cobra.Command, write bool) {
	if write {
		cmd.Flags().StringVarP(&f.permission, "mode", "m", "", "permission digits to apply, e.g. 644")
		cmd.Flags().StringVar(&f.owner, "owner", "", "owner to apply (name or id)")
		cmd.Flags().StringVar(&f.group, "group", "", "group to apply (name or id)")
	}
	cmd.Flags().StringVar(&f.asUser, "as-user", "", "run the operation as this local user (local profiles, root only)")
	cmd.Flags().BoolVar(&f.text, "text", false, "treat contents as UTF-8 text")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "text encoding of the file (implies --text)")
}

func (f *attrFlags) options() ([]storage.Option, error) {
	var opts []storage.Option
	if f.permission != "" {
		perm, err := parsePermission(f.permission)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithPermission(perm))
	}
	if f.owner != "" {
		opts = append(opts, storage.WithOwner(f.owner))
	}
	if f.group != "" {
		opts = append(opts, storage.WithGroup(f.group))
	}
	if f.asUser != "" {
		opts = append(opts, storage.AsUser(f.asUser))
	}
	if f.text {
		opts = append(opts, storage.AsText())
	}
	if f.encoding != "" {
		opts = append(opts, storage.WithEncoding(f.encoding))
	}
	return opts, nil
}

// parsePermission reads permission digits as written, e.g. "755"
func parsePermission(s string) (models.Permission, error) {
	perm, err := models.ParsePermission(s)
	if err != nil {
		return models.NoPermission, models.BadRequest("chmod", "", err, "%v", err)
	}
	return perm, nil
}

// NewListCommand creates the ls command
func NewListCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "ls [profile:]path...",
		Short: "List directory contents",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					obj, err := c.GetPath(ctx, loc.Path, opts...)
					if err != nil {
						return err
					}
					objects := []models.RemoteObject{obj}
					if obj.IsDir() {
						if objects, err = c.ListDirectory(ctx, loc.Path, opts...); err != nil {
							return err
						}
					}
					if len(args) > 1 && s.formatter.Name() == "human" {
						fmt.Fprintf(s.stdout, "%s:\n", loc)
					}
					if err := s.formatter.Objects(s.stdout, objects); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}

// NewStatCommand creates the stat command
func NewStatCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "stat [profile:]path",
		Short: "Show the attributes of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				c, loc, err := s.open(ctx, args[0])
				if err != nil {
					return err
				}
				obj, err := c.GetPath(ctx, loc.Path, opts...)
				if err != nil {
					return err
				}
				return s.formatter.Object(s.stdout, obj)
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}

// NewTestCommand creates the test command, which reports through its exit
// status whether a path exists or has a given kind
func NewTestCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "test [profile:]path",
		Short: "Check whether a path exists (exit 0) or not (exit 1)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c, loc, err := s.open(ctx, args[0])
				if err != nil {
					return err
				}
				var ok bool
				switch kind {
				case "", "exists":
					ok, err = c.PathExists(ctx, loc.Path)
				case "file":
					ok, err = c.PathIsFile(ctx, loc.Path)
				case "dir", "directory":
					ok, err = c.PathIsDirectory(ctx, loc.Path)
				case "link":
					ok, err = c.PathIsLink(ctx, loc.Path)
				default:
					return fmt.Errorf("invalid kind: %s (valid: exists, file, dir, link)", kind)
				}
				if models.IsNotFound(err) {
					ok, err = false, nil
				}
				if err != nil {
					return err
				}
				if !ok {
					return &ExitError{Code: 1}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "exists", "check: exists, file, dir, link")
	return cmd
}

// NewCatCommand creates the cat command
func NewCatCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "cat [profile:]path...",
		Short: "Print file contents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					it, err := c.ReadFile(ctx, loc.Path, opts...)
					if err != nil {
						return err
					}
					_, err = io.Copy(cmd.OutOrStdout(), it.Reader())
					it.Close()
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}

// NewMkdirCommand creates the mkdir command
func NewMkdirCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "mkdir [profile:]path...",
		Short: "Create directories and their parents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					obj, err := c.MakeDirectory(ctx, loc.Path, opts...)
					if err != nil {
						return err
					}
					if globalFlags.Verbose {
						s.formatter.Object(s.stdout, obj)
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, true)
	return cmd
}

// NewChmodCommand creates the chmod command
func NewChmodCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "chmod mode [profile:]path...",
		Short: "Change permission bits, e.g. chmod 640 backup:/data/file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parsePermission(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args[1:] {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					if _, err := c.SetPathPermission(ctx, loc.Path, perm, opts...); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}

// NewChownCommand creates the chown command
func NewChownCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "chown owner[:group] [profile:]path...",
		Short: "Change owner and/or group, e.g. chown alice:staff or chown :staff",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, group, _ := strings.Cut(args[0], ":")
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args[1:] {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					if _, err := c.SetPathOwner(ctx, loc.Path, owner, group, opts...); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}

// NewChecksumCommand creates the md5sum command
func NewChecksumCommand() *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "md5sum [profile:]path...",
		Short: "Print MD5 checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := attrs.options()
				if err != nil {
					return err
				}
				for _, arg := range args {
					c, loc, err := s.open(ctx, arg)
					if err != nil {
						return err
					}
					sum, err := c.ChecksumFile(ctx, loc.Path, opts...)
					if err != nil {
						return err
					}
					if err := s.formatter.Checksum(s.stdout, arg, sum); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	attrs.register(cmd, false)
	return cmd
}
