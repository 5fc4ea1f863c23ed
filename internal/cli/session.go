package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdejongh/remotefs/pkg/config"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/output"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// ExitError carries a process exit code for results that are not errors
// in themselves, such as a failed verification
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// session holds what one command invocation shares: configuration, logger,
// formatter and the clients opened so far, one per profile
type session struct {
	cfg       *config.Config
	logger    logging.Logger
	formatter output.Formatter
	stdout    io.Writer
	stderr    io.Writer
	clients   map[string]*storage.Client
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagsToConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	formatter, err := output.New(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		logger:    logger,
		formatter: formatter,
		stdout:    cmd.OutOrStdout(),
		stderr:    cmd.ErrOrStderr(),
		clients:   make(map[string]*storage.Client),
	}
	if cfg.Output.Quiet {
		s.stdout = io.Discard
	}
	return s, nil
}

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	if globalFlags.ConfigFile != "" {
		return config.LoadFromFile(globalFlags.ConfigFile)
	}
	return config.LoadDefault()
}

// applyFlagsToConfig overrides config values with command-line flags
func applyFlagsToConfig(cfg *config.Config) {
	if globalFlags.Profile != "" {
		cfg.DefaultProfile = globalFlags.Profile
	}
	if globalFlags.Output != "" {
		cfg.Output.Format = globalFlags.Output
	}

	// A log file enables logging
	if globalFlags.LogFile != "" {
		cfg.Logging.Enabled = true
		cfg.Logging.File = globalFlags.LogFile
	}
	if globalFlags.LogFormat != "" {
		cfg.Logging.Format = globalFlags.LogFormat
	}
	if globalFlags.LogLevel != "" {
		cfg.Logging.Level = globalFlags.LogLevel
	}

	// Verbose mode logs everything to stderr unless a file was chosen
	if globalFlags.Verbose {
		cfg.Logging.Enabled = true
		if globalFlags.LogLevel == "" {
			cfg.Logging.Level = "debug"
		}
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}
}

// location is a path on a named profile
type location struct {
	Profile string
	Path    string
}

func (l location) String() string {
	return l.Profile + ":" + l.Path
}

// parseLocation splits "profile:path". The prefix only counts as a profile
// when one of that name is defined, so local paths containing a colon still
// work.
func (s *session) parseLocation(arg string) location {
	if name, p, ok := strings.Cut(arg, ":"); ok {
		if _, defined := s.cfg.Profiles[name]; defined {
			if p == "" {
				p = "."
			}
			return location{Profile: name, Path: p}
		}
	}
	return location{Profile: s.cfg.DefaultProfile, Path: arg}
}

// client returns the configured client of a profile, connecting on first use
func (s *session) client(ctx context.Context, profile string) (*storage.Client, error) {
	if c, ok := s.clients[profile]; ok {
		return c, nil
	}
	p, err := s.cfg.Profile(profile)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logging.Fields{"profile": profile})
	backend, err := p.NewBackend(s.cfg.Transfer.ChunkSize, logger)
	if err != nil {
		return nil, err
	}
	if err := backend.Configure(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect profile %q: %w", profile, err)
	}

	opts := []storage.ClientOption{storage.WithClientLogger(logger)}
	if s.cfg.Transfer.LegacyCopy {
		opts = append(opts, storage.WithLegacyDirectoryCopy())
	}
	c := storage.NewClient(backend, opts...)
	s.clients[profile] = c
	return c, nil
}

// localProfile keys the implicit local client of put and get
const localProfile = "(local)"

// openLocal returns a client on the local filesystem for arg, whatever the
// profiles say
func (s *session) openLocal(ctx context.Context, arg string) (*storage.Client, location, error) {
	loc := location{Profile: localProfile, Path: arg}
	if c, ok := s.clients[localProfile]; ok {
		return c, loc, nil
	}
	logger := s.logger.WithFields(logging.Fields{"profile": localProfile})
	backend := storage.NewLocal(storage.LocalConfig{ChunkSize: s.cfg.Transfer.ChunkSize}, storage.WithLogger(logger))
	if err := backend.Configure(ctx); err != nil {
		return nil, loc, err
	}
	c := storage.NewClient(backend, storage.WithClientLogger(logger))
	s.clients[localProfile] = c
	return c, loc, nil
}

// open parses arg and returns its client and path
func (s *session) open(ctx context.Context, arg string) (*storage.Client, location, error) {
	loc := s.parseLocation(arg)
	c, err := s.client(ctx, loc.Profile)
	return c, loc, err
}

// progress returns the progress display, or nil when disabled
func (s *session) progress() *output.Progress {
	if !s.cfg.Output.Progress || s.cfg.Output.Format == "json" {
		return nil
	}
	return output.NewProgress(s.stderr)
}

func (s *session) Close() error {
	var first error
	for name, c := range s.clients {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close profile %q: %w", name, err)
		}
	}
	if err := s.logger.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// withSession runs fn with a fresh session and closes it afterwards
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}
