package config

import (
	"fmt"
	"io"
	"sort"

	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// Backend names accepted in a profile
const (
	BackendLocal = "local"
	BackendFTP   = "ftp"
	BackendSFTP  = "sftp"
	BackendMinIO = "minio"
)

// DefaultProfile is the profile used when none is named
const DefaultProfile = "local"

// Config represents the application configuration
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
	Transfer       TransferConfig     `yaml:"transfer"`
	Output         OutputConfig       `yaml:"output"`
	Logging        LoggingConfig      `yaml:"logging"`
}

// Profile is a named connection. Only the section matching Backend is read.
type Profile struct {
	Backend string               `yaml:"backend"`
	Local   *storage.LocalConfig `yaml:"local,omitempty"`
	FTP     *storage.FTPConfig   `yaml:"ftp,omitempty"`
	SFTP    *storage.SFTPConfig  `yaml:"sftp,omitempty"`
	MinIO   *storage.MinIOConfig `yaml:"minio,omitempty"`
}

// TransferConfig holds transfer tuning shared by every profile
type TransferConfig struct {
	ChunkSize      int   `yaml:"chunk_size"`
	BandwidthLimit int64 `yaml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	// LegacyCopy copies only the first entry of each directory
	LegacyCopy bool `yaml:"legacy_copy"`
	// Verify is the comparison method run after cp --verify
	Verify string `yaml:"verify"`
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show progress bars
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Format     string `yaml:"format"` // "json" or "text"
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	File       string `yaml:"file"`   // Log file path (empty = stderr)
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DefaultProfile: DefaultProfile,
		Profiles: map[string]Profile{
			DefaultProfile: {Backend: BackendLocal},
		},
		Transfer: TransferConfig{
			ChunkSize:      storage.DefaultChunkSize,
			BandwidthLimit: 0,
			Verify:         "md5",
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
			Quiet:    false,
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Format:     "text",
			Level:      "info",
			File:       "",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return &models.ValidationError{
			Field:   "default_profile",
			Message: fmt.Sprintf("profile %q is not defined", c.DefaultProfile),
		}
	}
	for _, name := range c.ProfileNames() {
		if err := c.Profiles[name].validate("profiles." + name); err != nil {
			return err
		}
	}

	if c.Transfer.ChunkSize < 1024 {
		return &models.ValidationError{
			Field:   "transfer.chunk_size",
			Message: "must be at least 1024 bytes",
		}
	}
	if c.Transfer.BandwidthLimit < 0 {
		return &models.ValidationError{
			Field:   "transfer.bandwidth_limit",
			Message: "cannot be negative",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}

func (p Profile) validate(field string) error {
	switch p.Backend {
	case BackendLocal:
	case BackendFTP:
		if p.FTP == nil || p.FTP.Host == "" {
			return &models.ValidationError{Field: field + ".ftp.host", Message: "is required"}
		}
	case BackendSFTP:
		if p.SFTP == nil || p.SFTP.Host == "" {
			return &models.ValidationError{Field: field + ".sftp.host", Message: "is required"}
		}
	case BackendMinIO:
		if p.MinIO == nil || p.MinIO.Endpoint == "" {
			return &models.ValidationError{Field: field + ".minio.endpoint", Message: "is required"}
		}
		if p.MinIO.Bucket == "" {
			return &models.ValidationError{Field: field + ".minio.bucket", Message: "is required"}
		}
	default:
		return &models.ValidationError{
			Field:   field + ".backend",
			Message: "must be 'local', 'ftp', 'sftp' or 'minio'",
		}
	}
	return nil
}

// ProfileNames returns the defined profiles in sorted order
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns the named profile, or the default one for ""
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (defined: %v)", name, c.ProfileNames())
	}
	return p, nil
}

// NewBackend builds the unconfigured backend of p. chunkSize applies when the
// profile does not set its own.
func (p Profile) NewBackend(chunkSize int, logger logging.Logger) (storage.Backend, error) {
	opts := []storage.BackendOption{storage.WithLogger(logger)}
	switch p.Backend {
	case BackendLocal:
		cfg := storage.LocalConfig{}
		if p.Local != nil {
			cfg = *p.Local
		}
		cfg.ChunkSize = orDefault(cfg.ChunkSize, chunkSize)
		return storage.NewLocal(cfg, opts...), nil
	case BackendFTP:
		cfg := *p.FTP
		cfg.ChunkSize = orDefault(cfg.ChunkSize, chunkSize)
		return storage.NewFTP(cfg, opts...), nil
	case BackendSFTP:
		cfg := *p.SFTP
		cfg.ChunkSize = orDefault(cfg.ChunkSize, chunkSize)
		return storage.NewSFTP(cfg, opts...), nil
	case BackendMinIO:
		cfg := *p.MinIO
		cfg.ChunkSize = orDefault(cfg.ChunkSize, chunkSize)
		return storage.NewMinIO(cfg, opts...), nil
	}
	return nil, models.Configuration("configure", nil, "unknown backend %q", p.Backend)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// NewLogger builds the logger described by c. A disabled config yields a
// null logger; an empty file logs to stderr.
func (c LoggingConfig) NewLogger(stderr io.Writer) (logging.Logger, error) {
	if !c.Enabled {
		return logging.NewNullLogger(), nil
	}
	format := logging.FormatText
	if c.Format == "json" {
		format = logging.FormatJSON
	}
	level := logging.ParseLevel(c.Level)
	if c.File == "" {
		return logging.NewStreamLogger(stderr, format, level), nil
	}
	logger, err := logging.NewFileLogger(logging.FileLoggerConfig{
		Path:       c.File,
		Format:     format,
		Level:      level,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
