// Package config provides configuration management for snap using Viper.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/paths"
	"github.com/thoreinstein/snap/pkg/fileutil"
)

// AppName is the application name used for config file naming.
const AppName = paths.AppName

// CurrentVersion is the only config file version this build understands.
const CurrentVersion = 1

// Config represents the top-level configuration structure.
type Config struct {
	Version int `mapstructure:"version" yaml:"version"`

	// ArchiveDir holds directory archives.
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`

	// BackupDir holds single-file backups.
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`

	// SourceRoot is mirrored under BackupDir. Empty means the working
	// directory.
	SourceRoot string `mapstructure:"source_root" yaml:"source_root,omitempty"`

	// Exclude lists glob patterns, "**" included, skipped when archiving
	// and comparing.
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`

	ChecksumAlgorithm string `mapstructure:"checksum_algorithm" yaml:"checksum_algorithm"`
	VerifyOnCreate    bool   `mapstructure:"verify_on_create" yaml:"verify_on_create"`
	VerifyWorkers     int    `mapstructure:"verify_workers" yaml:"verify_workers"`

	// Prefix starts archive names. Empty means the source directory name.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// IncludeVCS embeds the git branch and commit hash in archive names.
	IncludeVCS bool `mapstructure:"include_vcs" yaml:"include_vcs"`

	// Timeout bounds each operation. Zero means no deadline.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	ExitCodes ExitCodes `mapstructure:"exit_codes" yaml:"exit_codes"`
}

// ExitCodes maps successful outcomes to process exit codes.
type ExitCodes struct {
	Created   int `mapstructure:"created" yaml:"created"`
	Identical int `mapstructure:"identical" yaml:"identical"`
}

// DefaultExclude is excluded when no exclude list is configured.
var DefaultExclude = []string{".git", "**/.DS_Store"}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version:           CurrentVersion,
		ArchiveDir:        paths.ArchiveDir(),
		BackupDir:         paths.BackupDir(),
		Exclude:           append([]string(nil), DefaultExclude...),
		ChecksumAlgorithm: "sha256",
		VerifyWorkers:     4,
		IncludeVCS:        true,
	}
}

// Init initializes Viper with default configuration.
// Call this once at application startup before accessing config values.
// Any previously loaded state is discarded.
func Init() {
	viper.Reset()

	// Config file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Search paths (in order of precedence)
	viper.AddConfigPath(".")
	viper.AddConfigPath(paths.ConfigDir())

	// Environment variable support
	viper.SetEnvPrefix("SNAP")
	viper.AutomaticEnv()

	// Defaults
	d := Default()
	viper.SetDefault("version", d.Version)
	viper.SetDefault("archive_dir", d.ArchiveDir)
	viper.SetDefault("backup_dir", d.BackupDir)
	viper.SetDefault("source_root", d.SourceRoot)
	viper.SetDefault("exclude", d.Exclude)
	viper.SetDefault("checksum_algorithm", d.ChecksumAlgorithm)
	viper.SetDefault("verify_on_create", d.VerifyOnCreate)
	viper.SetDefault("verify_workers", d.VerifyWorkers)
	viper.SetDefault("prefix", d.Prefix)
	viper.SetDefault("include_vcs", d.IncludeVCS)
	viper.SetDefault("timeout", d.Timeout)
	viper.SetDefault("exit_codes.created", d.ExitCodes.Created)
	viper.SetDefault("exit_codes.identical", d.ExitCodes.Identical)
}

// Load reads the configuration file.
// If path is provided, it reads from that specific file.
// If path is empty, it searches in the default locations and falls back to
// defaults when no file is found. The result is validated; every failure is
// a KindConfig error.
func Load(path string) (*Config, error) {
	const op = "config.load"

	if path != "" {
		viper.SetConfigFile(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && path == "":
			// implicit load: defaults only
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			return nil, snaperrors.E(snaperrors.KindConfig, op, path, errors.Wrap(err, "config file not found"))
		default:
			return nil, snaperrors.E(snaperrors.KindConfig, op, path, errors.Wrap(err, "reading config file"))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, snaperrors.E(snaperrors.KindConfig, op, viper.ConfigFileUsed(), errors.Wrap(err, "unmarshaling config"))
	}
	cfg.expand()

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, snaperrors.E(snaperrors.KindConfig, op, viper.ConfigFileUsed(), errors.Wrap(errors.Join(errs...), "validating config"))
	}

	return &cfg, nil
}

// expand resolves ~ in directory settings.
func (c *Config) expand() {
	c.ArchiveDir = paths.ExpandHome(c.ArchiveDir)
	c.BackupDir = paths.ExpandHome(c.BackupDir)
	c.SourceRoot = paths.ExpandHome(c.SourceRoot)
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories. An existing file is replaced atomically.
func WriteDefault(path string) error {
	if path == "" {
		path = paths.ConfigFile()
	}
	if err := paths.EnsureDir(filepath.Dir(path), 0o755); err != nil {
		return snaperrors.E(snaperrors.KindDirectoryCreationFailed, "config.write", filepath.Dir(path), err)
	}
	if err := fileutil.AtomicWriteYAML(path, Default()); err != nil {
		return snaperrors.Classify("config.write", path, err)
	}
	return nil
}
