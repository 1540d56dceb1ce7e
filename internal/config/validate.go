package config

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/thoreinstein/snap/internal/compare"
	"github.com/thoreinstein/snap/internal/snapshot"
)

// Validation errors for configuration fields.
var (
	// ErrUnsupportedVersion indicates the version field is not CurrentVersion.
	ErrUnsupportedVersion = errors.New("unsupported config version")

	// ErrInvalidPath indicates a path value is malformed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSameRoot indicates archives and backups would share a directory.
	ErrSameRoot = errors.New("archive_dir and backup_dir must differ")

	// ErrOutOfRange indicates a numeric setting is outside its allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// Validate checks a Config for validity.
// Returns nil if valid, or a slice of validation errors.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{errors.New("config is nil")}
	}

	var errs []error

	if cfg.Version != CurrentVersion {
		errs = append(errs, errors.Wrapf(ErrUnsupportedVersion, "%d", cfg.Version))
	}

	for field, path := range map[string]string{
		"archive_dir": cfg.ArchiveDir,
		"backup_dir":  cfg.BackupDir,
	} {
		if path == "" {
			errs = append(errs, &PathError{Field: field, Path: path, Err: errors.New("must be set")})
			continue
		}
		if err := validatePath(path); err != nil {
			errs = append(errs, &PathError{Field: field, Path: path, Err: err})
		}
	}
	if err := validatePath(cfg.SourceRoot); err != nil {
		errs = append(errs, &PathError{Field: "source_root", Path: cfg.SourceRoot, Err: err})
	}
	if cfg.ArchiveDir != "" && filepath.Clean(cfg.ArchiveDir) == filepath.Clean(cfg.BackupDir) {
		errs = append(errs, ErrSameRoot)
	}

	if _, err := compare.NewMatcher(cfg.Exclude); err != nil {
		errs = append(errs, &FieldError{Field: "exclude", Err: err})
	}
	if _, err := snapshot.ParseAlgorithm(cfg.ChecksumAlgorithm); err != nil {
		errs = append(errs, &FieldError{Field: "checksum_algorithm", Err: err})
	}

	if cfg.VerifyWorkers < 1 {
		errs = append(errs, &FieldError{Field: "verify_workers", Err: errors.Wrapf(ErrOutOfRange, "%d < 1", cfg.VerifyWorkers)})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, &FieldError{Field: "timeout", Err: errors.Wrapf(ErrOutOfRange, "%s < 0", cfg.Timeout)})
	}
	for field, code := range map[string]int{
		"exit_codes.created":   cfg.ExitCodes.Created,
		"exit_codes.identical": cfg.ExitCodes.Identical,
	} {
		if code < 0 || code > 255 {
			errs = append(errs, &FieldError{Field: field, Err: errors.Wrapf(ErrOutOfRange, "%d not in 0-255", code)})
		}
	}

	return errs
}

// validatePath checks if a path string is well-formed.
// It does not check if the path exists, only that it's syntactically valid.
func validatePath(path string) error {
	// Empty paths are valid (they mean "use default")
	if path == "" {
		return nil
	}

	// Check for null bytes which are never valid in paths
	if strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}

	return nil
}

// FieldError represents an invalid value for a specific setting.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// PathError represents an error for a specific path field.
type PathError struct {
	Field string
	Path  string
	Err   error
}

func (e *PathError) Error() string {
	return e.Field + ": " + e.Err.Error() + ": " + e.Path
}

func (e *PathError) Unwrap() error {
	return e.Err
}
