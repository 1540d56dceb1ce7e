// Package fileutil provides file system utilities including atomic write operations.
package fileutil

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/resource"
)

// TempSuffix is appended to the final path to form the staging path.
const TempSuffix = ".tmp"

// AtomicWriter produces files without ever exposing a partial write.
// Content goes to path+".tmp", registered with the resource manager, and is
// renamed into place on Commit. On failure the temp file is left for the
// manager's Cleanup.
type AtomicWriter struct {
	res *resource.Manager
}

// NewAtomicWriter creates a writer that registers temp files with res.
func NewAtomicWriter(res *resource.Manager) *AtomicWriter {
	return &AtomicWriter{res: res}
}

// Staged is fully written content waiting to be renamed into place.
type Staged struct {
	w        *AtomicWriter
	path     string
	tempPath string
}

// Path returns the final destination path.
func (s *Staged) Path() string { return s.path }

// TempPath returns the staging path.
func (s *Staged) TempPath() string { return s.tempPath }

// Stage writes content produced by fill to path+".tmp" with perm, then
// flushes and closes it. The caller is responsible for ensuring the parent
// directory exists.
func (w *AtomicWriter) Stage(ctx context.Context, path string, perm os.FileMode, fill func(io.Writer) error) (*Staged, error) {
	const op = "atomic.stage"
	tmp := path + TempSuffix

	if err := ctx.Err(); err != nil {
		return nil, snaperrors.Classify(op, path, err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, snaperrors.Classify(op, tmp, errors.Wrap(err, "creating temp file"))
	}
	w.res.Register(tmp, resource.TempFile)

	if err := fill(f); err != nil {
		f.Close()
		return nil, snaperrors.Classify(op, tmp, err)
	}

	// OpenFile's perm is filtered by umask
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return nil, snaperrors.Classify(op, tmp, errors.Wrap(err, "setting file permissions"))
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, snaperrors.Classify(op, tmp, errors.Wrap(err, "syncing temp file"))
	}

	if err := f.Close(); err != nil {
		return nil, snaperrors.Classify(op, tmp, errors.Wrap(err, "closing temp file"))
	}

	return &Staged{w: w, path: path, tempPath: tmp}, nil
}

// Commit renames the staged file into place and releases it from tracking.
// A cross-device rename surfaces as KindRenameFailed; there is no copy
// fallback.
func (s *Staged) Commit() error {
	if err := os.Rename(s.tempPath, s.path); err != nil {
		return snaperrors.Classify("atomic.commit", s.path, errors.Wrap(err, "renaming temp file"))
	}
	s.w.res.Release(s.tempPath)
	return nil
}

// WriteStream stages and commits content produced by fill.
func (w *AtomicWriter) WriteStream(ctx context.Context, path string, perm os.FileMode, fill func(io.Writer) error) error {
	staged, err := w.Stage(ctx, path, perm, fill)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// WriteFile writes data to path atomically.
func (w *AtomicWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	return w.WriteStream(context.Background(), path, perm, func(out io.Writer) error {
		_, err := out.Write(data)
		return errors.Wrap(err, "writing temp file")
	})
}

// AtomicWriteFile writes data to a file atomically using a temp file + rename pattern.
// This ensures interrupted writes leave the original file intact.
//
// The caller is responsible for ensuring the parent directory exists.
// Permissions are applied to the final file via the perm parameter.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	res := resource.NewManager()
	defer res.Cleanup()
	return NewAtomicWriter(res).WriteFile(path, data, perm)
}

// AtomicWriteJSONWithPerm writes v as indented JSON to path atomically with specified permissions.
// Uses 2-space indentation and appends a trailing newline for POSIX compliance.
//
// The caller is responsible for ensuring the parent directory exists.
func AtomicWriteJSONWithPerm(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling JSON")
	}

	// Add trailing newline for POSIX compliance
	data = append(data, '\n')

	return AtomicWriteFile(path, data, perm)
}

// AtomicWriteJSON writes v as indented JSON to path atomically.
// The file is created with 0644 permissions.
func AtomicWriteJSON(path string, v any) error {
	return AtomicWriteJSONWithPerm(path, v, 0o644)
}

// AtomicWriteYAMLWithPerm writes v as YAML to path atomically with specified permissions.
// Appends a trailing newline for POSIX compliance.
//
// The caller is responsible for ensuring the parent directory exists.
func AtomicWriteYAMLWithPerm(path string, v any, perm os.FileMode) (err error) {
	// yaml.Marshal panics on unmarshalable types; recover and return error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("marshaling YAML: %v", r)
		}
	}()

	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshaling YAML")
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	return AtomicWriteFile(path, data, perm)
}

// AtomicWriteYAML writes v as YAML to path atomically.
// The file is created with 0644 permissions.
func AtomicWriteYAML(path string, v any) error {
	return AtomicWriteYAMLWithPerm(path, v, 0o644)
}
