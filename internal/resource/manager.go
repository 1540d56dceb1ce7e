// Package resource tracks ephemeral filesystem resources created while an
// operation is in flight and removes them when the operation ends.
package resource

import (
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/thoreinstein/snap/internal/logging"
)

// Kind distinguishes temporary files from temporary directories.
type Kind int

const (
	// TempFile is a single temporary file.
	TempFile Kind = iota
	// TempDir is a temporary directory removed recursively.
	TempDir
)

func (k Kind) String() string {
	if k == TempDir {
		return "dir"
	}
	return "file"
}

// Resource is a tracked temporary path.
type Resource struct {
	Path string
	Kind Kind
}

// Manager is a registry of temporary resources owned by one operation.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	tracked []Resource
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register starts tracking path. Registering a path that is already tracked
// is a no-op.
func (m *Manager) Register(path string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(path) >= 0 {
		return
	}
	m.tracked = append(m.tracked, Resource{Path: path, Kind: kind})
	m.logger.Debug("resource registered", "path", path, "kind", kind.String())
}

// Release stops tracking path without removing it. It is used once a
// temporary file has been renamed into its final location.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexLocked(path); i >= 0 {
		m.tracked = slices.Delete(m.tracked, i, i+1)
		m.logger.Debug("resource released", "path", path)
	}
}

// Tracked returns a snapshot of the currently tracked resources.
func (m *Manager) Tracked() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tracked)
}

// CreateTemp creates a temporary file in dir and registers it.
func (m *Manager) CreateTemp(dir, pattern string) (*os.File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "creating temp file")
	}
	m.Register(f.Name(), TempFile)
	return f, nil
}

// MkdirTemp creates a temporary directory in dir and registers it.
func (m *Manager) MkdirTemp(dir, pattern string) (string, error) {
	path, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return "", errors.Wrap(err, "creating temp directory")
	}
	m.Register(path, TempDir)
	return path, nil
}

// Cleanup removes every tracked resource, newest first, and stops tracking
// them. Individual failures are logged and returned but never stop the
// sweep. Calling Cleanup again with nothing tracked is a no-op.
func (m *Manager) Cleanup() []error {
	m.mu.Lock()
	pending := m.tracked
	m.tracked = nil
	m.mu.Unlock()

	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		r := pending[i]
		var err error
		if r.Kind == TempDir {
			err = os.RemoveAll(r.Path)
		} else {
			err = os.Remove(r.Path)
		}
		if err != nil && !os.IsNotExist(err) {
			m.logger.Error("cleanup failed", "path", r.Path, "kind", r.Kind.String(), "error", err)
			errs = append(errs, errors.Wrapf(err, "removing %s", r.Path))
			continue
		}
		m.logger.Debug("resource removed", "path", r.Path)
	}
	return errs
}

func (m *Manager) indexLocked(path string) int {
	return slices.IndexFunc(m.tracked, func(r Resource) bool { return r.Path == path })
}
