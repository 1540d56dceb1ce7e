package compare

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/moby/patternmatcher"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

// Matcher decides which paths are excluded from snapshots. Patterns use
// .dockerignore semantics: "**" matches any number of directories and a
// pattern that matches a directory excludes everything below it.
type Matcher struct {
	// patternmatcher compiles patterns lazily and is not safe for
	// concurrent use.
	mu       sync.Mutex
	pm       *patternmatcher.PatternMatcher
	patterns []string
}

// NewMatcher compiles patterns. A malformed pattern is a KindConfig error.
func NewMatcher(patterns []string) (*Matcher, error) {
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, snaperrors.E(snaperrors.KindConfig, "exclude", "", errors.Wrap(err, "invalid exclude pattern"))
	}
	return &Matcher{pm: pm, patterns: patterns}, nil
}

// Patterns returns the patterns the matcher was built from.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return m.patterns
}

// Excluded reports whether rel, a slash-separated path relative to the
// snapshot root, is excluded. A nil Matcher excludes nothing.
func (m *Matcher) Excluded(rel string) bool {
	if m == nil || rel == "" || rel == "." {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	matched, err := m.pm.MatchesOrParentMatches(filepath.FromSlash(rel))
	return err == nil && matched
}

// Leaf is a file or symlink found under a snapshot root.
type Leaf struct {
	// Rel is the slash-separated path relative to the root.
	Rel string

	// Path is the absolute filesystem path.
	Path string

	Entry fs.DirEntry
}

// IsSymlink reports whether the leaf is a symbolic link.
func (l Leaf) IsSymlink() bool {
	return l.Entry.Type()&fs.ModeSymlink != 0
}

// Walk calls fn for every regular file and symlink under root that is not
// excluded, in lexical order. Symlinks are reported, never followed, and
// directories are not reported at all. ctx is checked before each entry.
func (m *Matcher) Walk(ctx context.Context, root string, fn func(Leaf) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if m.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			return nil
		case d.Type().IsRegular(), d.Type()&fs.ModeSymlink != 0:
			return fn(Leaf{Rel: rel, Path: path, Entry: d})
		default:
			// Devices, sockets and pipes have no content to snapshot.
			return nil
		}
	})
}

// Leaves collects the result of Walk.
func (m *Matcher) Leaves(ctx context.Context, root string) ([]Leaf, error) {
	var leaves []Leaf
	err := m.Walk(ctx, root, func(l Leaf) error {
		leaves = append(leaves, l)
		return nil
	})
	return leaves, err
}
