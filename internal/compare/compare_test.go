package compare

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
)

// writeTree creates files under root from a map of slash paths to content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newComparator(t *testing.T, patterns ...string) *Comparator {
	t.Helper()
	m, err := NewMatcher(patterns)
	require.NoError(t, err)
	return New(m, WithLogger(logging.ForTest(t)))
}

func TestMatcher_Excluded(t *testing.T) {
	m, err := NewMatcher([]string{".git", "**/.DS_Store", "*.log", "build/**", "**/node_modules"})
	require.NoError(t, err)

	tests := []struct {
		rel  string
		want bool
	}{
		{".git", true},
		{".git/config", true},
		{"src/.git", false},
		{".DS_Store", true},
		{"a/b/.DS_Store", true},
		{"app.log", true},
		{"logs/app.log", false},
		{"build/out/bin", true},
		{"web/node_modules/x/index.js", true},
		{"src/main.go", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Excluded(tt.rel))
		})
	}
}

func TestMatcher_NilExcludesNothing(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Excluded("anything"))
	assert.Nil(t, m.Patterns())
}

func TestNewMatcher_BadPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[unclosed"})
	require.Error(t, err)
	assert.True(t, snaperrors.Is(err, snaperrors.KindConfig))
}

func TestMatcher_WalkSkipsDirsAndExcluded(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.txt":        "b",
		"a/c.txt":      "c",
		".git/HEAD":    "ref",
		"a/.DS_Store":  "junk",
		"empty/.keep2": "",
	})
	require.NoError(t, os.Mkdir(filepath.Join(root, "hollow"), 0o755))
	require.NoError(t, os.Symlink("b.txt", filepath.Join(root, "link")))

	m, err := NewMatcher([]string{".git", "**/.DS_Store"})
	require.NoError(t, err)

	leaves, err := m.Leaves(context.Background(), root)
	require.NoError(t, err)

	var rels []string
	for _, l := range leaves {
		rels = append(rels, l.Rel)
	}
	assert.Equal(t, []string{"a/c.txt", "b.txt", "empty/.keep2", "link"}, rels)
	assert.True(t, leaves[3].IsSymlink())
}

func TestComparator_Dirs(t *testing.T) {
	base := map[string]string{
		"README.md":       "hello",
		"src/main.go":     "package main",
		"src/lib/util.go": "package lib",
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, candidate string)
		want   bool
	}{
		{
			name:   "identical",
			mutate: func(*testing.T, string) {},
			want:   true,
		},
		{
			name: "content changed same size",
			mutate: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"README.md": "jello"})
			},
			want: false,
		},
		{
			name: "size changed",
			mutate: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"README.md": "hello!"})
			},
			want: false,
		},
		{
			name: "file added",
			mutate: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"NEW": ""})
			},
			want: false,
		},
		{
			name: "file removed",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, "src", "main.go")))
			},
			want: false,
		},
		{
			name: "file renamed",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.Rename(filepath.Join(dir, "README.md"), filepath.Join(dir, "README.txt")))
			},
			want: false,
		},
		{
			name: "excluded file added",
			mutate: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"src/.DS_Store": "junk", ".git/HEAD": "x"})
			},
			want: true,
		},
		{
			name: "empty directory added",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty", "nested"), 0o755))
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := t.TempDir()
			cand := t.TempDir()
			writeTree(t, ref, base)
			writeTree(t, cand, base)
			tt.mutate(t, cand)

			c := newComparator(t, ".git", "**/.DS_Store")
			got, err := c.Dirs(context.Background(), cand, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComparator_DirsExcludedOnReferenceSide(t *testing.T) {
	ref := t.TempDir()
	cand := t.TempDir()
	writeTree(t, ref, map[string]string{"a.txt": "a", "debug.log": "noise"})
	writeTree(t, cand, map[string]string{"a.txt": "a"})

	got, err := newComparator(t, "*.log").Dirs(context.Background(), cand, ref)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestComparator_DirsSymlinks(t *testing.T) {
	ref := t.TempDir()
	cand := t.TempDir()
	writeTree(t, ref, map[string]string{"a.txt": "a", "b.txt": "b"})
	writeTree(t, cand, map[string]string{"a.txt": "a", "b.txt": "b"})
	require.NoError(t, os.Symlink("a.txt", filepath.Join(ref, "link")))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(cand, "link")))

	c := newComparator(t)
	got, err := c.Dirs(context.Background(), cand, ref)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, os.Remove(filepath.Join(cand, "link")))
	require.NoError(t, os.Symlink("b.txt", filepath.Join(cand, "link")))
	got, err = c.Dirs(context.Background(), cand, ref)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestComparator_DirsSymlinkCycleNotFollowed(t *testing.T) {
	ref := t.TempDir()
	cand := t.TempDir()
	require.NoError(t, os.Symlink(".", filepath.Join(ref, "self")))
	require.NoError(t, os.Symlink(".", filepath.Join(cand, "self")))

	got, err := newComparator(t).Dirs(context.Background(), cand, ref)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestComparator_DirsEmpty(t *testing.T) {
	got, err := newComparator(t).Dirs(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestComparator_DirsMissingReference(t *testing.T) {
	got, err := newComparator(t).Dirs(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestComparator_DirsStopsAtFirstDivergence(t *testing.T) {
	tests := []struct {
		name     string
		cand     map[string]string
		ref      map[string]string
		wantSeen []string
	}{
		{
			name:     "reference has extra leaf",
			cand:     map[string]string{"a": "a"},
			ref:      map[string]string{"a": "a", "b": "b", "c": "c", "d/e": "e"},
			wantSeen: []string{"a", "b"},
		},
		{
			name:     "renamed leaf",
			cand:     map[string]string{"a": "a", "b": "b", "c": "c", "d": "d"},
			ref:      map[string]string{"a": "a", "bb": "b", "c": "c", "d": "d"},
			wantSeen: []string{"a", "bb"},
		},
		{
			name:     "reference is empty",
			cand:     map[string]string{"a": "a"},
			ref:      map[string]string{},
			wantSeen: nil,
		},
		{
			name:     "reference is shorter",
			cand:     map[string]string{"a": "a", "b": "b"},
			ref:      map[string]string{"a": "a"},
			wantSeen: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := t.TempDir()
			ref := t.TempDir()
			writeTree(t, cand, tt.cand)
			writeTree(t, ref, tt.ref)

			var seen []string
			c := newComparator(t)
			c.onReferenceLeaf = func(l Leaf) { seen = append(seen, l.Rel) }

			same, err := c.Dirs(context.Background(), cand, ref)
			require.NoError(t, err)
			assert.False(t, same)
			assert.Equal(t, tt.wantSeen, seen)
		})
	}
}

func TestComparator_DirsCancelled(t *testing.T) {
	ref := t.TempDir()
	cand := t.TempDir()
	writeTree(t, ref, map[string]string{"a": "a"})
	writeTree(t, cand, map[string]string{"a": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newComparator(t).Dirs(ctx, cand, ref)
	assert.True(t, snaperrors.Is(err, snaperrors.KindCancelled), "got %v", err)
}

func TestComparator_Files(t *testing.T) {
	big := make([]byte, 3*chunkSize+17)
	for i := range big {
		big[i] = byte(i % 251)
	}
	bigChanged := append([]byte(nil), big...)
	bigChanged[len(bigChanged)-1] ^= 0xFF

	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{name: "equal", a: []byte("notes"), b: []byte("notes"), want: true},
		{name: "both empty", a: nil, b: nil, want: true},
		{name: "different size", a: []byte("notes"), b: []byte("notes!"), want: false},
		{name: "same size different bytes", a: []byte("abc"), b: []byte("abd"), want: false},
		{name: "large equal", a: big, b: big, want: true},
		{name: "large differs at end", a: big, b: bigChanged, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			a := filepath.Join(dir, "a")
			b := filepath.Join(dir, "b")
			require.NoError(t, os.WriteFile(a, tt.a, 0o644))
			require.NoError(t, os.WriteFile(b, tt.b, 0o644))

			got, err := newComparator(t).Files(context.Background(), a, b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComparator_FilesMissing(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))

	got, err := newComparator(t).Files(context.Background(), a, filepath.Join(dir, "none"))
	require.NoError(t, err)
	assert.False(t, got)

	_, err = newComparator(t).Files(context.Background(), filepath.Join(dir, "none"), a)
	assert.True(t, snaperrors.Is(err, snaperrors.KindNotFound))
}
