package backup

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/snapshot"
	"github.com/thoreinstein/snap/internal/testutil"
)

type fixture struct {
	root      string
	backupDir string
	clock     *testutil.StubClock
	builder   *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root:      t.TempDir(),
		backupDir: filepath.Join(t.TempDir(), "backups"),
		clock:     testutil.FixedClock(),
	}
	f.builder = NewBuilder(f.backupDir,
		WithSourceRoot(f.root),
		WithClock(f.clock),
		WithLogger(logging.ForTest(t)),
	)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// filesUnder lists every regular file below dir, relative and slash-separated.
func filesUnder(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.Type().IsRegular() {
			rel, _ := filepath.Rel(dir, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	for _, name := range filesUnder(t, dir) {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "leftover temp file %s", name)
	}
}

func TestBuilder_UnchangedFileTwiceIsIdentical(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "remember the milk\n")
	ctx := context.Background()

	first, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusCreated, first.Status)
	assert.Equal(t, filepath.Join(f.backupDir, "notes=2024-01-15_10-30.txt"), first.Path)
	assert.NoError(t, first.Err())

	f.clock.Advance(5 * time.Minute)
	second, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusIdentical, second.Status)
	assert.Equal(t, first.Path, second.Path)
	assert.True(t, snaperrors.Is(second.Err(), snaperrors.KindIdenticalContent))

	assert.Equal(t, []string{"notes=2024-01-15_10-30.txt"}, filesUnder(t, f.backupDir))
}

func TestBuilder_ChangedFileSameMinute(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "v1")
	ctx := context.Background()

	_, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)

	f.write(t, "notes.txt", "v2")
	out, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusCreated, out.Status)
	assert.Equal(t, "notes=2024-01-15_10-30_2.txt", out.Snapshot.Name)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	list, err := f.builder.List(src)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, out.Path, list[0].Path)
}

func TestBuilder_SameSizeDifferentContent(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "a.txt", "aaaa")
	ctx := context.Background()

	_, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)

	f.write(t, "a.txt", "aaab")
	out, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusCreated, out.Status)
}

func TestBuilder_NoteInName(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "x")

	out, err := f.builder.Create(context.Background(), Request{Source: src, Note: "before edit"})
	require.NoError(t, err)
	assert.Equal(t, "notes=2024-01-15_10-30=before-edit.txt", out.Snapshot.Name)
	assert.Equal(t, "before-edit", out.Snapshot.Note)
	assert.Equal(t, snapshot.KindBackup, out.Snapshot.Kind)
}

func TestBuilder_SiblingDifferingByExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withExt := f.write(t, "notes.txt", "same")
	bare := f.write(t, "notes", "same")

	first, err := f.builder.Create(ctx, Request{Source: withExt, Note: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "notes=2024-01-15_10-30=v1.txt", first.Snapshot.Name)

	out, err := f.builder.Create(ctx, Request{Source: bare})
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusCreated, out.Status, "backup of another file must not count")
	assert.Equal(t, "notes=2024-01-15_10-30", out.Snapshot.Name)

	list, err := f.builder.List(bare)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, out.Path, list[0].Path)
}

func TestBuilder_DotfileHasNoExtension(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, ".bashrc", "alias ll='ls -l'")

	out, err := f.builder.Create(context.Background(), Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t, ".bashrc=2024-01-15_10-30", out.Snapshot.Name)
}

func TestBuilder_MirrorsRelativeDirectory(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "projects/site/config.yaml", "port: 80")

	out, err := f.builder.Create(context.Background(), Request{Source: src})
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(f.backupDir, "projects", "site", "config=2024-01-15_10-30.yaml"),
		out.Path)
}

func TestBuilder_PreservesModeAndModTime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not preserved on Windows")
	}
	f := newFixture(t)
	src := f.write(t, "run.sh", "#!/bin/sh\necho hi\n")
	require.NoError(t, os.Chmod(src, 0o750))
	mtime := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	out, err := f.builder.Create(context.Background(), Request{Source: src})
	require.NoError(t, err)

	info, err := os.Stat(out.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime %v, want %v", info.ModTime(), mtime)
}

func TestBuilder_SourceErrors(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "adir")
	require.NoError(t, os.Mkdir(dir, 0o755))

	tests := []struct {
		name   string
		source string
		kind   snaperrors.Kind
	}{
		{"missing file", filepath.Join(f.root, "nope.txt"), snaperrors.KindNotFound},
		{"directory", dir, snaperrors.KindInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.builder.Create(context.Background(), Request{Source: tt.source})
			require.Error(t, err)
			assert.Equal(t, tt.kind, snaperrors.KindOf(err), "error: %v", err)
			assert.Contains(t, err.Error(), "backup.create")
		})
	}
	assert.Empty(t, filesUnder(t, f.backupDir))
}

func TestBuilder_BackupDirUnderFile(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "x")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	b := NewBuilder(filepath.Join(blocker, "backups"), WithSourceRoot(f.root), WithClock(f.clock))
	_, err := b.Create(context.Background(), Request{Source: src})
	require.Error(t, err)
	assert.Equal(t, snaperrors.KindDirectoryCreationFailed, snaperrors.KindOf(err))
}

func TestBuilder_Cancelled(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.builder.Create(ctx, Request{Source: src})
	require.Error(t, err)
	assert.Equal(t, snaperrors.KindCancelled, snaperrors.KindOf(err))
	assert.Empty(t, filesUnder(t, f.backupDir))
}

func TestBuilder_CancelledBeforeCommit(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	f.builder.beforeCommit = cancel

	_, err := f.builder.Create(ctx, Request{Source: src})
	require.Error(t, err)
	assert.Equal(t, snaperrors.KindCancelled, snaperrors.KindOf(err))
	assert.Empty(t, filesUnder(t, f.backupDir))
}

func TestBuilder_PanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	src := f.write(t, "notes.txt", "v1")
	ctx := context.Background()

	first, err := f.builder.Create(ctx, Request{Source: src})
	require.NoError(t, err)

	f.write(t, "notes.txt", "v2")
	f.builder.beforeCommit = func() { panic("disk on fire") }

	_, err = f.builder.Create(ctx, Request{Source: src})
	require.Error(t, err)
	assert.Equal(t, snaperrors.KindInternal, snaperrors.KindOf(err))
	assert.Contains(t, err.Error(), "disk on fire")

	assertNoTempFiles(t, f.backupDir)
	assert.Equal(t, []string{filepath.Base(first.Path)}, filesUnder(t, f.backupDir))
}

func TestBuilder_ListUnknownSource(t *testing.T) {
	f := newFixture(t)
	list, err := f.builder.List(filepath.Join(f.root, "never.txt"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMirrorDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	tests := []struct {
		name   string
		root   string
		source string
		want   string
	}{
		{"at root", "/home/u", "/home/u/notes.txt", "/b"},
		{"nested", "/home/u", "/home/u/a/b/notes.txt", "/b/a/b"},
		{"outside root", "/home/u", "/etc/hosts", "/b/etc"},
		{"sibling with shared prefix", "/home/u", "/home/user2/x.txt", "/b/home/user2"},
		{"no root", "", "/var/log/app.log", "/b/var/log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MirrorDir("/b", tt.root, tt.source))
		})
	}
}

func TestRelFromRoot(t *testing.T) {
	got := relFromRoot(string(filepath.Separator) + filepath.Join("usr", "local", "bin"))
	assert.Equal(t, filepath.Join("usr", "local", "bin"), got)
	assert.NotContains(t, got, ":")
}
