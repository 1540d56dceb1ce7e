package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"github.com/thoreinstein/snap/internal/compare"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/resource"
	"github.com/thoreinstein/snap/internal/snapshot"
	"github.com/thoreinstein/snap/pkg/fileutil"
)

const op = "backup.create"

// Builder backs up single files into a mirrored directory tree.
type Builder struct {
	backupDir  string
	sourceRoot string
	clock      snapshot.Clock
	logger     *slog.Logger

	// test hook
	beforeCommit func()
}

// Option configures a Builder.
type Option func(*Builder)

// WithSourceRoot sets the root whose layout is mirrored under the backup
// directory. Empty means the working directory at the time of each call.
func WithSourceRoot(dir string) Option {
	return func(b *Builder) {
		b.sourceRoot = dir
	}
}

// WithClock sets the time source for backup names.
func WithClock(c snapshot.Clock) Option {
	return func(b *Builder) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a Builder that writes under backupDir.
func NewBuilder(backupDir string, opts ...Option) *Builder {
	b := &Builder{
		backupDir: backupDir,
		clock:     snapshot.RealClock{},
		logger:    logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create backs up req.Source. When the file matches its newest backup the
// outcome is StatusIdentical and nothing is written. The copy keeps the
// source's permission bits and modification time.
func (b *Builder) Create(ctx context.Context, req Request) (out *snapshot.Outcome, err error) {
	logger := logging.WithOp(b.logger, op).With("source", req.Source)
	res := resource.NewManager(resource.WithLogger(logger))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic", "panic", r, "stack", string(debug.Stack()))
			out, err = nil, snaperrors.FromPanic(op, req.Source, r)
		}
		res.Cleanup()
	}()

	out, err = b.create(ctx, logger, res, req)
	if err != nil {
		logger.Debug("backup failed", "error", err)
		return nil, snaperrors.Classify(op, req.Source, err)
	}
	return out, nil
}

func (b *Builder) create(ctx context.Context, logger *slog.Logger, res *resource.Manager, req Request) (*snapshot.Outcome, error) {
	src, info, err := validateSource(req.Source)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := b.dirFor(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		kind := snaperrors.KindDirectoryCreationFailed
		if snaperrors.IsDiskFull(err) {
			kind = snaperrors.KindDiskFull
		}
		return nil, snaperrors.E(kind, op, dir, errors.Wrap(err, "creating backup directory"))
	}

	prior, err := snapshot.ListBackups(dir, src)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		latest := prior[0]
		same, err := compare.New(nil, compare.WithLogger(logger)).Files(ctx, src, latest.Path)
		if err != nil {
			return nil, err
		}
		if same {
			logger.Info("source identical to latest backup", "backup", latest.Path)
			return &snapshot.Outcome{Status: snapshot.StatusIdentical, Path: latest.Path, Snapshot: latest}, nil
		}
	}

	now := b.clock.Now()
	name, err := snapshot.NextFreeName(dir, func(seq int) string {
		return snapshot.BackupName(src, now, seq, req.Note)
	})
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	logger = logger.With("backup", path)

	w := fileutil.NewAtomicWriter(res)
	staged, err := w.Stage(ctx, path, info.Mode().Perm(), func(out io.Writer) error {
		return copyFrom(ctx, out, src)
	})
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime()
	if err := os.Chtimes(staged.TempPath(), mtime, mtime); err != nil {
		return nil, snaperrors.Classify(op, staged.TempPath(), errors.Wrap(err, "setting modification time"))
	}

	if b.beforeCommit != nil {
		b.beforeCommit()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := staged.Commit(); err != nil {
		return nil, err
	}

	logger.Info("backup created", "size", info.Size())

	snap := &snapshot.Snapshot{
		Name:      name,
		Path:      path,
		Kind:      snapshot.KindBackup,
		CreatedAt: now,
		Source:    src,
		Note:      snapshot.Sanitize(req.Note),
	}
	return &snapshot.Outcome{Status: snapshot.StatusCreated, Path: path, Snapshot: snap}, nil
}

// List returns the backups of source, newest first.
func (b *Builder) List(source string) ([]*snapshot.Snapshot, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return nil, snaperrors.Classify("backup.list", source, err)
	}
	dir, err := b.dirFor(src)
	if err != nil {
		return nil, err
	}
	return snapshot.ListBackups(dir, src)
}

// Dir returns the directory that holds backups of source.
func (b *Builder) Dir(source string) (string, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return "", snaperrors.Classify("backup.dir", source, err)
	}
	return b.dirFor(src)
}

func (b *Builder) dirFor(src string) (string, error) {
	root := b.sourceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", snaperrors.Classify(op, "", errors.Wrap(err, "resolving source root"))
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", snaperrors.Classify(op, root, err)
	}
	backupDir, err := filepath.Abs(b.backupDir)
	if err != nil {
		return "", snaperrors.E(snaperrors.KindDirectoryCreationFailed, op, b.backupDir, err)
	}
	return MirrorDir(backupDir, root, src), nil
}

func validateSource(source string) (string, os.FileInfo, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return "", nil, snaperrors.Classify(op, source, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", nil, snaperrors.Classify(op, src, err)
	}
	if !info.Mode().IsRegular() {
		return "", nil, snaperrors.E(snaperrors.KindInvalidType, op, src, errors.New("source is not a regular file"))
	}
	return src, info, nil
}

// copyFrom streams src into out, checking ctx between chunks.
func copyFrom(ctx context.Context, out io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return snaperrors.Classify(op, src, err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return errors.Wrap(err, "writing backup")
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return snaperrors.Classify(op, src, errors.Wrap(rerr, "reading source"))
		}
	}
}
