package archive

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/opencontainers/go-digest"

	"github.com/thoreinstein/snap/internal/compare"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/resource"
	"github.com/thoreinstein/snap/internal/snapshot"
	"github.com/thoreinstein/snap/internal/verify"
	"github.com/thoreinstein/snap/pkg/fileutil"
)

const op = "archive.create"

// Verifier checks a freshly written archive.
type Verifier interface {
	Verify(ctx context.Context, path string, withChecksums bool) (*snapshot.VerificationStatus, error)
}

// Request describes one archive operation.
type Request struct {
	// Source is the directory to archive.
	Source string

	// Note is free text embedded in the name.
	Note string

	// Incremental stores only files modified after the newest full archive
	// of Source was created.
	Incremental bool

	// Verify runs the verifier, with checksums, after creation.
	Verify bool

	// Prefix starts the name. Empty means the base name of Source.
	Prefix string

	// Branch and Hash are revision-control metadata for the name. Both
	// must be set to be embedded.
	Branch string
	Hash   string
}

// Builder creates archives in one directory. A Builder is safe for
// concurrent use; each call owns its own resource.Manager.
type Builder struct {
	archiveDir     string
	exclude        []string
	algorithm      digest.Algorithm
	verifyOnCreate bool
	clock          snapshot.Clock
	logger         *slog.Logger
	verifier       Verifier

	// test hooks
	afterEntry   func(rel string)
	beforeCommit func()
}

// Option configures a Builder.
type Option func(*Builder)

// WithExclude sets the exclusion patterns.
func WithExclude(patterns []string) Option {
	return func(b *Builder) {
		b.exclude = patterns
	}
}

// WithAlgorithm sets the digest algorithm recorded in manifests.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(b *Builder) {
		if alg != "" {
			b.algorithm = alg
		}
	}
}

// WithVerifyOnCreate verifies every archive after creation, as if each
// Request had Verify set.
func WithVerifyOnCreate(v bool) Option {
	return func(b *Builder) {
		b.verifyOnCreate = v
	}
}

// WithClock sets the time source for names and manifests.
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

// WithVerifier replaces the default verifier.
func WithVerifier(v Verifier) Option {
	return func(b *Builder) {
		b.verifier = v
	}
}

// NewBuilder creates a Builder that writes into archiveDir.
func NewBuilder(archiveDir string, opts ...Option) *Builder {
	b := &Builder{
		archiveDir: archiveDir,
		algorithm:  snapshot.DefaultAlgorithm,
		clock:      snapshot.RealClock{},
		logger:     logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.verifier == nil {
		b.verifier = verify.New(verify.WithLogger(b.logger), verify.WithClock(b.clock))
	}
	return b
}

// Create archives req.Source. It returns a StatusIdentical outcome, not an
// error, when the source matches the newest full archive. Every error is a
// classified *errors.Error; panics are recovered and reported as
// KindInternal. Temporary files never outlive the call.
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
		logger.Debug("archive failed", "error", err)
		return nil, snaperrors.Classify(op, req.Source, err)
	}
	return out, nil
}

func (b *Builder) create(ctx context.Context, logger *slog.Logger, res *resource.Manager, req Request) (*snapshot.Outcome, error) {
	src, err := validateSource(req.Source)
	if err != nil {
		return nil, err
	}

	archiveDir, err := filepath.Abs(b.archiveDir)
	if err != nil {
		return nil, snaperrors.E(snaperrors.KindDirectoryCreationFailed, op, b.archiveDir, err)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		kind := snaperrors.KindDirectoryCreationFailed
		if snaperrors.IsDiskFull(err) {
			kind = snaperrors.KindDiskFull
		}
		return nil, snaperrors.E(kind, op, archiveDir, errors.Wrap(err, "creating archive directory"))
	}

	matcher, err := b.matcherFor(src, archiveDir)
	if err != nil {
		return nil, err
	}

	prefix := req.Prefix
	if prefix == "" {
		prefix = filepath.Base(src)
	}
	prefix = snapshot.Sanitize(prefix)

	prior, err := snapshot.LatestFull(archiveDir, src, prefix)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		same, err := b.identicalTo(ctx, logger, res, matcher, src, prior)
		if err != nil {
			return nil, err
		}
		if same {
			logger.Info("source identical to latest archive", "archive", prior.Path)
			return &snapshot.Outcome{Status: snapshot.StatusIdentical, Path: prior.Path, Snapshot: prior}, nil
		}
	}

	var include func(compare.Leaf, fs.FileInfo) bool
	if req.Incremental {
		if prior == nil {
			return nil, snaperrors.E(snaperrors.KindNotFound, op, src, snaperrors.ErrNoBaseSnapshot)
		}
		since := prior.CreatedAt
		logger.Debug("incremental archive", "base", prior.Name, "since", since)
		include = func(_ compare.Leaf, info fs.FileInfo) bool {
			return info.ModTime().After(since)
		}
	}

	now := b.clock.Now()
	parts := snapshot.NameParts{
		Prefix: prefix,
		Time:   now,
		Branch: req.Branch,
		Hash:   req.Hash,
		Note:   req.Note,
	}
	if req.Incremental {
		parts.Base = prior.Name
	}
	name, err := snapshot.NextFreeName(archiveDir, func(seq int) string {
		parts.Seq = seq
		return parts.ArchiveName()
	})
	if err != nil {
		return nil, err
	}
	path := filepath.Join(archiveDir, name)
	logger = logger.With("archive", path)

	manifest := &snapshot.Manifest{
		Version:     snapshot.ManifestVersion,
		Name:        name,
		CreatedAt:   now,
		Source:      src,
		Prefix:      prefix,
		Incremental: req.Incremental,
		Branch:      snapshot.Sanitize(req.Branch),
		Hash:        snapshot.Sanitize(req.Hash),
		Note:        snapshot.Sanitize(req.Note),
		Algorithm:   b.algorithm,
		Entries:     map[string]digest.Digest{},
	}
	if req.Incremental {
		manifest.Base = prior.Name
	}

	w := fileutil.NewAtomicWriter(res)
	comment := snapshot.ArchiveComment(name)

	staged, err := w.Stage(ctx, path, 0o644, func(out io.Writer) error {
		return b.writeContainer(ctx, out, matcher, src, comment, include, manifest.Entries)
	})
	if err != nil {
		return nil, err
	}

	stagedManifest, err := manifest.Stage(ctx, w, path)
	if err != nil {
		return nil, err
	}

	if b.beforeCommit != nil {
		b.beforeCommit()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The manifest lands first. Until the container is renamed the
	// manifest is an orphan, so it stays tracked for cleanup.
	if err := stagedManifest.Commit(); err != nil {
		return nil, err
	}
	res.Register(stagedManifest.Path(), resource.TempFile)
	if err := staged.Commit(); err != nil {
		return nil, err
	}
	res.Release(stagedManifest.Path())

	logger.Info("archive created", "entries", len(manifest.Entries), "incremental", req.Incremental)

	out := &snapshot.Outcome{
		Status:   snapshot.StatusCreated,
		Path:     path,
		Snapshot: manifest.Snapshot(path),
	}

	if req.Verify || b.verifyOnCreate {
		status, err := b.verifier.Verify(ctx, path, true)
		if err != nil {
			return nil, err
		}
		out.Verification = status
		out.Snapshot.Verification = status
		if err := snapshot.AttachVerification(ctx, w, path, status); err != nil {
			logger.Warn("could not record verification result", "error", err)
		}
		if !status.IsVerified {
			logger.Error("archive failed verification", "errors", status.Errors)
		}
	}

	return out, nil
}

func validateSource(source string) (string, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return "", snaperrors.Classify(op, source, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", snaperrors.Classify(op, src, err)
	}
	if !info.IsDir() {
		return "", snaperrors.E(snaperrors.KindInvalidType, op, src, errors.New("source is not a directory"))
	}
	f, err := os.Open(src)
	if err != nil {
		return "", snaperrors.Classify(op, src, err)
	}
	f.Close()
	return src, nil
}

// matcherFor builds the exclusion matcher for one source. An archive
// directory nested inside the source is always excluded.
func (b *Builder) matcherFor(src, archiveDir string) (*compare.Matcher, error) {
	patterns := b.exclude
	if rel, err := filepath.Rel(src, archiveDir); err == nil && filepath.IsLocal(rel) {
		patterns = append(patterns[:len(patterns):len(patterns)], filepath.ToSlash(rel))
	}
	return compare.NewMatcher(patterns)
}

// identicalTo extracts prior into scratch space and compares it with src.
// A prior archive that cannot be read is treated as different.
func (b *Builder) identicalTo(ctx context.Context, logger *slog.Logger, res *resource.Manager, matcher *compare.Matcher, src string, prior *snapshot.Snapshot) (bool, error) {
	scratch, err := res.MkdirTemp("", "snap-compare-*")
	if err != nil {
		return false, snaperrors.Classify(op, os.TempDir(), err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err == nil {
			res.Release(scratch)
		}
	}()

	if err := Extract(ctx, prior.Path, scratch); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logger.Warn("latest archive unreadable, creating a new one", "archive", prior.Path, "error", err)
		return false, nil
	}

	same, err := compare.New(matcher, compare.WithLogger(logger)).Dirs(ctx, src, scratch)
	if err != nil {
		return false, err
	}
	return same, nil
}

// Latest returns the newest archive in the builder's directory, or nil.
func (b *Builder) Latest() (*snapshot.Snapshot, error) {
	snaps, err := snapshot.ListSnapshots(b.archiveDir)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}
