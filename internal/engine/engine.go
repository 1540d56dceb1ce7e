// Package engine wires the builders, verifier, and corruption tooling
// together from one configuration. It returns structured outcomes and never
// prints.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/thoreinstein/snap/internal/archive"
	"github.com/thoreinstein/snap/internal/backup"
	"github.com/thoreinstein/snap/internal/config"
	"github.com/thoreinstein/snap/internal/corrupt"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/git"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/snapshot"
	"github.com/thoreinstein/snap/internal/verify"
)

// RevisionFunc returns revision-control metadata for a source directory.
type RevisionFunc func(ctx context.Context, dir string) (git.Revision, error)

// ArchiveOptions are the per-call settings of CreateArchive.
type ArchiveOptions struct {
	Note        string
	Incremental bool
	Verify      bool
}

// Engine is the entry point for every snapshot operation.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    snapshot.Clock
	revision RevisionFunc

	archives *archive.Builder
	backups  *backup.Builder
	verifier *verify.Verifier
	injector *corrupt.Injector
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source for snapshot names.
func WithClock(c snapshot.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRevision replaces the git lookup used when include_vcs is set.
func WithRevision(fn RevisionFunc) Option {
	return func(e *Engine) {
		e.revision = fn
	}
}

// New validates cfg and builds an Engine from it.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	const op = "engine.new"

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, snaperrors.E(snaperrors.KindConfig, op, "", errors.Join(errs...))
	}
	alg, err := snapshot.ParseAlgorithm(cfg.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logging.NewDiscard(),
		clock:    snapshot.RealClock{},
		revision: git.Info,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.verifier = verify.New(
		verify.WithWorkers(cfg.VerifyWorkers),
		verify.WithClock(e.clock),
		verify.WithLogger(e.logger),
	)
	e.archives = archive.NewBuilder(cfg.ArchiveDir,
		archive.WithExclude(cfg.Exclude),
		archive.WithAlgorithm(alg),
		archive.WithVerifyOnCreate(cfg.VerifyOnCreate),
		archive.WithClock(e.clock),
		archive.WithLogger(e.logger),
		archive.WithVerifier(e.verifier),
	)
	e.backups = backup.NewBuilder(cfg.BackupDir,
		backup.WithSourceRoot(cfg.SourceRoot),
		backup.WithClock(e.clock),
		backup.WithLogger(e.logger),
	)
	e.injector = corrupt.NewInjector(corrupt.WithLogger(e.logger))
	return e, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// withTimeout applies the configured deadline, if any.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// CreateArchive archives the directory source.
func (e *Engine) CreateArchive(ctx context.Context, source string, opts ArchiveOptions) (*snapshot.Outcome, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	req := archive.Request{
		Source:      source,
		Note:        opts.Note,
		Incremental: opts.Incremental,
		Verify:      opts.Verify,
		Prefix:      e.cfg.Prefix,
	}
	if e.cfg.IncludeVCS && e.revision != nil {
		if abs, err := filepath.Abs(source); err == nil {
			rev, err := e.revision(ctx, abs)
			if err != nil {
				e.logger.Debug("no revision metadata", "source", abs, "error", err)
			} else {
				req.Branch, req.Hash = rev.Branch, rev.Hash
			}
		}
	}
	return e.archives.Create(ctx, req)
}

// CreateBackup backs up the file source.
func (e *Engine) CreateBackup(ctx context.Context, source, note string) (*snapshot.Outcome, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.backups.Create(ctx, backup.Request{Source: source, Note: note})
}

// ListSnapshots lists the archives in dir, newest first. An empty dir means
// the configured archive directory.
func (e *Engine) ListSnapshots(dir string) ([]*snapshot.Snapshot, error) {
	if dir == "" {
		dir = e.cfg.ArchiveDir
	}
	return snapshot.ListSnapshots(dir)
}

// ListBackups lists the backups of source, newest first.
func (e *Engine) ListBackups(source string) ([]*snapshot.Snapshot, error) {
	return e.backups.List(source)
}

// Verify checks the archive at path. The returned error covers only
// failures to perform the check; a damaged archive is reported in the
// status.
func (e *Engine) Verify(ctx context.Context, path string, withChecksums bool) (*snapshot.VerificationStatus, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.verifier.Verify(ctx, path, withChecksums)
}

// ExitCode maps the result of a create operation to a process exit code
// using the configured codes for successful outcomes.
func (e *Engine) ExitCode(out *snapshot.Outcome, err error) int {
	if err != nil {
		return snaperrors.ExitCode(err)
	}
	if out == nil {
		return snaperrors.ExitSuccess
	}
	switch out.Status {
	case snapshot.StatusIdentical:
		return e.cfg.ExitCodes.Identical
	case snapshot.StatusCreated:
		if out.Verification != nil && !out.Verification.IsVerified {
			return snaperrors.ExitSystem
		}
		return e.cfg.ExitCodes.Created
	default:
		return snaperrors.ExitSuccess
	}
}

// InjectCorruption damages the archive at path. The original bytes are kept
// until RestoreCorruption or Close.
func (e *Engine) InjectCorruption(path string, cfg corrupt.Config) (*corrupt.Record, error) {
	return e.injector.Apply(path, cfg)
}

// RestoreCorruption undoes one injected corruption.
func (e *Engine) RestoreCorruption(rec *corrupt.Record) error {
	return e.injector.Restore(rec)
}

// DetectCorruption classifies the damage present in the archive at path.
func (e *Engine) DetectCorruption(path string) ([]corrupt.Type, error) {
	report, err := corrupt.Detect(path)
	if err != nil {
		return nil, err
	}
	return report.Types(), nil
}

// Close restores any corruption still outstanding and removes scratch files.
func (e *Engine) Close() error {
	return e.injector.Close()
}
