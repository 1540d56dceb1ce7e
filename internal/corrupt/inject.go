package corrupt

import (
	"bytes"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/resource"
	"github.com/thoreinstein/snap/pkg/fileutil"
)

// Injector damages zip files deterministically and undoes the damage.
// Before the first mutation of a path it keeps a full copy of the file, so
// Close can restore it even when a record cannot be replayed. It is safe
// for concurrent use.
type Injector struct {
	mu        sync.Mutex
	res       *resource.Manager
	writer    *fileutil.AtomicWriter
	logger    *slog.Logger
	backupDir string
	backups   map[string]string
	records   []*Record
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Injector) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewInjector creates an Injector. Call Close when done.
func NewInjector(opts ...Option) *Injector {
	in := &Injector{
		logger:  logging.NewDiscard(),
		backups: map[string]string{},
	}
	for _, opt := range opts {
		opt(in)
	}
	in.res = resource.NewManager(resource.WithLogger(in.logger))
	in.writer = fileutil.NewAtomicWriter(in.res)
	return in
}

func failed(op, path string, err error) error {
	return snaperrors.E(snaperrors.KindCorruptionInjectionFailed, op, path, err)
}

// Apply damages the file at path as cfg describes and returns the record
// needed to undo it.
func (in *Injector) Apply(path string, cfg Config) (*Record, error) {
	const op = "corrupt.apply"

	if _, err := ParseType(string(cfg.Type)); err != nil {
		return nil, failed(op, path, err)
	}
	if cfg.Severity < 0 || cfg.Severity > 1 || math.IsNaN(cfg.Severity) {
		return nil, failed(op, path, errors.Newf("severity %v outside [0, 1]", cfg.Severity))
	}
	if cfg.Size < 0 {
		return nil, failed(op, path, errors.Newf("negative size %d", cfg.Size))
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, failed(op, path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failed(op, path, err)
	}
	if err := in.backupLocked(path, data, info.Mode().Perm()); err != nil {
		return nil, failed(op, path, err)
	}

	l, err := parseLayout(data)
	if err != nil {
		return nil, failed(op, path, errors.Wrap(err, "parsing archive"))
	}
	start, length, err := l.region(data, cfg.Type)
	if err != nil {
		return nil, failed(op, path, err)
	}

	size := int64(cfg.Size)
	if size == 0 {
		size = max(int64(math.Round(cfg.Severity*float64(length))), 1)
	}

	rec := &Record{Type: cfg.Type, Seed: cfg.Seed, Severity: cfg.Severity, Path: path}

	if cfg.Type == TypeTruncation {
		cut := length - min(size, length)
		if cfg.Offset != nil {
			cut = int64(*cfg.Offset)
		}
		if cut < 0 || cut >= length {
			return nil, failed(op, path, errors.Newf("truncation point %d outside file of %d bytes", cut, length))
		}
		rec.Offset = cut
		rec.Size = int(length - cut)
		rec.OriginalBytes = bytes.Clone(data[cut:])
		data = data[:cut]
	} else {
		rel := int64(0)
		if cfg.Offset != nil {
			rel = int64(*cfg.Offset)
		}
		if rel < 0 || rel >= length {
			return nil, failed(op, path, errors.Newf("offset %d outside %s region of %d bytes", rel, cfg.Type, length))
		}
		size = min(size, length-rel)
		abs := start + rel

		rec.Offset = abs
		rec.Size = int(size)
		rec.OriginalBytes = bytes.Clone(data[abs : abs+size])
		mutate(data[abs:abs+size], cfg.Seed, abs)
	}

	if err := in.writer.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return nil, failed(op, path, err)
	}
	in.records = append(in.records, rec)

	in.logger.Debug("corruption applied",
		"path", path, "type", string(rec.Type), "offset", rec.Offset, "size", rec.Size, "seed", rec.Seed)
	return rec, nil
}

// mutate XORs every byte of window with a non-zero byte drawn from a PCG
// stream seeded by (seed, offset), so every byte is guaranteed to change
// and identical inputs give identical output.
func mutate(window []byte, seed, offset int64) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(offset)))
	for i := range window {
		var k byte
		for k == 0 {
			k = byte(rng.Uint32())
		}
		window[i] ^= k
	}
}

// backupLocked keeps a full copy of path the first time it is damaged.
func (in *Injector) backupLocked(path string, data []byte, perm os.FileMode) error {
	if _, ok := in.backups[path]; ok {
		return nil
	}
	if in.backupDir == "" {
		dir, err := in.res.MkdirTemp("", "snap-corrupt-*")
		if err != nil {
			return err
		}
		in.backupDir = dir
	}
	backup := filepath.Join(in.backupDir, uuid.NewString()+filepath.Ext(path))
	if err := in.writer.WriteFile(backup, data, perm); err != nil {
		return errors.Wrap(err, "backing up original")
	}
	in.backups[path] = backup
	return nil
}

// Restore writes back the bytes rec replaced. Records for the same file
// must be restored in reverse order of application.
func (in *Injector) Restore(rec *Record) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.restoreLocked(rec)
}

func (in *Injector) restoreLocked(rec *Record) error {
	const op = "corrupt.restore"

	info, err := os.Stat(rec.Path)
	if err != nil {
		return failed(op, rec.Path, err)
	}
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return failed(op, rec.Path, err)
	}

	if rec.Type == TypeTruncation {
		if int64(len(data)) != rec.Offset {
			return failed(op, rec.Path, errors.Newf("file is %d bytes, expected truncation at %d", len(data), rec.Offset))
		}
		data = append(data, rec.OriginalBytes...)
	} else {
		end := rec.Offset + int64(len(rec.OriginalBytes))
		if rec.Offset < 0 || end > int64(len(data)) {
			return failed(op, rec.Path, errors.Newf("window [%d, %d) outside file of %d bytes", rec.Offset, end, len(data)))
		}
		copy(data[rec.Offset:end], rec.OriginalBytes)
	}

	if err := in.writer.WriteFile(rec.Path, data, info.Mode().Perm()); err != nil {
		return failed(op, rec.Path, err)
	}
	in.records = slices.DeleteFunc(in.records, func(r *Record) bool { return r == rec })
	in.logger.Debug("corruption restored", "path", rec.Path, "type", string(rec.Type))
	in.dropBackupLocked(rec.Path, data)
	return nil
}

// dropBackupLocked forgets the full copy of path once no records remain and
// the file matches it again.
func (in *Injector) dropBackupLocked(path string, current []byte) {
	backup, ok := in.backups[path]
	if !ok || slices.ContainsFunc(in.records, func(r *Record) bool { return r.Path == path }) {
		return
	}
	original, err := os.ReadFile(backup)
	if err != nil || !bytes.Equal(original, current) {
		return
	}
	delete(in.backups, path)
	if err := os.Remove(backup); err != nil {
		in.logger.Debug("removing full copy", "path", backup, "error", err)
	}
}

// Guard applies cfg to path, runs fn, and restores the file afterwards even
// if fn panics. A panic from fn is re-raised after restoration.
func (in *Injector) Guard(path string, cfg Config, fn func(*Record)) (err error) {
	rec, err := in.Apply(path, cfg)
	if err != nil {
		return err
	}

	defer func() {
		r := recover()
		if rerr := in.Restore(rec); rerr != nil {
			in.logger.Error("restore after guarded run failed", "path", path, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
		if r != nil {
			panic(r)
		}
	}()

	fn(rec)
	return nil
}

// Close restores every outstanding record, newest first, then makes sure
// each damaged file matches its original copy, and removes the copies.
func (in *Injector) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for i := len(in.records) - 1; i >= 0; i-- {
		rec := in.records[i]
		if err := in.restoreLocked(rec); err != nil {
			in.logger.Warn("record restore failed, using full copy", "path", rec.Path, "error", err)
		}
	}
	in.records = nil

	for path, backup := range in.backups {
		keep(in.restoreFromBackupLocked(path, backup))
	}
	in.backups = map[string]string{}

	for _, err := range in.res.Cleanup() {
		keep(failed("corrupt.close", in.backupDir, err))
	}
	in.backupDir = ""
	return firstErr
}

func (in *Injector) restoreFromBackupLocked(path, backup string) error {
	const op = "corrupt.close"

	original, err := os.ReadFile(backup)
	if err != nil {
		return failed(op, path, err)
	}
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, original) {
		return nil
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(backup); err == nil {
		perm = info.Mode().Perm()
	}
	if err := in.writer.WriteFile(path, original, perm); err != nil {
		return failed(op, path, err)
	}
	in.logger.Info("restored from full copy", "path", path)
	return nil
}

// Outstanding returns the records not yet restored.
func (in *Injector) Outstanding() []*Record {
	in.mu.Lock()
	defer in.mu.Unlock()
	return slices.Clone(in.records)
}
