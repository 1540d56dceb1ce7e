// Package verify checks archive integrity.
//
// Verification has two levels. The structural check opens the zip central
// directory and locates every entry's local header and data without
// decompressing anything. The optional checksum check recomputes each
// entry's digest and compares it with the sidecar manifest. A structural
// failure skips the checksum check. A missing manifest leaves
// ChecksumsVerified false without failing the archive.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
	"github.com/thoreinstein/snap/internal/snapshot"
)

const op = "verify"

// DefaultWorkers is the default checksum concurrency.
const DefaultWorkers = 4

// Verifier checks archives. It is safe for concurrent use.
type Verifier struct {
	workers int
	clock   snapshot.Clock
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWorkers sets how many entries are hashed in parallel.
func WithWorkers(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithClock sets the time source for VerifiedAt.
func WithClock(c snapshot.Clock) Option {
	return func(v *Verifier) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		workers: DefaultWorkers,
		clock:   snapshot.RealClock{},
		logger:  logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the archive at path. Integrity problems are reported in the
// returned status, not as an error. The error is non-nil only when the
// archive does not exist or cannot be accessed, or ctx is done.
func (v *Verifier) Verify(ctx context.Context, path string, withChecksums bool) (*snapshot.VerificationStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, snaperrors.Classify(op, path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, snaperrors.Classify(op, path, err)
	}

	logger := logging.WithOp(v.logger, op).With("archive", path)
	status := &snapshot.VerificationStatus{VerifiedAt: v.clock.Now()}

	zr, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		status.Errors = append(status.Errors, fmt.Sprintf("structure: %v", err))
		logger.Debug("archive structure invalid", "error", err)
		return status, nil
	}
	defer zr.Close()

	if structural := v.checkStructure(ctx, zr, err); len(structural) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, snaperrors.Classify(op, path, err)
		}
		status.Errors = structural
		logger.Debug("archive structure invalid", "errors", len(structural))
		return status, nil
	}
	status.IsVerified = true

	if !withChecksums {
		return status, nil
	}

	manifest, err := snapshot.ReadManifest(path)
	if err != nil {
		if snaperrors.Is(err, snaperrors.KindNotFound) {
			logger.Debug("no manifest, checksums not verified")
			return status, nil
		}
		status.IsVerified = false
		status.Errors = append(status.Errors, fmt.Sprintf("manifest: %v", err))
		return status, nil
	}

	mismatches, err := v.checkDigests(ctx, zr, manifest)
	if err != nil {
		return nil, snaperrors.Classify(op, path, err)
	}
	if len(mismatches) > 0 {
		status.IsVerified = false
		status.Errors = mismatches
		logger.Debug("checksum mismatch", "errors", len(mismatches))
		return status, nil
	}
	status.ChecksumsVerified = true
	return status, nil
}

func (v *Verifier) checkStructure(ctx context.Context, zr *zip.ReadCloser, openErr error) []string {
	var errs []string
	if openErr != nil {
		errs = append(errs, fmt.Sprintf("structure: %v", openErr))
	}
	for _, f := range zr.File {
		if ctx.Err() != nil {
			return append(errs, "cancelled")
		}
		if _, err := f.DataOffset(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: local header: %v", f.Name, err))
		}
	}
	return errs
}

// checkDigests hashes every entry with bounded concurrency and returns the
// sorted list of discrepancies against manifest.
func (v *Verifier) checkDigests(ctx context.Context, zr *zip.ReadCloser, manifest *snapshot.Manifest) ([]string, error) {
	alg := manifest.Algorithm
	if alg == "" {
		alg = snapshot.DefaultAlgorithm
	}
	if !alg.Available() {
		return []string{fmt.Sprintf("manifest: unsupported algorithm %q", alg)}, nil
	}

	var (
		mu   sync.Mutex
		errs []string
		seen = make(map[string]bool, len(zr.File))
	)
	report := func(format string, args ...any) {
		mu.Lock()
		errs = append(errs, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		seen[f.Name] = true
		want, ok := manifest.Entries[f.Name]
		if !ok {
			report("%s: not in manifest", f.Name)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got, err := entryDigest(f, alg)
			if err != nil {
				report("%s: %v", f.Name, err)
				return nil
			}
			if got != want {
				report("%s: checksum mismatch: want %s, got %s", f.Name, want, got)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for name := range manifest.Entries {
		if !seen[name] {
			report("%s: missing from archive", name)
		}
	}

	slices.Sort(errs)
	return errs, nil
}

func entryDigest(f *zip.File, alg digest.Algorithm) (digest.Digest, error) {
	rc, err := f.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening entry")
	}
	defer rc.Close()

	d := alg.Digester()
	if _, err := io.Copy(d.Hash(), rc); err != nil {
		return "", errors.Wrap(err, "reading entry")
	}
	return d.Digest(), nil
}
