// Package compare decides whether a candidate directory or file is
// content-identical to a reference snapshot.
package compare

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
)

const chunkSize = 32 * 1024

// errDiverged stops a reference walk once the trees are known to differ.
var errDiverged = errors.New("trees diverged")

// Comparator compares trees and files. The zero value is not usable; use
// New.
type Comparator struct {
	matcher *Matcher
	logger  *slog.Logger

	// onReferenceLeaf, when set, sees every reference leaf Dirs visits.
	onReferenceLeaf func(Leaf)
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Comparator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Comparator that applies matcher to both sides of every
// directory comparison. A nil matcher excludes nothing.
func New(matcher *Matcher, opts ...Option) *Comparator {
	c := &Comparator{matcher: matcher, logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dirs reports whether candidate and reference contain the same non-excluded
// leaves with the same contents. Directories that hold no leaves do not
// count, so empty directories compare equal. Symlinks compare by target.
// A missing reference yields false with no error.
func (c *Comparator) Dirs(ctx context.Context, candidate, reference string) (bool, error) {
	const op = "compare.dirs"

	if _, err := os.Lstat(reference); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, snaperrors.Classify(op, reference, err)
	}

	cand, err := c.matcher.Leaves(ctx, candidate)
	if err != nil {
		return false, snaperrors.Classify(op, candidate, err)
	}

	// The reference is walked in step with cand and abandoned at the first
	// structural difference.
	ref := make([]Leaf, 0, len(cand))
	err = c.matcher.Walk(ctx, reference, func(l Leaf) error {
		if c.onReferenceLeaf != nil {
			c.onReferenceLeaf(l)
		}
		i := len(ref)
		if i >= len(cand) {
			c.logger.Debug("reference has extra leaves", "reference", l.Rel)
			return errDiverged
		}
		if cand[i].Rel != l.Rel || cand[i].IsSymlink() != l.IsSymlink() {
			c.logger.Debug("tree structure differs", "candidate", cand[i].Rel, "reference", l.Rel)
			return errDiverged
		}
		ref = append(ref, l)
		return nil
	})
	if errors.Is(err, errDiverged) {
		return false, nil
	}
	if err != nil {
		return false, snaperrors.Classify(op, reference, err)
	}
	if len(ref) != len(cand) {
		c.logger.Debug("leaf count differs", "candidate", len(cand), "reference", len(ref))
		return false, nil
	}

	for i := range cand {
		if err := ctx.Err(); err != nil {
			return false, snaperrors.Classify(op, candidate, err)
		}
		same, err := leafEqual(cand[i], ref[i])
		if err != nil {
			return false, snaperrors.Classify(op, cand[i].Path, err)
		}
		if !same {
			c.logger.Debug("content differs", "path", cand[i].Rel)
			return false, nil
		}
	}
	return true, nil
}

// Files reports whether candidate and reference have identical bytes. A
// missing reference yields false with no error.
func (c *Comparator) Files(ctx context.Context, candidate, reference string) (bool, error) {
	const op = "compare.files"

	if err := ctx.Err(); err != nil {
		return false, snaperrors.Classify(op, candidate, err)
	}
	refInfo, err := os.Stat(reference)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, snaperrors.Classify(op, reference, err)
	}
	candInfo, err := os.Stat(candidate)
	if err != nil {
		return false, snaperrors.Classify(op, candidate, err)
	}
	if candInfo.Size() != refInfo.Size() {
		return false, nil
	}

	same, err := contentEqual(ctx, candidate, reference)
	if err != nil {
		return false, snaperrors.Classify(op, candidate, err)
	}
	return same, nil
}

func leafEqual(a, b Leaf) (bool, error) {
	if a.IsSymlink() {
		ta, err := os.Readlink(a.Path)
		if err != nil {
			return false, err
		}
		tb, err := os.Readlink(b.Path)
		if err != nil {
			return false, err
		}
		return ta == tb, nil
	}

	ia, err := a.Entry.Info()
	if err != nil {
		return false, err
	}
	ib, err := b.Entry.Info()
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	return contentEqual(context.Background(), a.Path, b.Path)
}

// contentEqual compares two files chunk by chunk and stops at the first
// differing chunk.
func contentEqual(ctx context.Context, pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		endA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		endB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !endA {
			return false, errA
		}
		if errB != nil && !endB {
			return false, errB
		}
		if endA || endB {
			return endA == endB, nil
		}
	}
}
