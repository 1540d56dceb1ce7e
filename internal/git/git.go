// Package git reads revision metadata embedded in archive names.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNotRepository indicates dir is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Revision is the checked-out branch and abbreviated commit hash.
type Revision struct {
	Branch string
	Hash   string
}

// Info returns the revision checked out in the work tree containing dir.
// A detached HEAD reports the branch "HEAD".
func Info(ctx context.Context, dir string) (Revision, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return Revision{}, errors.Wrap(err, "git not found")
	}
	if !IsRepository(ctx, dir) {
		return Revision{}, errors.Wrapf(ErrNotRepository, "%s", dir)
	}

	branch, err := output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Revision{}, errors.Wrap(err, "reading branch")
	}
	hash, err := output(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return Revision{}, errors.Wrap(err, "reading commit hash")
	}
	return Revision{Branch: branch, Hash: hash}, nil
}

// IsRepository reports whether dir is inside a git work tree.
func IsRepository(ctx context.Context, dir string) bool {
	out, err := output(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), msg)
		}
		return "", errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), nil
}
