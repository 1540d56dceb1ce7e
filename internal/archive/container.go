package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/opencontainers/go-digest"

	"github.com/thoreinstein/snap/internal/compare"
)

// writeContainer streams the leaves selected by include into a zip archive
// on out and records the digest of every entry in entries. ctx is checked
// before each file.
func (b *Builder) writeContainer(ctx context.Context, out io.Writer, m *compare.Matcher, root, comment string, include func(compare.Leaf, fs.FileInfo) bool, entries map[string]digest.Digest) error {
	zw := zip.NewWriter(out)

	err := m.Walk(ctx, root, func(leaf compare.Leaf) error {
		info, err := leaf.Entry.Info()
		if err != nil {
			return errors.Wrapf(err, "stat %s", leaf.Rel)
		}
		if include != nil && !include(leaf, info) {
			return nil
		}

		d, err := b.addEntry(zw, leaf, info)
		if err != nil {
			return err
		}
		entries[leaf.Rel] = d

		if b.afterEntry != nil {
			b.afterEntry(leaf.Rel)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := zw.SetComment(comment); err != nil {
		return errors.Wrap(err, "setting archive comment")
	}
	return errors.Wrap(zw.Close(), "finishing archive")
}

func (b *Builder) addEntry(zw *zip.Writer, leaf compare.Leaf, info fs.FileInfo) (digest.Digest, error) {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return "", errors.Wrapf(err, "header for %s", leaf.Rel)
	}
	hdr.Name = leaf.Rel
	hdr.Modified = info.ModTime()

	digester := b.algorithm.Digester()

	if leaf.IsSymlink() {
		target, err := os.Readlink(leaf.Path)
		if err != nil {
			return "", errors.Wrapf(err, "reading link %s", leaf.Rel)
		}
		hdr.Method = zip.Store
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return "", errors.Wrapf(err, "adding %s", leaf.Rel)
		}
		if _, err := io.WriteString(io.MultiWriter(w, digester.Hash()), target); err != nil {
			return "", errors.Wrapf(err, "writing %s", leaf.Rel)
		}
		return digester.Digest(), nil
	}

	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", errors.Wrapf(err, "adding %s", leaf.Rel)
	}
	f, err := os.Open(leaf.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(io.MultiWriter(w, digester.Hash()), f); err != nil {
		return "", errors.Wrapf(err, "writing %s", leaf.Rel)
	}
	return digester.Digest(), nil
}

// Extract unpacks the archive at path into dest, which must exist. Entry
// names that would escape dest are rejected. Symlinks are recreated as
// links and never followed: an entry below an extracted link is an error,
// and all writes go through an os.Root so no link can lead outside dest.
func Extract(ctx context.Context, path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return errors.Wrap(err, "opening archive")
	}
	defer zr.Close()

	root, err := os.OpenRoot(dest)
	if err != nil {
		return errors.Wrap(err, "opening destination")
	}
	defer root.Close()

	links := map[string]bool{}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractEntry(root, f, links); err != nil {
			return err
		}
	}
	return nil
}

// throughLink reports whether name is, or lies below, an entry in links.
func throughLink(name string, links map[string]bool) bool {
	for p := name; p != "." && p != "/"; p = path.Dir(p) {
		if links[p] {
			return true
		}
	}
	return false
}

func extractEntry(root *os.Root, f *zip.File, links map[string]bool) error {
	name := strings.TrimSuffix(f.Name, "/")
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return errors.Newf("archive entry %q escapes destination", f.Name)
	}
	if throughLink(name, links) {
		return errors.Newf("archive entry %q is below a symlink", f.Name)
	}
	target := filepath.FromSlash(name)
	mode := f.Mode()

	if mode.IsDir() {
		return errors.Wrapf(root.MkdirAll(target, 0o755), "creating %s", f.Name)
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating parent of %s", f.Name)
		}
	}

	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening entry %s", f.Name)
	}
	defer rc.Close()

	if mode&fs.ModeSymlink != 0 {
		link, err := io.ReadAll(rc)
		if err != nil {
			return errors.Wrapf(err, "reading entry %s", f.Name)
		}
		links[name] = true
		return errors.Wrapf(root.Symlink(string(link), target), "creating link %s", f.Name)
	}

	perm := mode.Perm() | 0o200
	out, err := root.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "creating %s", f.Name)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errors.Wrapf(err, "extracting %s", f.Name)
	}
	return errors.Wrapf(out.Close(), "closing %s", f.Name)
}
