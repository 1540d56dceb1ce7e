package snapshot

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/opencontainers/go-digest"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/pkg/fileutil"
)

// ManifestVersion is the sidecar format version.
const ManifestVersion = 1

// ManifestSuffix is appended to an archive path to form its sidecar path.
const ManifestSuffix = ".manifest.json"

// Manifest is the sidecar metadata of an archive.
type Manifest struct {
	// Version is the manifest format version for forward compatibility.
	Version int `json:"version"`

	Name string `json:"name"`

	// CreatedAt is the full-precision creation time.
	CreatedAt time.Time `json:"created_at"`

	// Source is the absolute path of the archived directory.
	Source string `json:"source"`

	Prefix      string `json:"prefix,omitempty"`
	Incremental bool   `json:"incremental"`
	Base        string `json:"base,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Note        string `json:"note,omitempty"`

	// Algorithm is the digest algorithm used for Entries.
	Algorithm digest.Algorithm `json:"algorithm"`

	// Entries maps each archive entry name to the digest of its content.
	Entries map[string]digest.Digest `json:"entries"`

	Verification *VerificationStatus `json:"verification,omitempty"`
}

// ManifestPath returns the sidecar path for archivePath.
func ManifestPath(archivePath string) string {
	return archivePath + ManifestSuffix
}

// ReadManifest loads the sidecar of archivePath. A missing sidecar is a
// KindNotFound error.
func ReadManifest(archivePath string) (*Manifest, error) {
	const op = "manifest.read"
	path := ManifestPath(archivePath)

	data, err := fileutil.ReadFileLimit(path, fileutil.MaxManifestSize)
	if errors.Is(err, fileutil.ErrFileTooLarge) {
		return nil, snaperrors.E(snaperrors.KindIO, op, path, err)
	}
	if err != nil {
		return nil, snaperrors.Classify(op, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, snaperrors.E(snaperrors.KindIO, op, path, errors.Wrap(err, "decoding manifest"))
	}
	if m.Entries == nil {
		m.Entries = map[string]digest.Digest{}
	}
	return &m, nil
}

// Encode renders the manifest as indented JSON with a trailing newline.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	return append(data, '\n'), nil
}

// Stage writes the sidecar of archivePath to its temp path without
// committing it.
func (m *Manifest) Stage(ctx context.Context, w *fileutil.AtomicWriter, archivePath string) (*fileutil.Staged, error) {
	data, err := m.Encode()
	if err != nil {
		return nil, snaperrors.E(snaperrors.KindInternal, "manifest.stage", ManifestPath(archivePath), err)
	}
	return w.Stage(ctx, ManifestPath(archivePath), 0o644, func(out io.Writer) error {
		_, err := out.Write(data)
		return errors.Wrap(err, "writing manifest")
	})
}

// Write atomically replaces the sidecar of archivePath.
func (m *Manifest) Write(ctx context.Context, w *fileutil.AtomicWriter, archivePath string) error {
	staged, err := m.Stage(ctx, w, archivePath)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Snapshot describes the archive at path using the manifest's metadata.
func (m *Manifest) Snapshot(path string) *Snapshot {
	return &Snapshot{
		Name:          m.Name,
		Path:          path,
		Kind:          KindArchive,
		CreatedAt:     m.CreatedAt,
		Source:        m.Source,
		Prefix:        m.Prefix,
		Branch:        m.Branch,
		Hash:          m.Hash,
		Note:          m.Note,
		IsIncremental: m.Incremental,
		BaseSnapshot:  m.Base,
		Verification:  m.Verification,
	}
}

// AttachVerification records status in the sidecar of archivePath. The
// archive itself is never rewritten.
func AttachVerification(ctx context.Context, w *fileutil.AtomicWriter, archivePath string, status *VerificationStatus) error {
	m, err := ReadManifest(archivePath)
	if err != nil {
		return err
	}
	m.Verification = status
	return m.Write(ctx, w, archivePath)
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
