package snapshot

import (
	"time"

	"github.com/cockroachdb/errors"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

// Kind distinguishes directory archives from single-file backups.
type Kind string

const (
	KindArchive Kind = "archive"
	KindBackup  Kind = "backup"
)

// Snapshot is an archive or backup artifact on disk. It is immutable once
// created except for attached verification results.
type Snapshot struct {
	// Name is the file name, without directory.
	Name string `json:"name"`

	// Path is the location of the artifact.
	Path string `json:"path"`

	Kind Kind `json:"kind"`

	// CreatedAt has full precision when read from a manifest and minute
	// resolution when only the name is available.
	CreatedAt time.Time `json:"created_at"`

	// Source is the archived directory or backed-up file, when known.
	Source string `json:"source,omitempty"`

	Prefix string `json:"prefix,omitempty"`
	Branch string `json:"branch,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Note   string `json:"note,omitempty"`

	// IsIncremental marks an archive holding only files changed since
	// BaseSnapshot was created.
	IsIncremental bool   `json:"incremental,omitempty"`
	BaseSnapshot  string `json:"base,omitempty"`

	Verification *VerificationStatus `json:"verification,omitempty"`
}

// VerificationStatus is the result of verifying an archive.
type VerificationStatus struct {
	VerifiedAt        time.Time `json:"verified_at"`
	IsVerified        bool      `json:"is_verified"`
	ChecksumsVerified bool      `json:"checksums_verified"`
	Errors            []string  `json:"errors,omitempty"`
}

// Err returns a KindVerificationFailed error when the archive did not
// verify, and nil otherwise.
func (v *VerificationStatus) Err() error {
	if v == nil || v.IsVerified {
		return nil
	}
	var cause error
	switch len(v.Errors) {
	case 0:
		cause = errors.New("archive failed verification")
	case 1:
		cause = errors.New(v.Errors[0])
	default:
		cause = errors.Newf("%s (and %d more)", v.Errors[0], len(v.Errors)-1)
	}
	return snaperrors.E(snaperrors.KindVerificationFailed, "verify", "", cause)
}

// Status is the result class of a create operation.
type Status string

const (
	// StatusCreated means a new artifact was written.
	StatusCreated Status = "created"
	// StatusIdentical means the source matched the latest snapshot and
	// nothing was written. It is not an error.
	StatusIdentical Status = "identical"
)

// Outcome is what a builder returns on success.
type Outcome struct {
	Status Status `json:"status"`

	// Path is the new artifact, or the existing identical one.
	Path string `json:"path"`

	Snapshot *Snapshot `json:"snapshot,omitempty"`

	// Verification is set when verification ran as part of creation.
	Verification *VerificationStatus `json:"verification,omitempty"`
}

// Err returns a KindIdenticalContent error for an identical outcome and nil
// otherwise. It is for callers that branch on error kinds; an identical
// outcome is still a success.
func (o *Outcome) Err() error {
	if o == nil || o.Status != StatusIdentical {
		return nil
	}
	return snaperrors.E(snaperrors.KindIdenticalContent, "", o.Path, errors.New("source matches latest snapshot"))
}

// Clock abstracts time retrieval so names are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
