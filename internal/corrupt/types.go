package corrupt

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// Type is a class of container damage. Each type targets one structural
// region of a zip file.
type Type string

const (
	// TypeChecksum damages the CRC-32 field of the first central directory
	// record.
	TypeChecksum Type = "checksum"
	// TypeEntryHeader damages the file name of the first central directory
	// record.
	TypeEntryHeader Type = "entry_header"
	// TypeTruncation cuts bytes off the end of the file.
	TypeTruncation Type = "truncation"
	// TypeCentralDirectory damages the signature of the first central
	// directory record.
	TypeCentralDirectory Type = "central_directory"
	// TypeLocalHeader damages the signature of the first local file header.
	TypeLocalHeader Type = "local_header"
	// TypePayload damages the compressed data of the first non-empty entry.
	TypePayload Type = "payload"
	// TypeSignature damages the end of central directory signature.
	TypeSignature Type = "signature"
	// TypeComment damages the archive comment.
	TypeComment Type = "comment"
)

// AllTypes lists every corruption type in detection order.
var AllTypes = []Type{
	TypeSignature,
	TypeTruncation,
	TypeComment,
	TypeCentralDirectory,
	TypeLocalHeader,
	TypeEntryHeader,
	TypeChecksum,
	TypePayload,
}

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !slices.Contains(AllTypes, t) {
		return "", errors.Newf("unknown corruption type %q", s)
	}
	return t, nil
}

// Fatal reports whether damage of this type leaves the container
// unreadable. Other types are recoverable: the container still opens and
// undamaged entries can be read.
func (t Type) Fatal() bool {
	switch t {
	case TypeSignature, TypeCentralDirectory, TypeTruncation:
		return true
	default:
		return false
	}
}

// Config describes one injection.
type Config struct {
	Type Type

	// Seed makes the mutation reproducible.
	Seed int64

	// Size is the number of bytes to damage. Zero derives it from Severity.
	Size int

	// Offset is relative to the start of the targeted region. Nil starts at
	// the region start, or for truncation cuts Size bytes from the end.
	Offset *int

	// Severity in [0, 1] is the fraction of the region to damage when Size
	// is zero. At least one byte is always damaged.
	Severity float64
}

// Record describes an applied injection and holds what is needed to undo it.
type Record struct {
	Type     Type    `json:"type"`
	Seed     int64   `json:"seed"`
	Severity float64 `json:"severity"`

	// Offset is the absolute file offset of the damaged window. For
	// truncation it is the new file length.
	Offset int64 `json:"offset"`

	// Size is the number of bytes damaged or removed.
	Size int `json:"size"`

	// OriginalBytes are the bytes the window held before damage. For
	// truncation they are the removed tail.
	OriginalBytes []byte `json:"original_bytes"`

	Path string `json:"path"`
}
