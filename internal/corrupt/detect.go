package corrupt

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"slices"

	"github.com/klauspost/compress/flate"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/snapshot"
)

// Finding is one detected problem.
type Finding struct {
	Type Type `json:"type"`

	// Offset is where the problem was found.
	Offset int64 `json:"offset"`

	Detail string `json:"detail"`
}

// Report is the result of inspecting one file.
type Report struct {
	Path     string    `json:"path"`
	Findings []Finding `json:"findings"`
}

// Types returns the distinct finding types in detection order.
func (r *Report) Types() []Type {
	var types []Type
	for _, f := range r.Findings {
		if !slices.Contains(types, f.Type) {
			types = append(types, f.Type)
		}
	}
	return types
}

// Has reports whether any finding is of type t.
func (r *Report) Has(t Type) bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Type == t })
}

// Fatal reports whether any finding leaves the container unreadable.
func (r *Report) Fatal() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Type.Fatal() })
}

// Clean reports whether nothing was found.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// Detect inspects the zip file at path and classifies any damage. The error
// is non-nil only when the file cannot be read.
func Detect(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, snaperrors.Classify("corrupt.detect", path, err)
	}
	r := Inspect(data)
	r.Path = path
	return r, nil
}

// Inspect classifies damage in an in-memory zip file.
func Inspect(data []byte) *Report {
	r := &Report{}
	add := func(t Type, off int64, format string, args ...any) {
		r.Findings = append(r.Findings, Finding{Type: t, Offset: off, Detail: fmt.Sprintf(format, args...)})
	}
	size := int64(len(data))

	p := findEnd(data)
	if p < 0 {
		p = findDamagedEnd(data)
		if p < 0 {
			add(TypeTruncation, size, "end of central directory record missing")
			return r
		}
		add(TypeSignature, p, "end of central directory signature damaged")
	}

	commentLen := int64(le16(data, p+20))
	if p+endLen+commentLen > size {
		add(TypeTruncation, size, "archive comment runs %d bytes past end of file", p+endLen+commentLen-size)
		return r
	}
	if commentLen > 0 && !snapshot.ValidComment(string(data[p+endLen:p+endLen+commentLen])) {
		add(TypeComment, p+endLen, "archive comment checksum mismatch")
	}

	count := int(le16(data, p+10))
	cdSize := int64(le32(data, p+12))
	cdOffset := int64(le32(data, p+16))
	if cdOffset+cdSize > p {
		add(TypeCentralDirectory, cdOffset, "central directory extends past end record")
		return r
	}

	off := cdOffset
	for i := 0; i < count; i++ {
		if off+centralLen > p || le32(data, off) != sigCentral {
			add(TypeCentralDirectory, off, "central directory record %d signature damaged", i)
			return r
		}
		nameLen := int64(le16(data, off+28))
		extraLen := int64(le16(data, off+30))
		entryCommentLen := int64(le16(data, off+32))
		if off+centralLen+nameLen > p {
			add(TypeCentralDirectory, off, "central directory record %d overruns", i)
			return r
		}
		e := entry{
			cdOffset:    off,
			name:        data[off+centralLen : off+centralLen+nameLen],
			flags:       le16(data, off+8),
			method:      le16(data, off+10),
			crc:         le32(data, off+16),
			compSize:    int64(le32(data, off+20)),
			localOffset: int64(le32(data, off+42)),
		}
		inspectEntry(data, cdOffset, e, add)
		off += centralLen + nameLen + extraLen + entryCommentLen
	}
	return r
}

// findDamagedEnd looks for a record that has every property of the end of
// central directory record except its signature.
func findDamagedEnd(data []byte) int64 {
	size := int64(len(data))
	last := size - endLen
	stop := max(last-maxCommentLen, 0)
	for p := last; p >= stop; p-- {
		if le16(data, p+4) != 0 || le16(data, p+6) != 0 {
			continue
		}
		count := le16(data, p+10)
		if le16(data, p+8) != count {
			continue
		}
		cdSize := int64(le32(data, p+12))
		cdOffset := int64(le32(data, p+16))
		if cdOffset+cdSize != p || int64(le16(data, p+20)) != size-p-endLen {
			continue
		}
		if count > 0 && le32(data, cdOffset) != sigCentral {
			continue
		}
		return p
	}
	return -1
}

func inspectEntry(data []byte, limit int64, e entry, add func(Type, int64, string, ...any)) {
	lo := e.localOffset
	if lo+localLen > limit || le32(data, lo) != sigLocal {
		add(TypeLocalHeader, lo, "local header of %q damaged", e.name)
		return
	}

	nameLen := int64(le16(data, lo+26))
	extraLen := int64(le16(data, lo+28))
	start := lo + localLen + nameLen + extraLen
	end := start + e.compSize
	if end > limit {
		add(TypeLocalHeader, lo, "entry %q overruns central directory", e.name)
		return
	}
	if !bytes.Equal(data[lo+localLen:lo+localLen+nameLen], e.name) {
		add(TypeEntryHeader, e.cdOffset+centralLen, "entry name %q differs from local header", e.name)
	}

	// The data descriptor (or local header) CRC is the reference; the
	// central directory copy is what a checksum injection damages.
	var crc uint32
	if e.flags&flagDescriptor != 0 {
		d := end
		if d+4 <= limit && le32(data, d) == sigDescriptor {
			d += 4
		}
		if d+4 > limit {
			add(TypeLocalHeader, end, "data descriptor of %q missing", e.name)
			return
		}
		crc = le32(data, d)
	} else {
		crc = le32(data, lo+14)
	}
	if e.crc != crc {
		add(TypeChecksum, e.cdOffset+16, "central directory CRC of %q is %08x, data descriptor has %08x", e.name, e.crc, crc)
	}

	var payload io.Reader = bytes.NewReader(data[start:end])
	switch e.method {
	case 0:
	case 8:
		fr := flate.NewReader(payload)
		defer fr.Close()
		payload = fr
	default:
		return
	}
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, payload); err != nil {
		add(TypePayload, start, "inflating %q: %v", e.name, err)
		return
	}
	if h.Sum32() != crc {
		add(TypePayload, start, "data CRC of %q is %08x, expected %08x", e.name, h.Sum32(), crc)
	}
}
